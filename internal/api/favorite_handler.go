package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"readnest/internal/domain/reading"
	applog "readnest/internal/platform/log"
)

// FavoriteHandler 收藏 API 处理器
type FavoriteHandler struct {
	repo reading.Repository
}

// NewFavoriteHandler 创建处理器
func NewFavoriteHandler(repo reading.Repository) *FavoriteHandler {
	return &FavoriteHandler{repo: repo}
}

// RegisterRoutes 注册路由
func (h *FavoriteHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/favorites", func(r chi.Router) {
		r.Get("/", h.ListFavorites)
		r.Post("/check", h.CheckFavorites)
		r.Put("/{kind}/{target_id}", h.AddFavorite)
		r.Delete("/{kind}/{target_id}", h.RemoveFavorite)
	})
}

func (h *FavoriteHandler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	kind := chi.URLParam(r, "kind")
	targetID := chi.URLParam(r, "target_id")

	err := h.repo.AddFavorite(r.Context(), identity.UserID, kind, targetID)
	if errors.Is(err, reading.ErrInvalidFavoriteKind) {
		writeError(w, http.StatusBadRequest, "kind must be hub or document")
		return
	}
	if err != nil {
		applog.Error("[Favorites] Add failed", "user_id", identity.UserID, "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add favorite")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"kind": kind, "target_id": targetID})
}

func (h *FavoriteHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	kind := chi.URLParam(r, "kind")
	targetID := chi.URLParam(r, "target_id")

	err := h.repo.RemoveFavorite(r.Context(), identity.UserID, kind, targetID)
	if errors.Is(err, reading.ErrInvalidFavoriteKind) {
		writeError(w, http.StatusBadRequest, "kind must be hub or document")
		return
	}
	if errors.Is(err, reading.ErrNotFound) {
		writeError(w, http.StatusNotFound, "favorite not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove favorite")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"kind": kind, "target_id": targetID})
}

func (h *FavoriteHandler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	kind := r.URL.Query().Get("kind")

	favorites, total, err := h.repo.ListFavorites(r.Context(), identity.UserID, kind, paginationFrom(r))
	if errors.Is(err, reading.ErrInvalidFavoriteKind) {
		writeError(w, http.StatusBadRequest, "kind must be hub or document")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list favorites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"favorites": favorites,
		"total":     total,
	})
}

// CheckFavorites 批量检查收藏状态。
// 请求/响应为显式结构体，字段固定，不接受自由格式字典。
func (h *FavoriteHandler) CheckFavorites(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())

	var req reading.CheckFavoritesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.TargetIDs) == 0 {
		writeError(w, http.StatusBadRequest, "target_ids is required")
		return
	}
	if len(req.TargetIDs) > 100 {
		writeError(w, http.StatusBadRequest, "too many target_ids (max 100)")
		return
	}

	resp, err := h.repo.CheckFavorites(r.Context(), identity.UserID, &req)
	if errors.Is(err, reading.ErrInvalidFavoriteKind) {
		writeError(w, http.StatusBadRequest, "kind must be hub or document")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check favorites")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
