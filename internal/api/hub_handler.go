package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	redisdb "readnest/internal/db/redis"
	"readnest/internal/domain/reading"
	applog "readnest/internal/platform/log"
)

// HubHandler 知识广场 API 处理器
type HubHandler struct {
	repo  reading.Repository
	cache *redisdb.HubCache // 可为 nil（无缓存模式）
}

// NewHubHandler 创建处理器
func NewHubHandler(repo reading.Repository, cache *redisdb.HubCache) *HubHandler {
	return &HubHandler{repo: repo, cache: cache}
}

// RegisterRoutes 注册路由
func (h *HubHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/hubs", func(r chi.Router) {
		r.Get("/", h.ListHubs)
		r.Get("/{id}", h.GetHub)
	})
}

func (h *HubHandler) ListHubs(w http.ResponseWriter, r *http.Request) {
	params := paginationFrom(r)
	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	if h.cache != nil {
		if cached, ok := h.cache.Get(r.Context(), page, pageSize); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	hubs, total, err := h.repo.ListHubs(r.Context(), reading.ListParams{Page: page, PageSize: pageSize})
	if err != nil {
		applog.Error("[Hubs] List failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list hubs")
		return
	}

	result := &redisdb.HubFeedPage{Hubs: hubs, Total: total}
	if h.cache != nil {
		h.cache.Set(r.Context(), page, pageSize, result)
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HubHandler) GetHub(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	hub, err := h.repo.GetHub(r.Context(), id)
	if errors.Is(err, reading.ErrNotFound) {
		writeError(w, http.StatusNotFound, "hub not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get hub")
		return
	}
	writeJSON(w, http.StatusOK, hub)
}
