package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"readnest/internal/domain/reading"
	applog "readnest/internal/platform/log"
)

// NoteHandler 笔记 API 处理器
type NoteHandler struct {
	repo reading.Repository
}

// NewNoteHandler 创建处理器
func NewNoteHandler(repo reading.Repository) *NoteHandler {
	return &NoteHandler{repo: repo}
}

// RegisterRoutes 注册路由
func (h *NoteHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/notes", func(r chi.Router) {
		r.Post("/", h.CreateNote)
		r.Get("/", h.ListNotes)
		r.Get("/{id}", h.GetNote)
		r.Put("/{id}", h.UpdateNote)
		r.Delete("/{id}", h.DeleteNote)
	})
}

type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *NoteHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" && req.Content == "" {
		writeError(w, http.StatusBadRequest, "title or content is required")
		return
	}

	note, err := h.repo.CreateNote(r.Context(), identity.UserID, req.Title, req.Content)
	if err != nil {
		applog.Error("[Notes] Create failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create note")
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *NoteHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())

	notes, total, err := h.repo.ListNotes(r.Context(), identity.UserID, paginationFrom(r))
	if err != nil {
		applog.Error("[Notes] List failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notes": notes,
		"total": total,
	})
}

func (h *NoteHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	id := chi.URLParam(r, "id")

	note, err := h.repo.GetNote(r.Context(), id, identity.UserID)
	if errors.Is(err, reading.ErrNotFound) {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get note")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	id := chi.URLParam(r, "id")

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	note, err := h.repo.UpdateNote(r.Context(), id, identity.UserID, req.Title, req.Content)
	if errors.Is(err, reading.ErrNotFound) {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update note")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	id := chi.URLParam(r, "id")

	err := h.repo.DeleteNote(r.Context(), id, identity.UserID)
	if errors.Is(err, reading.ErrNotFound) {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete note")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// paginationFrom 从 query 解析分页参数
func paginationFrom(r *http.Request) reading.ListParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return reading.ListParams{Page: page, PageSize: pageSize}
}
