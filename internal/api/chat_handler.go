package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"readnest/internal/domain/conversation"
	applog "readnest/internal/platform/log"
	"readnest/internal/provider"
)

// ChatConfig 对话处理配置
type ChatConfig struct {
	Provider    string        // LLM provider 名称
	Model       string        // 默认模型（会话配置可覆盖）
	Temperature float64       // 默认温度（会话配置可覆盖）
	TurnTimeout time.Duration // 单轮对话超时（含可能的压缩调用）
}

// ChatHandler AI 对话 API 处理器
type ChatHandler struct {
	sessions *conversation.Manager
	config   ChatConfig
}

// NewChatHandler 创建处理器
func NewChatHandler(sessions *conversation.Manager, config ChatConfig) *ChatHandler {
	if config.TurnTimeout <= 0 {
		config.TurnTimeout = 2 * time.Minute
	}
	return &ChatHandler{sessions: sessions, config: config}
}

// RegisterRoutes 注册路由
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/chat/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Delete("/", h.DeleteAllSessions)
		r.Get("/{id}", h.GetSession)
		r.Delete("/{id}", h.DeleteSession)
		r.Patch("/{id}/config", h.UpdateSessionConfig)
		r.Get("/{id}/messages", h.ListMessages)
		r.Post("/{id}/regenerate", h.Regenerate)
	})
	// session_id 为空时自动创建会话
	r.Post("/api/v1/chat/messages", h.SendMessage)
}

type createSessionRequest struct {
	Title  string                 `json:"title"`
	Config map[string]interface{} `json:"config,omitempty"`
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	session, err := h.sessions.Store().CreateSession(r.Context(), identity.UserID, req.Title, req.Config)
	if err != nil {
		applog.Error("[Chat] Create session failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	params := paginationFrom(r)

	result, err := h.sessions.Store().ListSessions(r.Context(), identity.UserID, conversation.ListSessionsParams{
		Page:     params.Page,
		PageSize: params.PageSize,
	})
	if err != nil {
		applog.Error("[Chat] List sessions failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	id := chi.URLParam(r, "id")

	session, err := h.sessions.Store().GetSession(r.Context(), id, identity.UserID)
	if h.handleStoreError(w, err, "failed to get session") {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	id := chi.URLParam(r, "id")

	err := h.sessions.Store().DeleteSession(r.Context(), id, identity.UserID)
	if h.handleStoreError(w, err, "failed to delete session") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *ChatHandler) DeleteAllSessions(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())

	count, err := h.sessions.Store().DeleteAllSessions(r.Context(), identity.UserID)
	if err != nil {
		applog.Error("[Chat] Delete all sessions failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

func (h *ChatHandler) UpdateSessionConfig(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	id := chi.URLParam(r, "id")

	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(patch) == 0 {
		writeError(w, http.StatusBadRequest, "empty config patch")
		return
	}

	session, err := h.sessions.Store().UpdateSessionConfig(r.Context(), id, identity.UserID, patch)
	if h.handleStoreError(w, err, "failed to update session config") {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	id := chi.URLParam(r, "id")

	messages, err := h.sessions.Store().ListMessages(r.Context(), id, identity.UserID)
	if h.handleStoreError(w, err, "failed to list messages") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

type sendMessageRequest struct {
	SessionID string `json:"session_id,omitempty"` // 为空时自动创建会话
	Content   string `json:"content"`
}

type sendMessageResponse struct {
	Session          *conversation.Session `json:"session"`
	UserMessage      *conversation.Message `json:"user_message"`
	AssistantMessage *conversation.Message `json:"assistant_message"`
}

// SendMessage 处理一轮完整对话：
// 入库用户消息 → 按需压缩 → 组装上下文 → 调用 LLM → 入库助手回复。
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.TurnTimeout)
	defer cancel()

	turn, err := h.sessions.BeginTurn(ctx, req.SessionID, identity.UserID, req.Content)
	if h.handleStoreError(w, err, "failed to begin turn") {
		return
	}

	llmProvider, err := provider.GetProvider(h.config.Provider)
	if err != nil {
		applog.Error("[Chat] Provider not available", "provider", h.config.Provider, "error", err)
		writeError(w, http.StatusBadGateway, "assistant is not available")
		return
	}

	resp, err := llmProvider.Complete(ctx, &provider.CompletionRequest{
		Model:       turn.Session.ModelName(h.config.Model),
		Messages:    turn.Context,
		Temperature: turn.Session.Temperature(h.config.Temperature),
	})
	if err != nil {
		applog.Error("[Chat] LLM call failed", "session_id", turn.Session.ID, "error", err)
		writeError(w, http.StatusBadGateway, "assistant is not available")
		return
	}

	assistantMsg, err := h.sessions.CompleteTurn(ctx, turn.Session.ID, identity.UserID, resp.Content)
	if h.handleStoreError(w, err, "failed to store assistant reply") {
		return
	}

	writeJSON(w, http.StatusOK, &sendMessageResponse{
		Session:          turn.Session,
		UserMessage:      turn.UserMessage,
		AssistantMessage: assistantMsg,
	})
}

// Regenerate 删除最近一条助手回复，客户端随后重新发送上一条用户消息
func (h *ChatHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())
	id := chi.URLParam(r, "id")

	deletedID, err := h.sessions.Regenerate(r.Context(), id, identity.UserID)
	if h.handleStoreError(w, err, "failed to regenerate") {
		return
	}
	if deletedID == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"deleted_message_id": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted_message_id": deletedID})
}

// handleStoreError 统一处理存储层错误；已写响应时返回 true
func (h *ChatHandler) handleStoreError(w http.ResponseWriter, err error, fallback string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, conversation.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, conversation.ErrStorageConflict):
		// 并发写冲突，客户端整体重试本轮
		writeError(w, http.StatusConflict, "concurrent modification, retry the request")
	default:
		applog.Error("[Chat] Store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
	return true
}
