package conversation

import (
	"context"
	"errors"
	"strings"

	applog "readnest/internal/platform/log"

	"readnest/internal/provider"
)

// Manager 会话门面，编排存储、压缩和上下文注入。
// 自身无状态，纯协调。
type Manager struct {
	store      SessionStore
	compressor *Compressor
	injector   *Injector
}

// NewManager 创建会话门面
func NewManager(store SessionStore, compressor *Compressor, injector *Injector) *Manager {
	return &Manager{
		store:      store,
		compressor: compressor,
		injector:   injector,
	}
}

// Store 返回底层会话存储
func (m *Manager) Store() SessionStore {
	return m.store
}

// TurnContext 一轮对话的组装结果
type TurnContext struct {
	Session     *Session           `json:"session"`
	Context     []provider.Message `json:"context"`
	UserMessage *Message           `json:"user_message"`
}

// BeginTurn 处理一条新的用户输入：
// 追加消息 → 判断是否需要压缩（需要则同步压缩一次）→ 组装模型上下文。
// 压缩失败只降级为不压缩并告警，不让本轮请求失败。
// sessionID 为空时先创建会话，标题取自首条消息。
func (m *Manager) BeginTurn(ctx context.Context, sessionID, userID, text string) (*TurnContext, error) {
	var session *Session
	var err error

	if sessionID == "" {
		session, err = m.store.CreateSession(ctx, userID, titleFromText(text), nil)
		if err != nil {
			return nil, err
		}
		applog.Info("[Chat] 💬 Session created",
			"session_id", session.ID,
			"user_id", userID,
		)
	} else {
		session, err = m.store.GetSession(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
	}

	userMsg, err := m.store.AppendMessage(ctx, session.ID, userID, RoleUser, text)
	if err != nil {
		return nil, err
	}

	unsummarized, err := m.store.ListUnsummarizedMessages(ctx, session.ID, userID)
	if err != nil {
		return nil, err
	}

	if m.injector.NeedsCompression(unsummarized) {
		record, err := m.compressor.Compress(ctx, session.ID, userID, unsummarized)
		switch {
		case err != nil:
			// 降级：本轮照常进行，原始消息暂时偏大
			applog.Warn("[Chat] ⚠️ Compression failed, proceeding uncompressed",
				"session_id", session.ID,
				"error", err,
			)
		case record != nil:
			unsummarized, err = m.store.ListUnsummarizedMessages(ctx, session.ID, userID)
			if err != nil {
				return nil, err
			}
		}
	}

	records, err := m.store.ListCompressions(ctx, session.ID, userID)
	if err != nil {
		return nil, err
	}

	return &TurnContext{
		Session:     session,
		Context:     m.injector.BuildContext(records, unsummarized),
		UserMessage: userMsg,
	}, nil
}

// CompleteTurn 追加 assistant 回复
func (m *Manager) CompleteTurn(ctx context.Context, sessionID, userID, assistantText string) (*Message, error) {
	return m.store.AppendMessage(ctx, sessionID, userID, RoleAssistant, assistantText)
}

// Regenerate 删除最近一条 assistant 消息，返回被删消息 id。
// 没有可删消息时返回空 id。
func (m *Manager) Regenerate(ctx context.Context, sessionID, userID string) (string, error) {
	id, err := m.store.DeleteLatestAssistantMessage(ctx, sessionID, userID)
	if errors.Is(err, ErrMessageNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	applog.Info("[Chat] Assistant message deleted for regeneration",
		"session_id", sessionID,
		"message_id", id,
	)
	return id, nil
}

// titleFromText 从首条消息截取会话标题
func titleFromText(text string) string {
	title := strings.TrimSpace(text)
	if idx := strings.IndexAny(title, "\r\n"); idx >= 0 {
		title = title[:idx]
	}
	runes := []rune(title)
	if len(runes) > 30 {
		title = string(runes[:30]) + "…"
	}
	if title == "" {
		title = "新对话"
	}
	return title
}
