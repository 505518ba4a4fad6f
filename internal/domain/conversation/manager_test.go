package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"readnest/internal/domain/conversation"
	"readnest/internal/provider"
)

// ---- 内存版 SessionStore 测试替身 ----

type memStore struct {
	mu           sync.Mutex
	sessions     map[string]*conversation.Session
	messages     map[string][]conversation.Message
	compressions map[string][]conversation.CompressionRecord
	nextID       int
}

func newMemStore() *memStore {
	return &memStore{
		sessions:     make(map[string]*conversation.Session),
		messages:     make(map[string][]conversation.Message),
		compressions: make(map[string][]conversation.CompressionRecord),
	}
}

func (s *memStore) genID() string {
	s.nextID++
	return fmt.Sprintf("id-%d", s.nextID)
}

// owned 归属校验：不存在、已删除、归属他人统一返回 ErrSessionNotFound
func (s *memStore) owned(sessionID, userID string) (*conversation.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok || session.Status == conversation.StatusDeleted || session.UserID != userID {
		return nil, conversation.ErrSessionNotFound
	}
	return session, nil
}

func (s *memStore) CreateSession(_ context.Context, userID, title string, config map[string]interface{}) (*conversation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := &conversation.Session{
		ID:        s.genID(),
		UserID:    userID,
		Title:     title,
		Status:    conversation.StatusActive,
		Config:    config,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.sessions[session.ID] = session
	copied := *session
	return &copied, nil
}

func (s *memStore) GetSession(_ context.Context, sessionID, userID string) (*conversation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.owned(sessionID, userID)
	if err != nil {
		return nil, err
	}
	copied := *session
	return &copied, nil
}

func (s *memStore) ListSessions(_ context.Context, userID string, params conversation.ListSessionsParams) (*conversation.ListSessionsResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := &conversation.ListSessionsResult{Page: params.Page, PageSize: params.PageSize}
	for _, session := range s.sessions {
		if session.UserID == userID && session.Status != conversation.StatusDeleted {
			result.Sessions = append(result.Sessions, *session)
			result.Total++
		}
	}
	return result, nil
}

func (s *memStore) DeleteSession(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.owned(sessionID, userID)
	if err != nil {
		return err
	}
	session.Status = conversation.StatusDeleted
	return nil
}

func (s *memStore) DeleteAllSessions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, session := range s.sessions {
		if session.UserID == userID && session.Status != conversation.StatusDeleted {
			session.Status = conversation.StatusDeleted
			count++
		}
	}
	return count, nil
}

func (s *memStore) UpdateSessionConfig(_ context.Context, sessionID, userID string, patch map[string]interface{}) (*conversation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.owned(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.Config == nil {
		session.Config = make(map[string]interface{})
	}
	for k, v := range patch {
		session.Config[k] = v
	}
	copied := *session
	return &copied, nil
}

func (s *memStore) AppendMessage(_ context.Context, sessionID, userID, role, content string) (*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(sessionID, userID); err != nil {
		return nil, err
	}
	msg := conversation.Message{
		ID:        s.genID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Ordinal:   len(s.messages[sessionID]) + 1,
		CreatedAt: time.Now(),
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return &msg, nil
}

func (s *memStore) ListMessages(_ context.Context, sessionID, userID string) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(sessionID, userID); err != nil {
		return nil, err
	}
	return append([]conversation.Message(nil), s.messages[sessionID]...), nil
}

func (s *memStore) ListUnsummarizedMessages(_ context.Context, sessionID, userID string) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(sessionID, userID); err != nil {
		return nil, err
	}
	var out []conversation.Message
	for _, msg := range s.messages[sessionID] {
		if !msg.Summarized {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *memStore) DeleteLatestAssistantMessage(_ context.Context, sessionID, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(sessionID, userID); err != nil {
		return "", err
	}
	msgs := s.messages[sessionID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.RoleAssistant {
			id := msgs[i].ID
			s.messages[sessionID] = append(msgs[:i], msgs[i+1:]...)
			return id, nil
		}
	}
	return "", conversation.ErrMessageNotFound
}

func (s *memStore) ListCompressions(_ context.Context, sessionID, userID string) ([]conversation.CompressionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(sessionID, userID); err != nil {
		return nil, err
	}
	return append([]conversation.CompressionRecord(nil), s.compressions[sessionID]...), nil
}

func (s *memStore) RecordCompression(_ context.Context, sessionID, userID string, startOrdinal, endOrdinal int, summary string) (*conversation.CompressionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(sessionID, userID); err != nil {
		return nil, err
	}
	records := s.compressions[sessionID]
	if len(records) > 0 && startOrdinal <= records[len(records)-1].EndOrdinal {
		return nil, conversation.ErrStorageConflict
	}
	record := conversation.CompressionRecord{
		ID:           s.genID(),
		SessionID:    sessionID,
		StartOrdinal: startOrdinal,
		EndOrdinal:   endOrdinal,
		Summary:      summary,
		CreatedAt:    time.Now(),
	}
	s.compressions[sessionID] = append(records, record)
	msgs := s.messages[sessionID]
	for i := range msgs {
		if msgs[i].Ordinal >= startOrdinal && msgs[i].Ordinal <= endOrdinal {
			msgs[i].Summarized = true
		}
	}
	return &record, nil
}

// ---- 假 LLM 供应商 ----

type fakeProvider struct {
	name  string
	reply string
	err   error
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(_ context.Context, _ *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &provider.CompletionResponse{Content: p.reply, FinishReason: "stop"}, nil
}

func newManager(store conversation.SessionStore, providerName string, cfg *conversation.CompressorConfig) *conversation.Manager {
	estimator := &conversation.SimpleTokenEstimator{}
	compressor := conversation.NewCompressor(providerName, "test-model", estimator, store, cfg)
	injector := conversation.NewInjector(estimator, cfg, 100000)
	return conversation.NewManager(store, compressor, injector)
}

// TestBeginTurnCreatesSession 空 session_id 自动创建会话，标题取自首条消息
func TestBeginTurnCreatesSession(t *testing.T) {
	store := newMemStore()
	mgr := newManager(store, "unused", &conversation.CompressorConfig{TokenCeiling: 100000, TurnCeiling: 100, HotWindowTurns: 3})

	turn, err := mgr.BeginTurn(context.Background(), "", "user-1", "帮我整理阅读笔记\n第二行不进标题")
	if err != nil {
		t.Fatalf("BeginTurn failed: %v", err)
	}
	if turn.Session.ID == "" {
		t.Fatal("session not created")
	}
	if turn.Session.Title != "帮我整理阅读笔记" {
		t.Errorf("title = %q, want first line", turn.Session.Title)
	}
	if turn.UserMessage.Ordinal != 1 {
		t.Errorf("first message ordinal = %d, want 1", turn.UserMessage.Ordinal)
	}
	if len(turn.Context) != 1 || turn.Context[0].Role != conversation.RoleUser {
		t.Errorf("context should contain exactly the first user message, got %d messages", len(turn.Context))
	}
}

// TestOrdinalsStrictlyIncreasing 同一会话内 ordinal 严格递增且无空洞
func TestOrdinalsStrictlyIncreasing(t *testing.T) {
	store := newMemStore()
	mgr := newManager(store, "unused", &conversation.CompressorConfig{TokenCeiling: 100000, TurnCeiling: 100, HotWindowTurns: 3})
	ctx := context.Background()

	turn, err := mgr.BeginTurn(ctx, "", "user-1", "第一轮")
	if err != nil {
		t.Fatalf("BeginTurn failed: %v", err)
	}
	sessionID := turn.Session.ID

	for i := 0; i < 4; i++ {
		if _, err := mgr.CompleteTurn(ctx, sessionID, "user-1", "回复"); err != nil {
			t.Fatalf("CompleteTurn failed: %v", err)
		}
		if _, err := mgr.BeginTurn(ctx, sessionID, "user-1", "追问"); err != nil {
			t.Fatalf("BeginTurn failed: %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, sessionID, "user-1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	for i, msg := range msgs {
		if msg.Ordinal != i+1 {
			t.Fatalf("ordinal at index %d = %d, want %d", i, msg.Ordinal, i+1)
		}
	}
}

// TestOwnershipIsolation 陌生用户访问与访问不存在的会话不可区分
func TestOwnershipIsolation(t *testing.T) {
	store := newMemStore()
	mgr := newManager(store, "unused", &conversation.CompressorConfig{TokenCeiling: 100000, TurnCeiling: 100, HotWindowTurns: 3})
	ctx := context.Background()

	turn, err := mgr.BeginTurn(ctx, "", "owner", "私密对话")
	if err != nil {
		t.Fatalf("BeginTurn failed: %v", err)
	}

	_, strangerErr := mgr.BeginTurn(ctx, turn.Session.ID, "stranger", "偷看")
	if !errors.Is(strangerErr, conversation.ErrSessionNotFound) {
		t.Errorf("stranger access error = %v, want ErrSessionNotFound", strangerErr)
	}

	_, missingErr := mgr.BeginTurn(ctx, "no-such-session", "owner", "hello")
	if !errors.Is(missingErr, conversation.ErrSessionNotFound) {
		t.Errorf("missing session error = %v, want ErrSessionNotFound", missingErr)
	}
}

// TestCompressionFlow 超过轮次上限触发压缩：记录落库、覆盖范围标记、摘要注入上下文
func TestCompressionFlow(t *testing.T) {
	fake := &fakeProvider{name: "fake-compress-ok", reply: validSummary}
	provider.RegisterProvider(fake)

	store := newMemStore()
	cfg := &conversation.CompressorConfig{TokenCeiling: 100000, TurnCeiling: 4, HotWindowTurns: 2}
	mgr := newManager(store, fake.name, cfg)
	ctx := context.Background()

	turn, err := mgr.BeginTurn(ctx, "", "user-1", "问题 1")
	if err != nil {
		t.Fatalf("BeginTurn failed: %v", err)
	}
	sessionID := turn.Session.ID

	// 累计到第 5 轮 user 消息触发压缩（轮次上限 4）
	for i := 2; i <= 5; i++ {
		if _, err := mgr.CompleteTurn(ctx, sessionID, "user-1", fmt.Sprintf("回答 %d", i-1)); err != nil {
			t.Fatalf("CompleteTurn failed: %v", err)
		}
		turn, err = mgr.BeginTurn(ctx, sessionID, "user-1", fmt.Sprintf("问题 %d", i))
		if err != nil {
			t.Fatalf("BeginTurn failed: %v", err)
		}
	}

	if fake.calls != 1 {
		t.Fatalf("LLM compress calls = %d, want 1", fake.calls)
	}

	records, err := store.ListCompressions(ctx, sessionID, "user-1")
	if err != nil {
		t.Fatalf("ListCompressions failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("compression records = %d, want 1", len(records))
	}
	// 5 轮、热窗口 2：压缩覆盖第 1-3 轮（ordinal 1-6）
	if records[0].StartOrdinal != 1 || records[0].EndOrdinal != 6 {
		t.Errorf("compression covers [%d, %d], want [1, 6]", records[0].StartOrdinal, records[0].EndOrdinal)
	}
	if records[0].Summary != validSummary {
		t.Errorf("stored summary mismatch:\n%s", records[0].Summary)
	}

	// 覆盖范围内的消息全部标记为已压缩
	unsummarized, err := store.ListUnsummarizedMessages(ctx, sessionID, "user-1")
	if err != nil {
		t.Fatalf("ListUnsummarizedMessages failed: %v", err)
	}
	for _, msg := range unsummarized {
		if msg.Ordinal <= 6 {
			t.Errorf("message ordinal %d should be marked summarized", msg.Ordinal)
		}
	}

	// 上下文：摘要 system 消息在前，热窗口原文在后
	if len(turn.Context) == 0 || turn.Context[0].Role != conversation.RoleSystem {
		t.Fatal("context should start with the summary system message")
	}
	if !strings.Contains(turn.Context[0].Content, "<conversation_summary>") {
		t.Error("summary message should carry the XML summary")
	}
}

// TestCompressionDegradesOnFailure 压缩失败只降级为不压缩，本轮照常进行
func TestCompressionDegradesOnFailure(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeProvider
	}{
		{"llm error", &fakeProvider{name: "fake-compress-err", err: errors.New("upstream down")}},
		{"malformed output", &fakeProvider{name: "fake-compress-bad", reply: "没有任何标签的输出"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider.RegisterProvider(tt.fake)

			store := newMemStore()
			cfg := &conversation.CompressorConfig{TokenCeiling: 100000, TurnCeiling: 2, HotWindowTurns: 1}
			mgr := newManager(store, tt.fake.name, cfg)
			ctx := context.Background()

			turn, err := mgr.BeginTurn(ctx, "", "user-1", "问题 1")
			if err != nil {
				t.Fatalf("BeginTurn failed: %v", err)
			}
			sessionID := turn.Session.ID

			for i := 2; i <= 3; i++ {
				if _, err := mgr.CompleteTurn(ctx, sessionID, "user-1", "回答"); err != nil {
					t.Fatalf("CompleteTurn failed: %v", err)
				}
				turn, err = mgr.BeginTurn(ctx, sessionID, "user-1", fmt.Sprintf("问题 %d", i))
				if err != nil {
					t.Fatalf("BeginTurn should degrade, not fail: %v", err)
				}
			}

			if tt.fake.calls == 0 {
				t.Fatal("compression was never attempted")
			}
			records, err := store.ListCompressions(ctx, sessionID, "user-1")
			if err != nil {
				t.Fatalf("ListCompressions failed: %v", err)
			}
			if len(records) != 0 {
				t.Errorf("failed compression left %d records, want 0", len(records))
			}
			// 降级后原始消息原样进入上下文
			if len(turn.Context) == 0 {
				t.Error("context should still carry raw messages")
			}
		})
	}
}

// TestRecordCompressionOverlap 与已有记录范围重叠时返回 ErrStorageConflict
func TestRecordCompressionOverlap(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "user-1", "测试", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := store.AppendMessage(ctx, session.ID, "user-1", conversation.RoleUser, "m"); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	if _, err := store.RecordCompression(ctx, session.ID, "user-1", 1, 6, validSummary); err != nil {
		t.Fatalf("first RecordCompression failed: %v", err)
	}
	_, err = store.RecordCompression(ctx, session.ID, "user-1", 4, 8, validSummary)
	if !errors.Is(err, conversation.ErrStorageConflict) {
		t.Errorf("overlapping compression error = %v, want ErrStorageConflict", err)
	}
	// 相邻不重叠的记录正常写入
	if _, err := store.RecordCompression(ctx, session.ID, "user-1", 7, 9, validSummary); err != nil {
		t.Errorf("adjacent non-overlapping compression failed: %v", err)
	}
}

// TestRegenerate 删除最近一条 assistant 消息；无可删时返回空 id 不报错
func TestRegenerate(t *testing.T) {
	store := newMemStore()
	mgr := newManager(store, "unused", &conversation.CompressorConfig{TokenCeiling: 100000, TurnCeiling: 100, HotWindowTurns: 3})
	ctx := context.Background()

	turn, err := mgr.BeginTurn(ctx, "", "user-1", "问题")
	if err != nil {
		t.Fatalf("BeginTurn failed: %v", err)
	}
	sessionID := turn.Session.ID

	// 尚无 assistant 消息
	id, err := mgr.Regenerate(ctx, sessionID, "user-1")
	if err != nil || id != "" {
		t.Errorf("Regenerate with no assistant message = (%q, %v), want empty id and nil", id, err)
	}

	assistantMsg, err := mgr.CompleteTurn(ctx, sessionID, "user-1", "回答")
	if err != nil {
		t.Fatalf("CompleteTurn failed: %v", err)
	}

	id, err = mgr.Regenerate(ctx, sessionID, "user-1")
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if id != assistantMsg.ID {
		t.Errorf("deleted message id = %q, want %q", id, assistantMsg.ID)
	}

	msgs, _ := store.ListMessages(ctx, sessionID, "user-1")
	for _, msg := range msgs {
		if msg.Role == conversation.RoleAssistant {
			t.Error("assistant message still present after regenerate")
		}
	}
}

// TestDeleteSessionCascade 删除会话后，消息与压缩记录一并不可访问
func TestDeleteSessionCascade(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "user-1", "待删", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := store.AppendMessage(ctx, session.ID, "user-1", conversation.RoleUser, "m"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if err := store.DeleteSession(ctx, session.ID, "user-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := store.GetSession(ctx, session.ID, "user-1"); !errors.Is(err, conversation.ErrSessionNotFound) {
		t.Errorf("GetSession after delete = %v, want ErrSessionNotFound", err)
	}
	if _, err := store.ListMessages(ctx, session.ID, "user-1"); !errors.Is(err, conversation.ErrSessionNotFound) {
		t.Errorf("ListMessages after delete = %v, want ErrSessionNotFound", err)
	}
	if _, err := store.ListCompressions(ctx, session.ID, "user-1"); !errors.Is(err, conversation.ErrSessionNotFound) {
		t.Errorf("ListCompressions after delete = %v, want ErrSessionNotFound", err)
	}
}
