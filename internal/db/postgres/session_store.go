package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"readnest/internal/domain/conversation"
	applog "readnest/internal/platform/log"
)

// SessionStore PostgreSQL 会话存储
// 同一会话的并发写通过会话行锁（SELECT ... FOR UPDATE）串行化；
// 压缩记录与"已压缩"标记在同一事务内落盘。
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore 创建 PostgreSQL 会话存储
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// EnsureTables 确保会话相关表存在
func (s *SessionStore) EnsureTables(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id    UUID NOT NULL,
		title      VARCHAR(255) NOT NULL DEFAULT '',
		status     VARCHAR(32) NOT NULL DEFAULT 'active',
		config     JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_updated ON chat_sessions(user_id, updated_at DESC);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		session_id UUID NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
		role       VARCHAR(16) NOT NULL,
		content    TEXT NOT NULL,
		ordinal    INTEGER NOT NULL,
		summarized BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (session_id, ordinal)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session_ordinal ON chat_messages(session_id, ordinal);

	CREATE TABLE IF NOT EXISTS chat_compressions (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		session_id    UUID NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
		start_ordinal INTEGER NOT NULL,
		end_ordinal   INTEGER NOT NULL,
		summary       TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (session_id, start_ordinal)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_compressions_session ON chat_compressions(session_id, start_ordinal);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// CreateSession 创建会话
func (s *SessionStore) CreateSession(ctx context.Context, userID, title string, config map[string]interface{}) (*conversation.Session, error) {
	if config == nil {
		config = map[string]interface{}{}
	}
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal session config: %w", err)
	}

	session := &conversation.Session{
		UserID: userID,
		Title:  title,
		Status: conversation.StatusActive,
		Config: config,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO chat_sessions (user_id, title, config)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		userID, title, cfgJSON,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", translateErr(err))
	}

	applog.Debug("[Chat/Store] Session created", "session_id", session.ID, "user_id", userID)
	return session, nil
}

// GetSession 取会话（含归属校验，失败统一返回 ErrSessionNotFound）
func (s *SessionStore) GetSession(ctx context.Context, sessionID, userID string) (*conversation.Session, error) {
	if !validID(sessionID) {
		return nil, conversation.ErrSessionNotFound
	}

	var session conversation.Session
	var cfgJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, status, config, created_at, updated_at
		 FROM chat_sessions
		 WHERE id = $1 AND user_id = $2 AND status <> 'deleted'`,
		sessionID, userID,
	).Scan(&session.ID, &session.UserID, &session.Title, &session.Status,
		&cfgJSON, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, conversation.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", translateErr(err))
	}

	if err := json.Unmarshal(cfgJSON, &session.Config); err != nil {
		applog.Warn("[Chat/Store] Session config corrupted, using empty", "session_id", sessionID, "error", err)
		session.Config = map[string]interface{}{}
	}
	return &session, nil
}

// ListSessions 列出用户会话，按 updated_at 倒序分页
func (s *SessionStore) ListSessions(ctx context.Context, userID string, params conversation.ListSessionsParams) (*conversation.ListSessionsResult, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_sessions WHERE user_id = $1 AND status <> 'deleted'`,
		userID,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", translateErr(err))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, status, config, created_at, updated_at
		 FROM chat_sessions
		 WHERE user_id = $1 AND status <> 'deleted'
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", translateErr(err))
	}
	defer rows.Close()

	sessions := make([]conversation.Session, 0, pageSize)
	for rows.Next() {
		var session conversation.Session
		var cfgJSON []byte
		if err := rows.Scan(&session.ID, &session.UserID, &session.Title, &session.Status,
			&cfgJSON, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if json.Unmarshal(cfgJSON, &session.Config) != nil {
			session.Config = map[string]interface{}{}
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return &conversation.ListSessionsResult{
		Sessions: sessions,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// DeleteSession 软删会话；后续读取统一 404，消息与压缩记录随之不可见
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	if !validID(sessionID) {
		return conversation.ErrSessionNotFound
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET status = 'deleted', updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND status <> 'deleted'`,
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", translateErr(err))
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return conversation.ErrSessionNotFound
	}

	applog.Info("[Chat/Store] Session deleted", "session_id", sessionID, "user_id", userID)
	return nil
}

// DeleteAllSessions 删除用户全部会话
func (s *SessionStore) DeleteAllSessions(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET status = 'deleted', updated_at = NOW()
		 WHERE user_id = $1 AND status <> 'deleted'`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete all sessions: %w", translateErr(err))
	}
	affected, _ := res.RowsAffected()

	applog.Info("[Chat/Store] All sessions deleted", "user_id", userID, "count", affected)
	return int(affected), nil
}

// UpdateSessionConfig 按 key 合并更新会话配置
func (s *SessionStore) UpdateSessionConfig(ctx context.Context, sessionID, userID string, patch map[string]interface{}) (*conversation.Session, error) {
	if !validID(sessionID) {
		return nil, conversation.ErrSessionNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var cfgJSON []byte
	err = tx.QueryRowContext(ctx,
		`SELECT config FROM chat_sessions
		 WHERE id = $1 AND user_id = $2 AND status <> 'deleted'
		 FOR UPDATE`,
		sessionID, userID,
	).Scan(&cfgJSON)
	if err == sql.ErrNoRows {
		return nil, conversation.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", translateErr(err))
	}

	config := map[string]interface{}{}
	if json.Unmarshal(cfgJSON, &config) != nil {
		config = map[string]interface{}{}
	}
	for k, v := range patch {
		config[k] = v
	}

	merged, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal merged config: %w", err)
	}

	session := &conversation.Session{Config: config}
	err = tx.QueryRowContext(ctx,
		`UPDATE chat_sessions SET config = $3, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2
		 RETURNING id, user_id, title, status, created_at, updated_at`,
		sessionID, userID, merged,
	).Scan(&session.ID, &session.UserID, &session.Title, &session.Status,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update session config: %w", translateErr(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit config update: %w", translateErr(err))
	}
	return session, nil
}

// AppendMessage 追加消息。
// 行锁 + 事务内取 MAX(ordinal)+1，保证并发追加下 ordinal 严格递增无空洞；
// 归属校验与插入同一事务，避免竞态窗口。
func (s *SessionStore) AppendMessage(ctx context.Context, sessionID, userID, role, content string) (*conversation.Message, error) {
	if !validID(sessionID) {
		return nil, conversation.ErrSessionNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockOwnedSession(ctx, tx, sessionID, userID); err != nil {
		return nil, err
	}

	msg := &conversation.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content, ordinal)
		 SELECT $1, $2, $3, COALESCE(MAX(ordinal), 0) + 1
		 FROM chat_messages WHERE session_id = $1
		 RETURNING id, ordinal, summarized, created_at`,
		sessionID, role, content,
	).Scan(&msg.ID, &msg.Ordinal, &msg.Summarized, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", translateErr(err))
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1`,
		sessionID,
	); err != nil {
		return nil, fmt.Errorf("touch session: %w", translateErr(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", translateErr(err))
	}

	applog.Debug("[Chat/Store] Message appended",
		"session_id", sessionID,
		"role", role,
		"ordinal", msg.Ordinal,
	)
	return msg, nil
}

// ListMessages 按 ordinal 升序取全部消息
func (s *SessionStore) ListMessages(ctx context.Context, sessionID, userID string) ([]conversation.Message, error) {
	return s.listMessages(ctx, sessionID, userID, false)
}

// ListUnsummarizedMessages 按 ordinal 升序取未被压缩覆盖的消息
func (s *SessionStore) ListUnsummarizedMessages(ctx context.Context, sessionID, userID string) ([]conversation.Message, error) {
	return s.listMessages(ctx, sessionID, userID, true)
}

func (s *SessionStore) listMessages(ctx context.Context, sessionID, userID string, onlyUnsummarized bool) ([]conversation.Message, error) {
	// 先做归属校验（不存在与无权访问均 404）
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	query := `SELECT id, session_id, role, content, ordinal, summarized, created_at
		 FROM chat_messages WHERE session_id = $1`
	if onlyUnsummarized {
		query += ` AND summarized = FALSE`
	}
	query += ` ORDER BY ordinal ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", translateErr(err))
	}
	defer rows.Close()

	var messages []conversation.Message
	for rows.Next() {
		var msg conversation.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&msg.Ordinal, &msg.Summarized, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// DeleteLatestAssistantMessage 删除最近一条 assistant 消息（重新生成用）
func (s *SessionStore) DeleteLatestAssistantMessage(ctx context.Context, sessionID, userID string) (string, error) {
	if !validID(sessionID) {
		return "", conversation.ErrSessionNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockOwnedSession(ctx, tx, sessionID, userID); err != nil {
		return "", err
	}

	var messageID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM chat_messages
		 WHERE id = (
			SELECT id FROM chat_messages
			WHERE session_id = $1 AND role = 'assistant'
			ORDER BY ordinal DESC LIMIT 1
		 )
		 RETURNING id`,
		sessionID,
	).Scan(&messageID)
	if err == sql.ErrNoRows {
		return "", conversation.ErrMessageNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete assistant message: %w", translateErr(err))
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit delete: %w", translateErr(err))
	}
	return messageID, nil
}

// ListCompressions 按覆盖范围升序取压缩记录
func (s *SessionStore) ListCompressions(ctx context.Context, sessionID, userID string) ([]conversation.CompressionRecord, error) {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, start_ordinal, end_ordinal, summary, created_at
		 FROM chat_compressions
		 WHERE session_id = $1
		 ORDER BY start_ordinal ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list compressions: %w", translateErr(err))
	}
	defer rows.Close()

	var records []conversation.CompressionRecord
	for rows.Next() {
		var rec conversation.CompressionRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StartOrdinal, &rec.EndOrdinal,
			&rec.Summary, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan compression: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compressions: %w", err)
	}
	return records, nil
}

// RecordCompression 写入压缩记录并在同一事务内标记覆盖范围。
// 覆盖范围必须紧接上一条记录之后（单调、不重叠），否则 ErrStorageConflict。
func (s *SessionStore) RecordCompression(ctx context.Context, sessionID, userID string, startOrdinal, endOrdinal int, summary string) (*conversation.CompressionRecord, error) {
	if !validID(sessionID) {
		return nil, conversation.ErrSessionNotFound
	}
	if startOrdinal < 1 || endOrdinal < startOrdinal {
		return nil, fmt.Errorf("invalid compression range [%d, %d]", startOrdinal, endOrdinal)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockOwnedSession(ctx, tx, sessionID, userID); err != nil {
		return nil, err
	}

	// 范围单调性：新记录只能覆盖上一条记录之后的消息
	var prevEnd int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(end_ordinal), 0) FROM chat_compressions WHERE session_id = $1`,
		sessionID,
	).Scan(&prevEnd)
	if err != nil {
		return nil, fmt.Errorf("check compression coverage: %w", translateErr(err))
	}
	if startOrdinal <= prevEnd {
		applog.Warn("[Chat/Store] Overlapping compression range rejected",
			"session_id", sessionID,
			"start_ordinal", startOrdinal,
			"prev_end", prevEnd,
		)
		return nil, conversation.ErrStorageConflict
	}

	rec := &conversation.CompressionRecord{
		SessionID:    sessionID,
		StartOrdinal: startOrdinal,
		EndOrdinal:   endOrdinal,
		Summary:      summary,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO chat_compressions (session_id, start_ordinal, end_ordinal, summary)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		sessionID, startOrdinal, endOrdinal, summary,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert compression: %w", translateErr(err))
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_messages SET summarized = TRUE
		 WHERE session_id = $1 AND ordinal BETWEEN $2 AND $3`,
		sessionID, startOrdinal, endOrdinal,
	); err != nil {
		return nil, fmt.Errorf("mark summarized: %w", translateErr(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit compression: %w", translateErr(err))
	}
	return rec, nil
}

// lockOwnedSession 事务内锁定并校验会话归属
func lockOwnedSession(ctx context.Context, tx *sql.Tx, sessionID, userID string) error {
	var ownerID, status string
	err := tx.QueryRowContext(ctx,
		`SELECT user_id, status FROM chat_sessions WHERE id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&ownerID, &status)
	if err == sql.ErrNoRows {
		return conversation.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("lock session: %w", translateErr(err))
	}
	// 归属不符与已删除对外统一为 404
	if ownerID != userID || status == conversation.StatusDeleted {
		return conversation.ErrSessionNotFound
	}
	return nil
}

// translateErr 把 pq 错误映射为领域错误
func translateErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return conversation.ErrStorageConflict
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return conversation.ErrStorageConflict
		}
	}
	return err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
