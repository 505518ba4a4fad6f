package conversation

import "context"

// ListSessionsParams 会话列表分页参数
type ListSessionsParams struct {
	Page     int
	PageSize int
}

// ListSessionsResult 会话列表结果
type ListSessionsResult struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// SessionStore 会话存储接口
// 持久化状态的唯一所有者：返回给调用方的 Session/Message 都是副本，
// 修改副本不影响存储，需通过写操作回写。
// 所有操作均带归属校验；不存在与无权访问统一返回 ErrSessionNotFound。
type SessionStore interface {
	// CreateSession 创建会话
	CreateSession(ctx context.Context, userID, title string, config map[string]interface{}) (*Session, error)

	// GetSession 按 id 取会话（含归属校验）
	GetSession(ctx context.Context, sessionID, userID string) (*Session, error)

	// ListSessions 列出用户会话，按 updated_at 倒序分页
	ListSessions(ctx context.Context, userID string, params ListSessionsParams) (*ListSessionsResult, error)

	// DeleteSession 删除会话（软删，级联屏蔽其消息与压缩记录）
	DeleteSession(ctx context.Context, sessionID, userID string) error

	// DeleteAllSessions 删除用户全部会话，返回删除数量
	DeleteAllSessions(ctx context.Context, userID string) (int, error)

	// UpdateSessionConfig 按 key 合并更新会话配置，未指定的 key 保留
	UpdateSessionConfig(ctx context.Context, sessionID, userID string, patch map[string]interface{}) (*Session, error)

	// AppendMessage 追加消息。归属校验与 ordinal 分配在同一事务内完成，
	// 并发追加由会话行锁串行化，ordinal 严格递增无空洞。
	AppendMessage(ctx context.Context, sessionID, userID, role, content string) (*Message, error)

	// ListMessages 按 ordinal 升序取全部消息
	ListMessages(ctx context.Context, sessionID, userID string) ([]Message, error)

	// ListUnsummarizedMessages 按 ordinal 升序取未被压缩覆盖的消息
	ListUnsummarizedMessages(ctx context.Context, sessionID, userID string) ([]Message, error)

	// DeleteLatestAssistantMessage 删除最近一条 assistant 消息（重新生成用），
	// 返回被删消息 id；没有可删消息时返回 ErrMessageNotFound。
	DeleteLatestAssistantMessage(ctx context.Context, sessionID, userID string) (string, error)

	// ListCompressions 按覆盖范围升序取压缩记录
	ListCompressions(ctx context.Context, sessionID, userID string) ([]CompressionRecord, error)

	// RecordCompression 写入压缩记录并在同一事务内把覆盖范围标记为已压缩。
	// 与已有记录范围重叠时返回 ErrStorageConflict。
	RecordCompression(ctx context.Context, sessionID, userID string, startOrdinal, endOrdinal int, summary string) (*CompressionRecord, error)
}
