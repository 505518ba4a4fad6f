package conversation

import "errors"

var (
	// ErrSessionNotFound 会话不存在或不属于当前用户。
	// 归属校验失败与不存在对外统一为同一错误，避免泄露会话是否存在。
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound 目标消息不存在（如无可删除的 assistant 消息）。
	ErrMessageNotFound = errors.New("message not found")

	// ErrMalformedSummary 模型返回的摘要缺少必需的 XML 标签，本次压缩作废。
	ErrMalformedSummary = errors.New("malformed compression output")

	// ErrStorageConflict 同一会话的并发写冲突，调用方应整体重试本轮。
	ErrStorageConflict = errors.New("storage conflict")

	// ErrUpstreamUnavailable LLM 压缩调用失败或超时，本轮可降级为不压缩。
	ErrUpstreamUnavailable = errors.New("llm upstream unavailable")
)
