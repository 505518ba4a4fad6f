package conversation

import (
	"time"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// 会话状态
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
)

// Message 会话内的一条消息。
// 入库后不可变，仅 Summarized 标记会在压缩后翻转。
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"` // user | assistant | system
	Content    string    `json:"content"`
	Ordinal    int       `json:"ordinal"` // 会话内严格递增、无空洞
	Summarized bool      `json:"summarized"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session 一次对话会话。
// Config 为自由格式配置（模型名、温度等），更新时按 key 合并。
type Session struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Title     string                 `json:"title"`
	Status    string                 `json:"status"` // active | archived | deleted
	Config    map[string]interface{} `json:"config,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// CompressionRecord 一次压缩产物：覆盖 [StartOrdinal, EndOrdinal] 的结构化摘要。
// 创建后覆盖范围不可变；同一会话各记录范围单调且互不重叠。
type CompressionRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	StartOrdinal int       `json:"start_ordinal"`
	EndOrdinal   int       `json:"end_ordinal"`
	Summary      string    `json:"summary"` // <conversation_summary> XML 原文
	CreatedAt    time.Time `json:"created_at"`
}

// ModelName 从会话配置取模型名，缺省返回 fallback。
func (s *Session) ModelName(fallback string) string {
	if s != nil && s.Config != nil {
		if v, ok := s.Config["model"].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

// Temperature 从会话配置取温度，缺省返回 fallback。
func (s *Session) Temperature(fallback float64) float64 {
	if s != nil && s.Config != nil {
		switch v := s.Config["temperature"].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return fallback
}
