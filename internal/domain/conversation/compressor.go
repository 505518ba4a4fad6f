package conversation

import (
	"context"
	"fmt"
	"strings"

	applog "readnest/internal/platform/log"

	"readnest/internal/provider"
)

// --- 压缩全局默认值（从环境变量设置，可被会话配置覆盖）---

var (
	defaultTokenCeiling   = 3000
	defaultTurnCeiling    = 10
	defaultHotWindowTurns = 3
)

// SetCompressorDefaults 设置压缩全局默认值（从环境变量读取）
func SetCompressorDefaults(tokenCeiling, turnCeiling, hotWindowTurns int) {
	if tokenCeiling > 0 {
		defaultTokenCeiling = tokenCeiling
	}
	if turnCeiling > 0 {
		defaultTurnCeiling = turnCeiling
	}
	if hotWindowTurns > 0 {
		defaultHotWindowTurns = hotWindowTurns
	}
	applog.Info("[Compress] Defaults updated",
		"token_ceiling", defaultTokenCeiling,
		"turn_ceiling", defaultTurnCeiling,
		"hot_window_turns", defaultHotWindowTurns,
	)
}

// CompressorConfig 压缩触发阈值配置
type CompressorConfig struct {
	TokenCeiling   int `json:"token_ceiling,omitempty"`    // 未压缩消息 Token 上限
	TurnCeiling    int `json:"turn_ceiling,omitempty"`     // 未压缩轮次上限
	HotWindowTurns int `json:"hot_window_turns,omitempty"` // 始终保留原文的最近轮次数
}

// GetTokenCeiling 获取 Token 上限（配置优先，否则用全局默认值）
func (c *CompressorConfig) GetTokenCeiling() int {
	if c != nil && c.TokenCeiling > 0 {
		return c.TokenCeiling
	}
	return defaultTokenCeiling
}

// GetTurnCeiling 获取轮次上限（配置优先，否则用全局默认值）
func (c *CompressorConfig) GetTurnCeiling() int {
	if c != nil && c.TurnCeiling > 0 {
		return c.TurnCeiling
	}
	return defaultTurnCeiling
}

// GetHotWindowTurns 获取热窗口轮次（配置优先，否则用全局默认值）
func (c *CompressorConfig) GetHotWindowTurns() int {
	if c != nil && c.HotWindowTurns > 0 {
		return c.HotWindowTurns
	}
	return defaultHotWindowTurns
}

// CompressLock 会话级压缩锁，防止并发压缩产生重叠覆盖范围
type CompressLock interface {
	// Acquire 尝试获取锁，已被占用时返回 false
	Acquire(ctx context.Context, sessionID string) (bool, error)
	// Release 释放锁
	Release(ctx context.Context, sessionID string) error
}

// Compressor 上下文压缩器
// 把超出阈值的历史消息压缩为一条结构化 XML 摘要，保证送入模型的
// 上下文有界。压缩记录与"已压缩"标记由存储层在同一事务写入。
type Compressor struct {
	providerName string
	modelName    string
	estimator    TokenEstimator
	store        SessionStore
	lock         CompressLock // 可为 nil（单实例部署）
	config       *CompressorConfig
}

// NewCompressor 创建上下文压缩器
func NewCompressor(providerName, modelName string, estimator TokenEstimator, store SessionStore, cfg *CompressorConfig) *Compressor {
	if estimator == nil {
		estimator = &SimpleTokenEstimator{}
	}
	applog.Info("[Compress] Compressor initialized",
		"provider", providerName,
		"model", modelName,
		"token_ceiling", cfg.GetTokenCeiling(),
		"turn_ceiling", cfg.GetTurnCeiling(),
		"hot_window_turns", cfg.GetHotWindowTurns(),
	)
	return &Compressor{
		providerName: providerName,
		modelName:    modelName,
		estimator:    estimator,
		store:        store,
		config:       cfg,
	}
}

// WithLock 设置会话级压缩锁（链式调用）
func (c *Compressor) WithLock(lock CompressLock) *Compressor {
	c.lock = lock
	return c
}

// Config 返回阈值配置
func (c *Compressor) Config() *CompressorConfig {
	return c.config
}

// Estimator 返回 Token 估算器
func (c *Compressor) Estimator() TokenEstimator {
	return c.estimator
}

// ShouldCompress 判断未压缩消息是否触发压缩：
// Token 估算超过上限，或轮次数超过上限，先到先触发。
func ShouldCompress(estimator TokenEstimator, unsummarized []Message, cfg *CompressorConfig) bool {
	if len(unsummarized) == 0 {
		return false
	}
	if EstimateMessages(estimator, unsummarized) > cfg.GetTokenCeiling() {
		return true
	}
	return countTurns(unsummarized) > cfg.GetTurnCeiling()
}

// countTurns 统计轮次数（每条 user 消息开启一轮）
func countTurns(messages []Message) int {
	turns := 0
	for _, m := range messages {
		if m.Role == RoleUser {
			turns++
		}
	}
	return turns
}

// SelectCompressionSpan 选出待压缩的最老连续消息段，
// 排除最近 hotTurns 轮（热窗口始终保留原文）。
// 不足以压缩时返回 nil。
func SelectCompressionSpan(unsummarized []Message, hotTurns int) []Message {
	if len(unsummarized) == 0 {
		return nil
	}

	// 从尾部回溯第 hotTurns 条 user 消息，其位置即热窗口起点
	seen := 0
	cutoff := -1
	for i := len(unsummarized) - 1; i >= 0; i-- {
		if unsummarized[i].Role == RoleUser {
			seen++
			if seen == hotTurns {
				cutoff = i
				break
			}
		}
	}
	if cutoff <= 0 {
		return nil // 全部落在热窗口内，无可压缩
	}
	return unsummarized[:cutoff]
}

// RenderTranscript 把消息段渲染为按轮分组的文字记录。
// 末尾未配对的 user 消息照常输出，不静默丢弃。
func RenderTranscript(span []Message) string {
	var sb strings.Builder
	for _, msg := range span {
		switch msg.Role {
		case RoleUser:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("用户: %s\n", msg.Content))
		case RoleAssistant:
			sb.WriteString(fmt.Sprintf("助手: %s\n", msg.Content))
		case RoleSystem:
			sb.WriteString(fmt.Sprintf("系统: %s\n", msg.Content))
		}
	}
	return sb.String()
}

const compressSystemPrompt = `你是一个对话历史压缩引擎。你的任务是把一段对话记录压缩为结构化摘要，同时保留关键信息。
要求：
1. 保留任务目标、约束条件、已做出的决策和结论
2. 保留关键事实和数据
3. 删除闲聊、重复信息和无关细节
4. 严格按照给定的 XML 格式输出，不要输出任何其他内容`

// requiredSummaryTags 摘要必须包含的标签对
var requiredSummaryTags = []string{
	"conversation_summary",
	"topic",
	"key_points",
	"point",
	"decisions",
	"context",
}

// buildCompressPrompt 构建压缩请求
func buildCompressPrompt(transcript string) string {
	var sb strings.Builder
	sb.WriteString("对话记录：\n\n")
	sb.WriteString(transcript)
	sb.WriteString("\n请将以上对话压缩为摘要，严格按以下 XML 格式输出，")
	sb.WriteString("每个元素都必须出现，没有内容时填「无」：\n")
	sb.WriteString("<conversation_summary>\n")
	sb.WriteString("  <topic>对话主题</topic>\n")
	sb.WriteString("  <key_points><point>要点一</point><point>要点二</point></key_points>\n")
	sb.WriteString("  <decisions>已做出的决策</decisions>\n")
	sb.WriteString("  <context>后续对话需要的背景信息</context>\n")
	sb.WriteString("</conversation_summary>\n")
	return sb.String()
}

// ValidateSummaryOutput 校验模型输出包含全部必需标签对。
// 缺任何一对都判为格式错误，本次压缩作废（不在内部重试）。
func ValidateSummaryOutput(output string) bool {
	for _, tag := range requiredSummaryTags {
		if !strings.Contains(output, "<"+tag+">") {
			return false
		}
		if !strings.Contains(output, "</"+tag+">") {
			return false
		}
	}
	return true
}

// ExtractSummaryContent 从模型输出中截取 <conversation_summary> 片段。
// 模型在 XML 外包裹了说明文字时，只保留首个标签对之间的内容（含标签本身）。
// 找不到完整标签对时返回空串。
func ExtractSummaryContent(output string) string {
	const open = "<conversation_summary>"
	const close = "</conversation_summary>"

	start := strings.Index(output, open)
	if start < 0 {
		return ""
	}
	end := strings.Index(output[start:], close)
	if end < 0 {
		return ""
	}
	return output[start : start+end+len(close)]
}

// Compress 对会话执行一次压缩。
// 选段为空（热窗口外无未压缩消息）时是幂等空操作，返回 (nil, nil)。
// 压缩记录只在模型输出通过校验后写入，失败不会留下半成品。
func (c *Compressor) Compress(ctx context.Context, sessionID, userID string, unsummarized []Message) (*CompressionRecord, error) {
	span := SelectCompressionSpan(unsummarized, c.config.GetHotWindowTurns())
	if len(span) == 0 {
		applog.Debug("[Compress] Nothing to compress", "session_id", sessionID)
		return nil, nil
	}

	if c.lock != nil {
		acquired, err := c.lock.Acquire(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("acquire compress lock: %w", err)
		}
		if !acquired {
			applog.Debug("[Compress] Lock held elsewhere, skipping", "session_id", sessionID)
			return nil, nil
		}
		defer func() {
			if err := c.lock.Release(ctx, sessionID); err != nil {
				applog.Warn("[Compress] ⚠️ Failed to release lock", "session_id", sessionID, "error", err)
			}
		}()
	}

	applog.Info("[Compress] 🚀 Starting compression",
		"session_id", sessionID,
		"provider", c.providerName,
		"model", c.modelName,
		"span_messages", len(span),
		"start_ordinal", span[0].Ordinal,
		"end_ordinal", span[len(span)-1].Ordinal,
	)

	llmProvider, err := provider.GetProvider(c.providerName)
	if err != nil {
		return nil, fmt.Errorf("%w: get compress provider: %v", ErrUpstreamUnavailable, err)
	}

	req := &provider.CompletionRequest{
		Model: c.modelName,
		Messages: []provider.Message{
			{Role: RoleSystem, Content: compressSystemPrompt},
			{Role: RoleUser, Content: buildCompressPrompt(RenderTranscript(span))},
		},
		Temperature: 0.2, // 低温度保证稳定输出
		MaxTokens:   800,
	}

	resp, err := llmProvider.Complete(ctx, req)
	if err != nil {
		applog.Error("[Compress] ❌ LLM call failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	if !ValidateSummaryOutput(resp.Content) {
		applog.Warn("[Compress] ⚠️ Model output missing required tags",
			"session_id", sessionID,
			"output_length", len(resp.Content),
		)
		return nil, ErrMalformedSummary
	}

	summary := ExtractSummaryContent(resp.Content)
	if summary == "" {
		return nil, ErrMalformedSummary
	}

	record, err := c.store.RecordCompression(ctx, sessionID, userID,
		span[0].Ordinal, span[len(span)-1].Ordinal, summary)
	if err != nil {
		return nil, fmt.Errorf("record compression: %w", err)
	}

	applog.Info("[Compress] ✅ Compression completed",
		"session_id", sessionID,
		"record_id", record.ID,
		"start_ordinal", record.StartOrdinal,
		"end_ordinal", record.EndOrdinal,
		"summary_length", len(record.Summary),
	)

	return record, nil
}
