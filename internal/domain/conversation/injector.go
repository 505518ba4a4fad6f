package conversation

import (
	"strings"

	applog "readnest/internal/platform/log"

	"readnest/internal/provider"
)

var defaultContextBudget = 8000

// SetContextBudget 设置默认上下文 Token 预算（从环境变量读取）
func SetContextBudget(budget int) {
	if budget > 0 {
		defaultContextBudget = budget
	}
	applog.Info("[Inject] Context budget updated", "budget", defaultContextBudget)
}

// Injector 上下文注入器
// 组装送入模型的最终输入：历史压缩摘要（由旧到新）+ 热窗口原始消息（按时间序），
// 整体受 Token 预算约束。
type Injector struct {
	estimator     TokenEstimator
	compressorCfg *CompressorConfig
	budget        int // <=0 时用全局默认值
}

// NewInjector 创建上下文注入器
func NewInjector(estimator TokenEstimator, compressorCfg *CompressorConfig, budget int) *Injector {
	if estimator == nil {
		estimator = &SimpleTokenEstimator{}
	}
	return &Injector{
		estimator:     estimator,
		compressorCfg: compressorCfg,
		budget:        budget,
	}
}

// Budget 返回生效的 Token 预算
func (in *Injector) Budget() int {
	if in.budget > 0 {
		return in.budget
	}
	return defaultContextBudget
}

// NeedsCompression 判断会话当前未压缩尾部在下一轮前是否需要压缩。
// Session Manager 据此决定同步压缩还是跳过。
func (in *Injector) NeedsCompression(unsummarized []Message) bool {
	return ShouldCompress(in.estimator, unsummarized, in.compressorCfg)
}

// BuildContext 组装模型输入。
// 预算不够时从最老的原始消息开始截断，最新一条消息永不截断；
// 摘要消息不参与截断（它们本身就是压缩产物）。
func (in *Injector) BuildContext(records []CompressionRecord, unsummarized []Message) []provider.Message {
	budget := in.Budget()

	var summaryMsgs []provider.Message
	summaryTokens := 0
	for _, rec := range records {
		content := summaryPreamble + rec.Summary
		summaryMsgs = append(summaryMsgs, provider.Message{
			Role:    RoleSystem,
			Content: content,
		})
		summaryTokens += 4 + in.estimator.EstimateTokens(content)
	}

	// 原始消息从最老开始截断，直到放进剩余预算
	raw := unsummarized
	for len(raw) > 1 && EstimateMessages(in.estimator, raw)+summaryTokens > budget {
		raw = raw[1:]
	}

	if dropped := len(unsummarized) - len(raw); dropped > 0 {
		applog.Warn("[Inject] ⚠️ Hot window over budget, truncated oldest raw messages",
			"dropped", dropped,
			"kept", len(raw),
			"budget", budget,
		)
	}

	result := make([]provider.Message, 0, len(summaryMsgs)+len(raw))
	result = append(result, summaryMsgs...)
	for _, msg := range raw {
		result = append(result, provider.Message{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return result
}

var summaryPreamble = strings.Join([]string{
	"以下是此前对话的压缩摘要，作为后续回答的背景：",
	"",
}, "\n")
