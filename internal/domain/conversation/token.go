package conversation

// TokenEstimator Token 估算器接口
type TokenEstimator interface {
	// EstimateTokens 估算文本的 Token 数（离线近似，单调不减）
	EstimateTokens(text string) int
}

// SimpleTokenEstimator 简单 Token 估算器
// 英文约 4 字符 ≈ 1 token，中文约 1.5 字符 ≈ 1 token
// 取保守估计：rune 数量 * 2 / 3，非空文本至少计 1
type SimpleTokenEstimator struct{}

// EstimateTokens 估算文本的 Token 数
func (e *SimpleTokenEstimator) EstimateTokens(text string) int {
	runes := len([]rune(text))
	if runes == 0 {
		return 0
	}
	if n := runes * 2 / 3; n > 0 {
		return n
	}
	return 1
}

// ShouldUseDirectContent 判断全文是否能放进剩余预算。
// 放不下时调用方需要截断或走摘要。
func ShouldUseDirectContent(estimator TokenEstimator, text string, budget int) bool {
	return estimator.EstimateTokens(text) <= budget
}

// EstimateMessages 批量估算消息列表的 Token 数
func EstimateMessages(estimator TokenEstimator, messages []Message) int {
	total := 0
	for _, msg := range messages {
		// 每条消息有 role 标记开销（约 4 token）
		total += 4
		total += estimator.EstimateTokens(msg.Content)
	}
	return total
}
