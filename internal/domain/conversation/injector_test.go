package conversation_test

import (
	"strings"
	"testing"

	"readnest/internal/domain/conversation"
)

// TestBuildContextOrder 摘要在前（由旧到新），原始消息在后（按时间序）
func TestBuildContextOrder(t *testing.T) {
	injector := conversation.NewInjector(nil, &conversation.CompressorConfig{}, 100000)

	records := []conversation.CompressionRecord{
		{StartOrdinal: 1, EndOrdinal: 10, Summary: "<conversation_summary>早期</conversation_summary>"},
		{StartOrdinal: 11, EndOrdinal: 20, Summary: "<conversation_summary>后期</conversation_summary>"},
	}
	unsummarized := []conversation.Message{
		{Role: conversation.RoleUser, Content: "最新问题", Ordinal: 21},
		{Role: conversation.RoleAssistant, Content: "最新回答", Ordinal: 22},
	}

	ctx := injector.BuildContext(records, unsummarized)
	if len(ctx) != 4 {
		t.Fatalf("context length = %d, want 4", len(ctx))
	}

	if ctx[0].Role != conversation.RoleSystem || !strings.Contains(ctx[0].Content, "早期") {
		t.Errorf("first message should be oldest summary, got role=%s content=%q", ctx[0].Role, ctx[0].Content)
	}
	if ctx[1].Role != conversation.RoleSystem || !strings.Contains(ctx[1].Content, "后期") {
		t.Errorf("second message should be newest summary, got role=%s content=%q", ctx[1].Role, ctx[1].Content)
	}
	if ctx[2].Content != "最新问题" || ctx[3].Content != "最新回答" {
		t.Errorf("raw messages out of order: %q, %q", ctx[2].Content, ctx[3].Content)
	}
}

// TestBuildContextTruncation 预算不够时从最老的原始消息截断，最新一条永不截断
func TestBuildContextTruncation(t *testing.T) {
	// 每条 30 rune ≈ 20 token + 4 开销 = 24 token
	injector := conversation.NewInjector(nil, &conversation.CompressorConfig{}, 50)

	unsummarized := []conversation.Message{
		{Role: conversation.RoleUser, Content: strings.Repeat("一", 30), Ordinal: 1},
		{Role: conversation.RoleAssistant, Content: strings.Repeat("二", 30), Ordinal: 2},
		{Role: conversation.RoleUser, Content: strings.Repeat("三", 30), Ordinal: 3},
	}

	ctx := injector.BuildContext(nil, unsummarized)
	if len(ctx) != 2 {
		t.Fatalf("context length = %d, want 2 (oldest message dropped)", len(ctx))
	}
	if ctx[len(ctx)-1].Content != unsummarized[2].Content {
		t.Error("newest message was dropped by truncation")
	}

	// 预算极小：也至少保留最新一条
	tight := conversation.NewInjector(nil, &conversation.CompressorConfig{}, 1)
	ctx = tight.BuildContext(nil, unsummarized)
	if len(ctx) != 1 {
		t.Fatalf("context length = %d, want 1 under minimal budget", len(ctx))
	}
	if ctx[0].Content != unsummarized[2].Content {
		t.Error("surviving message should be the newest one")
	}
}

// TestBuildContextSummariesNotTruncated 摘要本身是压缩产物，不参与截断
func TestBuildContextSummariesNotTruncated(t *testing.T) {
	injector := conversation.NewInjector(nil, &conversation.CompressorConfig{}, 10)

	records := []conversation.CompressionRecord{
		{StartOrdinal: 1, EndOrdinal: 10, Summary: "<conversation_summary>" + strings.Repeat("摘", 100) + "</conversation_summary>"},
	}
	unsummarized := []conversation.Message{
		{Role: conversation.RoleUser, Content: "新消息", Ordinal: 11},
	}

	ctx := injector.BuildContext(records, unsummarized)
	if len(ctx) != 2 {
		t.Fatalf("context length = %d, want 2 (summary + newest raw)", len(ctx))
	}
	if ctx[0].Role != conversation.RoleSystem {
		t.Error("summary message dropped under budget pressure")
	}
}

// TestInjectorBudgetFallback 预算未设置时使用全局默认值
func TestInjectorBudgetFallback(t *testing.T) {
	injector := conversation.NewInjector(nil, &conversation.CompressorConfig{}, 0)
	if injector.Budget() <= 0 {
		t.Errorf("Budget() = %d, want positive default", injector.Budget())
	}

	explicit := conversation.NewInjector(nil, &conversation.CompressorConfig{}, 1234)
	if explicit.Budget() != 1234 {
		t.Errorf("Budget() = %d, want 1234", explicit.Budget())
	}
}

// TestNeedsCompression 与压缩触发条件一致
func TestNeedsCompression(t *testing.T) {
	cfg := &conversation.CompressorConfig{TokenCeiling: 100000, TurnCeiling: 5, HotWindowTurns: 2}
	injector := conversation.NewInjector(nil, cfg, 100000)

	if injector.NeedsCompression(makeTurns(5)) {
		t.Error("5 turns should not trigger with turn ceiling 5")
	}
	if !injector.NeedsCompression(makeTurns(6)) {
		t.Error("6 turns should trigger with turn ceiling 5")
	}
}
