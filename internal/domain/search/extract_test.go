package search_test

import (
	"strings"
	"testing"

	"readnest/internal/domain/search"
)

// TestExtractPlainText 纯文本/Markdown 按扩展名识别
func TestExtractPlainText(t *testing.T) {
	tests := []struct {
		filename   string
		input      string
		wantFormat string
	}{
		{"notes.txt", "  第一行\n第二行  ", "txt"},
		{"README.md", "# 标题\n\n正文", "md"},
		{"article.markdown", "正文", "markdown"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			result, err := search.ExtractText(strings.NewReader(tt.input), tt.filename)
			if err != nil {
				t.Fatalf("ExtractText failed: %v", err)
			}
			if result.Format != tt.wantFormat {
				t.Errorf("format = %q, want %q", result.Format, tt.wantFormat)
			}
			if result.Content != strings.TrimSpace(tt.input) {
				t.Errorf("content = %q, want trimmed input", result.Content)
			}
		})
	}
}

// TestExtractUnsupportedType 不支持的扩展名直接报错
func TestExtractUnsupportedType(t *testing.T) {
	if _, err := search.ExtractText(strings.NewReader("data"), "photo.png"); err == nil {
		t.Error("png should be rejected")
	}
	if _, err := search.ExtractText(strings.NewReader("data"), "noext"); err == nil {
		t.Error("file without extension should be rejected")
	}
}

// TestExtractBrokenBinary 损坏的 PDF/DOCX 返回错误而非 panic
func TestExtractBrokenBinary(t *testing.T) {
	if _, err := search.ExtractText(strings.NewReader("not a real pdf"), "broken.pdf"); err == nil {
		t.Error("broken pdf should return an error")
	}
	if _, err := search.ExtractText(strings.NewReader("not a real docx"), "broken.docx"); err == nil {
		t.Error("broken docx should return an error")
	}
}

// TestSupportedTypes 覆盖全部声明的扩展名
func TestSupportedTypes(t *testing.T) {
	want := map[string]bool{
		".pdf": true, ".docx": true, ".txt": true,
		".md": true, ".markdown": true, ".text": true,
	}
	got := search.SupportedTypes()
	if len(got) != len(want) {
		t.Fatalf("SupportedTypes has %d entries, want %d", len(got), len(want))
	}
	for _, ext := range got {
		if !want[ext] {
			t.Errorf("unexpected supported type %q", ext)
		}
	}
}
