package search

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	applog "readnest/internal/platform/log"
)

// ExtractResult 文档抽取结果
type ExtractResult struct {
	Content string `json:"content"`
	Format  string `json:"format"`
	Pages   int    `json:"pages,omitempty"`
}

// ExtractText 按扩展名抽取文档纯文本（入库索引前调用）
func ExtractText(reader io.Reader, filename string) (*ExtractResult, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDF(reader)
	case ".docx":
		return extractDOCX(reader)
	case ".txt", ".md", ".markdown", ".text":
		return extractPlain(reader, filename)
	default:
		return nil, fmt.Errorf("unsupported document type: %s", filepath.Ext(filename))
	}
}

// SupportedTypes 支持的文件扩展名
func SupportedTypes() []string {
	return []string{".pdf", ".docx", ".txt", ".md", ".markdown", ".text"}
}

func extractPlain(reader io.Reader, filename string) (*ExtractResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return &ExtractResult{
		Content: strings.TrimSpace(string(data)),
		Format:  strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
	}, nil
}

func extractPDF(reader io.Reader) (*ExtractResult, error) {
	// pdf 库需要 io.ReaderAt + size，先读到内存
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf data: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	var sb strings.Builder

	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			applog.Warn("[Search/PDF] Failed to extract page text", "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	return &ExtractResult{
		Content: strings.TrimSpace(cleanExtraNewlines(sb.String())),
		Format:  "pdf",
		Pages:   pages,
	}, nil
}

func extractDOCX(reader io.Reader) (*ExtractResult, error) {
	// docx 库需要 io.ReaderAt；先读到内存
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read docx data: %w", err)
	}

	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	var sb strings.Builder
	content := r.Editable().GetContent()

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	return &ExtractResult{
		Content: strings.TrimSpace(cleanExtraNewlines(sb.String())),
		Format:  "docx",
	}, nil
}

var reMultiNewlines = regexp.MustCompile(`\n{3,}`)

func cleanExtraNewlines(text string) string {
	return reMultiNewlines.ReplaceAllString(text, "\n\n")
}
