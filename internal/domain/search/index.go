package search

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// 知识库文档按月分索引写入 Elasticsearch，检索走统一别名。
// 本包只负责索引命名约定，不封装检索协议。

const (
	// DefaultIndexPrefix 默认索引前缀
	DefaultIndexPrefix = "readnest-docs"
)

var reIndexPrefix = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidIndexPrefix 校验索引前缀是否符合 Elasticsearch 命名限制
func ValidIndexPrefix(prefix string) bool {
	return reIndexPrefix.MatchString(prefix)
}

// MonthlyIndexName 返回按月切分的索引名，如 readnest-docs-2026.08
func MonthlyIndexName(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	return fmt.Sprintf("%s-%s", prefix, t.UTC().Format("2006.01"))
}

// AliasName 返回检索用的统一别名，如 readnest-docs-all
func AliasName(prefix string) string {
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	return prefix + "-all"
}

// IndexPattern 返回覆盖全部月度索引的通配模式（删除/管理用）
func IndexPattern(prefix string) string {
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	return prefix + "-*"
}

// ParseIndexMonth 从索引名解析出月份；非本约定的索引名返回错误
func ParseIndexMonth(prefix, indexName string) (time.Time, error) {
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	suffix, ok := strings.CutPrefix(indexName, prefix+"-")
	if !ok {
		return time.Time{}, fmt.Errorf("index %q does not match prefix %q", indexName, prefix)
	}
	t, err := time.Parse("2006.01", suffix)
	if err != nil {
		return time.Time{}, fmt.Errorf("index %q has no month suffix: %w", indexName, err)
	}
	return t, nil
}
