package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"readnest/internal/domain/search"
	applog "readnest/internal/platform/log"
)

// DocumentHandler 文档抽取/索引 API 处理器
type DocumentHandler struct {
	indexPrefix string
	maxFileMB   int
}

// NewDocumentHandler 创建处理器
func NewDocumentHandler(indexPrefix string, maxFileMB int) *DocumentHandler {
	if maxFileMB <= 0 {
		maxFileMB = 20
	}
	return &DocumentHandler{indexPrefix: indexPrefix, maxFileMB: maxFileMB}
}

// RegisterRoutes 注册路由
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/documents/extract", h.ExtractDocument)
	r.Get("/api/v1/documents/index-info", h.IndexInfo)
}

// ExtractDocument 上传文档并抽取纯文本（multipart 字段名 file）
func (h *DocumentHandler) ExtractDocument(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())

	maxBytes := int64(h.maxFileMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form or file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	result, err := search.ExtractText(file, header.Filename)
	if err != nil {
		if strings.Contains(err.Error(), "unsupported document type") {
			writeError(w, http.StatusBadRequest, "unsupported document type, expected: "+strings.Join(search.SupportedTypes(), " "))
			return
		}
		applog.Error("[Documents] Extract failed",
			"user_id", identity.UserID,
			"filename", header.Filename,
			"error", err,
		)
		writeError(w, http.StatusUnprocessableEntity, "failed to extract document text")
		return
	}

	applog.Info("[Documents] Text extracted",
		"user_id", identity.UserID,
		"filename", header.Filename,
		"format", result.Format,
		"content_length", len(result.Content),
	)
	writeJSON(w, http.StatusOK, result)
}

// IndexInfo 返回当前写入索引与检索别名
func (h *DocumentHandler) IndexInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"write_index":  search.MonthlyIndexName(h.indexPrefix, time.Now()),
		"search_alias": search.AliasName(h.indexPrefix),
	})
}
