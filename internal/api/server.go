package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	redisdb "readnest/internal/db/redis"
	"readnest/internal/domain/conversation"
	"readnest/internal/domain/reading"
	"readnest/internal/platform/auth"
	applog "readnest/internal/platform/log"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string        // JWT 签名密钥（必填）
	JWTIssuer    string        // JWT 签发者（可选）
	TokenTTL     time.Duration // Token 有效期
	Chat         ChatConfig
	IndexPrefix  string // 文档检索索引前缀
	MaxFileMB    int    // 文档上传上限
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		TokenTTL:     24 * time.Hour,
	}
}

// Server HTTP 服务器
type Server struct {
	config   *ServerConfig
	repo     reading.Repository
	sessions *conversation.Manager
	hubCache *redisdb.HubCache
	httpSrv  *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, repo reading.Repository, sessions *conversation.Manager) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config:   config,
		repo:     repo,
		sessions: sessions,
	}
}

// SetHubCache 设置广场 Feed 缓存（可选）
func (s *Server) SetHubCache(cache *redisdb.HubCache) {
	s.hubCache = cache
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 readnest API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	tokenCfg := auth.TokenConfig{
		Secret:    s.config.JWTSecret,
		Issuer:    s.config.JWTIssuer,
		ExpiresIn: s.config.TokenTTL,
	}
	authHandler := NewAuthHandler(s.repo, tokenCfg)
	noteHandler := NewNoteHandler(s.repo)
	favoriteHandler := NewFavoriteHandler(s.repo)
	hubHandler := NewHubHandler(s.repo, s.hubCache)
	documentHandler := NewDocumentHandler(s.config.IndexPrefix, s.config.MaxFileMB)
	chatHandler := NewChatHandler(s.sessions, s.config.Chat)

	jwtCfg := &JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	}
	authMW := authMiddleware(jwtCfg, s.repo)

	authHandler.RegisterPublicRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(authMW)
		authHandler.RegisterProtectedRoutes(r)
		noteHandler.RegisterRoutes(r)
		favoriteHandler.RegisterRoutes(r)
		hubHandler.RegisterRoutes(r)
		documentHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)
	})

	return r, nil
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
