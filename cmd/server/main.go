package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"readnest/internal/adapter/provider/llm/openai"
	"readnest/internal/api"
	"readnest/internal/db/postgres"
	redisdb "readnest/internal/db/redis"
	"readnest/internal/domain/conversation"
	"readnest/internal/platform/config"
	applog "readnest/internal/platform/log"
	"readnest/internal/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	repo := postgres.NewRepository(db)
	sessionStore := postgres.NewSessionStore(db)

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.MigrationTimeoutSeconds)*time.Second)
	defer migrateCancel()
	if err := repo.EnsureTables(migrateCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure reading tables: %v", err)
	}
	applog.Info("✅ Reading tables ready (users, notes, favorites, hubs)")
	if err := sessionStore.EnsureTables(migrateCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure chat tables: %v", err)
	}
	applog.Info("✅ Chat tables ready (chat_sessions, chat_messages, chat_compressions)")

	provider.RegisterProvider(openai.New(openai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	}))
	applog.Infof("✅ LLM provider registered (providers: %v)", provider.ListProviders())

	redisClient := initRedis(cfg)
	sessions := initConversation(cfg, sessionStore, redisClient)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	serverConfig.TokenTTL = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	serverConfig.IndexPrefix = cfg.Search.IndexPrefix
	serverConfig.Chat = api.ChatConfig{
		Provider:    cfg.Chat.Provider,
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
		TurnTimeout: time.Duration(cfg.Chat.TurnTimeoutSec) * time.Second,
	}

	server := api.NewServer(serverConfig, repo, sessions)
	if redisClient != nil {
		server.SetHubCache(redisdb.NewHubCache(redisClient, cfg.Hub.CacheTTLSeconds))
		applog.Infof("✅ Hub feed cache initialized (TTL: %ds)", cfg.Hub.CacheTTLSeconds)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

// initRedis 连接 Redis；未配置时返回 nil（压缩锁与广场缓存退化为关闭）
func initRedis(cfg *config.AppConfig) *goredis.Client {
	if cfg.Redis.URL == "" {
		applog.Info("ℹ️  No REDIS_URL set, compress lock and hub cache disabled")
		return nil
	}

	opt, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		applog.Fatalf("❌ Invalid REDIS_URL: %v", err)
	}

	client := goredis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Runtime.RedisPingTimeoutSeconds)*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		applog.Fatalf("❌ Redis connection failed: %v", err)
	}
	applog.Info("✅ Connected to Redis")
	return client
}

// initConversation 组装会话上下文管理核心
func initConversation(cfg *config.AppConfig, store conversation.SessionStore, redisClient *goredis.Client) *conversation.Manager {
	conversation.SetCompressorDefaults(cfg.Chat.TokenCeiling, cfg.Chat.TurnCeiling, cfg.Chat.HotWindowTurns)
	conversation.SetContextBudget(cfg.Chat.ContextBudget)

	estimator := &conversation.SimpleTokenEstimator{}
	compressorCfg := &conversation.CompressorConfig{
		TokenCeiling:   cfg.Chat.TokenCeiling,
		TurnCeiling:    cfg.Chat.TurnCeiling,
		HotWindowTurns: cfg.Chat.HotWindowTurns,
	}

	compressor := conversation.NewCompressor(cfg.Chat.Provider, cfg.Chat.Model, estimator, store, compressorCfg)
	if redisClient != nil {
		compressor.WithLock(redisdb.NewCompressLock(redisClient))
		applog.Info("✅ Compression lock enabled (Redis SETNX)")
	}

	injector := conversation.NewInjector(estimator, compressorCfg, cfg.Chat.ContextBudget)

	applog.Infof("✅ Conversation manager initialized (provider: %s, model: %s, token_ceiling: %d, turn_ceiling: %d, hot_window: %d, budget: %d)",
		cfg.Chat.Provider, cfg.Chat.Model, cfg.Chat.TokenCeiling, cfg.Chat.TurnCeiling, cfg.Chat.HotWindowTurns, cfg.Chat.ContextBudget)

	return conversation.NewManager(store, compressor, injector)
}
