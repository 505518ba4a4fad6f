package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string         `json:"log_level"`
	LogFormat string         `json:"log_format"`
	Server    ServerConfig   `json:"server"`
	Database  DatabaseConfig `json:"database"`
	Redis     RedisConfig    `json:"redis"`
	Auth      AuthConfig     `json:"auth"`
	OpenAI    OpenAIConfig   `json:"openai"`
	Chat      ChatConfig     `json:"chat"`
	Hub       HubConfig      `json:"hub"`
	Search    SearchConfig   `json:"search"`
	Runtime   RuntimeConfig  `json:"runtime"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	JWTIssuer     string `json:"jwt_issuer"`
	TokenTTLHours int    `json:"token_ttl_hours"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// ChatConfig AI 对话与上下文压缩配置
type ChatConfig struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TokenCeiling   int     `json:"token_ceiling"`    // 未压缩消息 Token 上限
	TurnCeiling    int     `json:"turn_ceiling"`     // 未压缩轮次上限
	HotWindowTurns int     `json:"hot_window_turns"` // 始终保留原文的最近轮次数
	ContextBudget  int     `json:"context_budget"`   // 组装上下文的 Token 预算
	TurnTimeoutSec int     `json:"turn_timeout_seconds"`
}

type HubConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

type SearchConfig struct {
	IndexPrefix string `json:"index_prefix"`
}

type RuntimeConfig struct {
	ShutdownTimeoutSeconds  int `json:"shutdown_timeout_seconds"`
	MigrationTimeoutSeconds int `json:"migration_timeout_seconds"`
	RedisPingTimeoutSeconds int `json:"redis_ping_timeout_seconds"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Auth: AuthConfig{
			TokenTTLHours: 24,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Chat: ChatConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			Temperature:    0.7,
			TokenCeiling:   3000,
			TurnCeiling:    10,
			HotWindowTurns: 3,
			ContextBudget:  8000,
			TurnTimeoutSec: 120,
		},
		Hub: HubConfig{
			CacheTTLSeconds: 300,
		},
		Search: SearchConfig{
			IndexPrefix: "readnest-docs",
		},
		Runtime: RuntimeConfig{
			ShutdownTimeoutSeconds:  10,
			MigrationTimeoutSeconds: 30,
			RedisPingTimeoutSeconds: 5,
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DB_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DB_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)
	applyInt("JWT_TOKEN_TTL_HOURS", &c.Auth.TokenTTLHours)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	applyString("CHAT_PROVIDER", &c.Chat.Provider)
	applyString("CHAT_MODEL", &c.Chat.Model)
	applyFloat("CHAT_TEMPERATURE", &c.Chat.Temperature)
	applyInt("CHAT_TOKEN_CEILING", &c.Chat.TokenCeiling)
	applyInt("CHAT_TURN_CEILING", &c.Chat.TurnCeiling)
	applyInt("CHAT_HOT_WINDOW_TURNS", &c.Chat.HotWindowTurns)
	applyInt("CHAT_CONTEXT_BUDGET", &c.Chat.ContextBudget)
	applyInt("CHAT_TURN_TIMEOUT", &c.Chat.TurnTimeoutSec)

	applyInt("HUB_CACHE_TTL", &c.Hub.CacheTTLSeconds)

	applyString("SEARCH_INDEX_PREFIX", &c.Search.IndexPrefix)

	applyInt("SHUTDOWN_TIMEOUT", &c.Runtime.ShutdownTimeoutSeconds)
	applyInt("MIGRATION_TIMEOUT", &c.Runtime.MigrationTimeoutSeconds)
	applyInt("REDIS_PING_TIMEOUT", &c.Runtime.RedisPingTimeoutSeconds)
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Chat.HotWindowTurns < 1 {
		return fmt.Errorf("chat.hot_window_turns must be >= 1")
	}
	return nil
}

func applyString(key string, target *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat(key string, target *float64) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}
