package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Telegram
	BotToken       string
	AnnounceChatID string

	// Session
	SessionSecret string
	SessionTTL    time.Duration

	// Auth
	AuthMaxAge time.Duration

	// Sweep
	SweepInterval time.Duration

	// Broadcast
	BroadcastTimeout time.Duration

	// Rate Limit
	RateLimitGeneral  int
	RateLimitProposal int

	// Server
	ServerPort  string
	MetricsPort string
	BaseURL     string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// BOT_TOKENは起動ペイロードの署名検証用、SESSION_SECRETはセッション
// トークンの署名用で、必ず別の秘密として扱う。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BotToken = os.Getenv("BOT_TOKEN")
	if cfg.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.AnnounceChatID = os.Getenv("ANNOUNCE_CHAT_ID")
	if cfg.AnnounceChatID == "" {
		missing = append(missing, "ANNOUNCE_CHAT_ID")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.SessionSecret == cfg.BotToken {
		return nil, fmt.Errorf("SESSION_SECRET must differ from BOT_TOKEN")
	}

	// Optional fields with defaults
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 7*24*time.Hour)
	cfg.AuthMaxAge = getEnvDuration("AUTH_MAX_AGE", time.Hour)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", time.Minute)
	cfg.BroadcastTimeout = getEnvDuration("BROADCAST_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitProposal = getEnvInt("RATE_LIMIT_PROPOSAL", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
