package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Shopify OAuth
	ShopifyClientID     string
	ShopifyClientSecret string
	ShopifyRedirectURL  string

	// OAuth state
	OAuthStateTTL time.Duration

	// Extractor
	FetchTimeout     time.Duration
	FetchMaxSize     int64
	ExtractUserAgent string
	FallbackCurrency string
	ExtractSelectors []string // 空なら抽出器の既定リストを使用

	// Sync
	SyncMaxConcurrent  int
	SyncInterval       time.Duration
	SyncRetryMax       int
	SyncRetryBaseDelay time.Duration
	TokenRefreshMargin time.Duration
	PlatformPageSize   int

	// Rate Limit（req/min単位）
	RateLimitGeneral int
	RateLimitSync    int

	// Server
	ServerPort  string
	MetricsPort string
	BaseURL     string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.ShopifyClientID = os.Getenv("SHOPIFY_CLIENT_ID")
	if cfg.ShopifyClientID == "" {
		missing = append(missing, "SHOPIFY_CLIENT_ID")
	}

	cfg.ShopifyClientSecret = os.Getenv("SHOPIFY_CLIENT_SECRET")
	if cfg.ShopifyClientSecret == "" {
		missing = append(missing, "SHOPIFY_CLIENT_SECRET")
	}

	cfg.ShopifyRedirectURL = os.Getenv("SHOPIFY_REDIRECT_URL")
	if cfg.ShopifyRedirectURL == "" {
		missing = append(missing, "SHOPIFY_REDIRECT_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.OAuthStateTTL = getEnvDuration("OAUTH_STATE_TTL", 10*time.Minute)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.ExtractUserAgent = getEnvString("EXTRACT_USER_AGENT",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 Pricewatch/1.0")
	cfg.FallbackCurrency = getEnvString("EXTRACT_FALLBACK_CURRENCY", "USD")
	cfg.ExtractSelectors = getEnvList("EXTRACT_SELECTORS")
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 10)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 30*time.Minute)
	cfg.SyncRetryMax = getEnvInt("SYNC_RETRY_MAX", 3)
	cfg.SyncRetryBaseDelay = getEnvDuration("SYNC_RETRY_BASE_DELAY", 500*time.Millisecond)
	cfg.TokenRefreshMargin = getEnvDuration("TOKEN_REFRESH_MARGIN", 5*time.Minute)
	cfg.PlatformPageSize = getEnvInt("PLATFORM_PAGE_SIZE", 50)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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

// getEnvList はカンマ区切りの環境変数を順序を保ってスライスに変換する。
// 未設定または空の場合はnilを返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
