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

	// Supabase
	SupabaseURL            string
	SupabaseAnonKey        string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string
	BackendTimeout         time.Duration

	// Session
	SessionMaxAge          int
	SessionShortMaxAge     int
	StoreIdleTTL           time.Duration
	SessionCleanupInterval time.Duration

	// Auth flows
	ResetRedirectDelay   time.Duration
	ConfirmRedirectDelay time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Locale
	AppTimezone     string
	DefaultLanguage string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.SupabaseURL = strings.TrimRight(required("SUPABASE_URL"), "/")
	cfg.SupabaseAnonKey = required("SUPABASE_ANON_KEY")
	cfg.SupabaseServiceRoleKey = required("SUPABASE_SERVICE_ROLE_KEY")
	cfg.BaseURL = strings.TrimRight(required("BASE_URL"), "/")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SupabaseJWTSecret = getEnvString("SUPABASE_JWT_SECRET", "")
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 10*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	cfg.SessionShortMaxAge = getEnvInt("SESSION_SHORT_MAX_AGE", 43200)
	cfg.StoreIdleTTL = getEnvDuration("STORE_IDLE_TTL", 30*time.Minute)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.ResetRedirectDelay = getEnvDuration("RESET_REDIRECT_DELAY", 3*time.Second)
	cfg.ConfirmRedirectDelay = getEnvDuration("CONFIRM_REDIRECT_DELAY", 3*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.AppTimezone = getEnvString("APP_TIMEZONE", "Asia/Tbilisi")
	cfg.DefaultLanguage = getEnvString("DEFAULT_LANGUAGE", "ka")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt は正の整数を読み込む。不正な値や0以下はデフォルト値を使う。
func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
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
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}
