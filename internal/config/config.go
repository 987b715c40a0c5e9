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

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string // カンマ区切りで複数指定可

	// Logging
	LogLevel string

	// Geolocation
	RedisURL         string
	GeoLookupTimeout time.Duration
	GeoCacheTTL      time.Duration

	// Disclaimer
	DisclaimerWindow time.Duration

	// Supabase
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string

	// Provisioning
	AllowedSignupDomains   []string
	DefaultSignupRole      string
	ProvisionWebhookSecret string

	// Rate Limit（req/min/IP）
	RateLimitGeneral int
	RateLimitLogin   int

	// Retention
	LoginRetentionDays int
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

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.GeoLookupTimeout = getEnvDuration("GEO_LOOKUP_TIMEOUT", 5*time.Second)
	cfg.GeoCacheTTL = getEnvDuration("GEO_CACHE_TTL", 24*time.Hour)
	cfg.DisclaimerWindow = getEnvDuration("DISCLAIMER_WINDOW", 90*24*time.Hour)
	cfg.SupabaseURL = strings.TrimRight(getEnvString("SUPABASE_URL", ""), "/")
	cfg.SupabaseAnonKey = getEnvString("SUPABASE_ANON_KEY", "")
	cfg.SupabaseJWTSecret = getEnvString("SUPABASE_JWT_SECRET", "")
	cfg.AllowedSignupDomains = getEnvList("ALLOWED_SIGNUP_DOMAINS")
	cfg.DefaultSignupRole = getEnvString("DEFAULT_SIGNUP_ROLE", "new")
	cfg.ProvisionWebhookSecret = getEnvString("PROVISION_WEBHOOK_SECRET", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.LoginRetentionDays = getEnvInt("LOGIN_RETENTION_DAYS", 365)

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

// getEnvList はカンマ区切りの環境変数を小文字化したスライスとして返す。空要素は無視する。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
