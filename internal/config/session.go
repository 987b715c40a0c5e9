package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// SessionConfig はsessionサブコマンド（ヘッドレスのクライアントセッション）の設定。
// サーバー用のConfigとは独立しており、DATABASE_URLは不要。
type SessionConfig struct {
	PortalURL       string
	SupabaseURL     string
	SupabaseAnonKey string

	Email    string
	Password string

	// Mode は "identity"（IdPセッション）または "password"（パスワードログインのローカルフラグ）。
	Mode             string
	Route            string
	AcceptDisclaimer bool
	// Hold は入場後にハートビートを送り続ける時間。0なら即座にサインアウトする。
	Hold             time.Duration
	// StrictRoleLookup はIdPセッションでもロール取得失敗を未認証として扱う。
	StrictRoleLookup bool
	DisclaimerWindow time.Duration
	LogLevel         string

	// 公開IPの取得先。空ならgeo.DefaultDiscoveryURL。
	IPDiscoveryURL string
	GeoLookup      bool
}

// LoadSession は環境変数からSessionConfigを読み込む。
func LoadSession() (*SessionConfig, error) {
	cfg := &SessionConfig{
		PortalURL:        strings.TrimRight(getEnvString("PORTAL_URL", getEnvString("BASE_URL", "http://localhost:8080")), "/"),
		SupabaseURL:      strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseAnonKey:  os.Getenv("SUPABASE_ANON_KEY"),
		Email:            os.Getenv("SESSION_EMAIL"),
		Password:         os.Getenv("SESSION_PASSWORD"),
		Mode:             strings.ToLower(getEnvString("SESSION_MODE", "identity")),
		Route:            getEnvString("SESSION_ROUTE", "dashboard"),
		AcceptDisclaimer: getEnvBool("SESSION_ACCEPT_DISCLAIMER", false),
		Hold:             getEnvDuration("SESSION_HOLD", 0),
		StrictRoleLookup: getEnvBool("SESSION_STRICT_ROLE_LOOKUP", false),
		DisclaimerWindow: getEnvDuration("DISCLAIMER_WINDOW", 90*24*time.Hour),
		LogLevel:         getEnvString("LOG_LEVEL", "info"),
		IPDiscoveryURL:   os.Getenv("SESSION_IP_DISCOVERY_URL"),
		GeoLookup:        getEnvBool("SESSION_GEO_LOOKUP", true),
	}

	var missing []string
	for _, kv := range [][2]string{
		{"SUPABASE_URL", cfg.SupabaseURL},
		{"SUPABASE_ANON_KEY", cfg.SupabaseAnonKey},
		{"SESSION_EMAIL", cfg.Email},
		{"SESSION_PASSWORD", cfg.Password},
	} {
		if kv[1] == "" {
			missing = append(missing, kv[0])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.Mode != "identity" && cfg.Mode != "password" {
		return nil, fmt.Errorf("SESSION_MODE must be identity or password, got %q", cfg.Mode)
	}
	return cfg, nil
}

func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultVal
	}
}
