// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// セッションストアの種類
const (
	SessionStorePostgres = "postgres"
	SessionStoreMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth / OIDC
	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string
	OIDCIssuer         string
	OIDCAuthURL        string
	OIDCTokenURL       string
	OIDCUserInfoURL    string
	OIDCScopes         []string

	// Session
	SessionSecret          string
	SessionMaxAge          time.Duration
	SessionResave          bool
	SessionStore           string
	SessionCleanupInterval time.Duration

	// Password
	BcryptCost int

	// Rate Limit（1分あたりのリクエスト数/IP）
	RateLimitAuth int

	// Server
	Port        string
	FrontWebURL string
	AppEnv      string

	// Logging
	LogLevel string
}

// IsProduction は本番環境かどうかを返す。セッションCookieのSecure属性に使う。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.Port = getEnvString("PORT", "4003")
	cfg.FrontWebURL = getEnvString("FRONT_WEB_URL", "http://localhost:3000")
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.GoogleCallbackURL = getEnvString("GOOGLE_CALLBACK_URL", "http://localhost:"+cfg.Port+"/api/auth/google/callback")
	cfg.OIDCIssuer = getEnvString("OIDC_ISSUER", "https://accounts.google.com")
	cfg.OIDCAuthURL = getEnvString("OIDC_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth")
	cfg.OIDCTokenURL = getEnvString("OIDC_TOKEN_URL", "https://oauth2.googleapis.com/token")
	cfg.OIDCUserInfoURL = getEnvString("OIDC_USERINFO_URL", "https://openidconnect.googleapis.com/v1/userinfo")
	cfg.OIDCScopes = getEnvList("OIDC_SCOPES", []string{"openid", "profile", "email"})
	cfg.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", 24*time.Hour)
	cfg.SessionResave = getEnvBool("SESSION_RESAVE", true)
	cfg.SessionStore = strings.ToLower(getEnvString("SESSION_STORE", SessionStorePostgres))
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if cfg.SessionStore != SessionStorePostgres && cfg.SessionStore != SessionStoreMemory {
		return nil, fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStorePostgres, SessionStoreMemory, cfg.SessionStore)
	}

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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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

// getEnvList はカンマ区切りの値を読み込む。空要素は除く。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
