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
	DatabaseURL        string
	StoreTxMaxAttempts int
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration

	// Gateway
	GatewayToken string

	// Issuance rate limit
	RateLimitPerMinute int
	RateLimitPerDay    int

	// HTTP front-door rate limit (requests per minute per caller)
	HTTPRateLimitPerMinute int

	// Voucher
	VoucherCodeLength int

	// Calendar
	ReferenceTimezone string
	Location          *time.Location

	// CEO
	CEOEmail    string
	CEOPassCode string

	// Catalog
	CatalogPath string

	// Audit
	AuditBufferSize int

	// Cleanup
	RetentionDays     int
	CleanupBatchLimit int
	CleanupInterval   time.Duration

	// Notify
	NotifyWebhookURL string
	NotifyTimeout    time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
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

	cfg.GatewayToken = os.Getenv("GATEWAY_TOKEN")
	if cfg.GatewayToken == "" {
		missing = append(missing, "GATEWAY_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.StoreTxMaxAttempts = getEnvInt("STORE_TX_MAX_ATTEMPTS", 5)
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 5)
	cfg.RateLimitPerDay = getEnvInt("RATE_LIMIT_PER_DAY", 200)
	cfg.HTTPRateLimitPerMinute = getEnvInt("HTTP_RATE_LIMIT_PER_MINUTE", 120)
	cfg.VoucherCodeLength = getEnvInt("VOUCHER_CODE_LENGTH", 6)
	cfg.ReferenceTimezone = getEnvString("REFERENCE_TIMEZONE", "America/Denver")
	cfg.CEOEmail = getEnvString("CEO_EMAIL", "")
	cfg.CEOPassCode = getEnvString("CEO_PASS_CODE", "")
	cfg.CatalogPath = getEnvString("CATALOG_PATH", "")
	cfg.AuditBufferSize = getEnvInt("AUDIT_BUFFER_SIZE", 256)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 30)
	cfg.CleanupBatchLimit = getEnvInt("CLEANUP_BATCH_LIMIT", 500)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.NotifyWebhookURL = getEnvString("NOTIFY_WEBHOOK_URL", "")
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	loc, err := time.LoadLocation(cfg.ReferenceTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid REFERENCE_TIMEZONE %q: %w", cfg.ReferenceTimezone, err)
	}
	cfg.Location = loc

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
