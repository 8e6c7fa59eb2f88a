package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram
	BotToken string

	// Stores
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Webhook listener
	WebhookAddr string

	// Public base URL for the gateway's return/cancel/notify redirects.
	PublicBaseURL string

	// PayFast
	PayFastMerchantID     string
	PayFastMerchantKey    string
	PayFastPassphrase     string
	PayFastSandbox        bool
	PayFastValidateRemote bool

	// Entitlements
	DefaultCurrency       string
	SubscriptionExtension time.Duration
	SessionTTLHours       int

	// Background sweeps
	ExpirySweepInterval  time.Duration
	RemovalSweepInterval time.Duration
}

func Load() *Config {
	return &Config{
		BotToken: getEnv("BOT_TOKEN", ""),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisAddr:     getEnv("REDIS_HOST", "localhost") + ":" + getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		WebhookAddr:   getEnv("WEBHOOK_ADDR", ":8080"),
		PublicBaseURL: strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", ""), "/"),

		PayFastMerchantID:     getEnv("PAYFAST_MERCHANT_ID", ""),
		PayFastMerchantKey:    getEnv("PAYFAST_MERCHANT_KEY", ""),
		PayFastPassphrase:     getEnv("PAYFAST_PASSPHRASE", ""),
		PayFastSandbox:        getEnvBool("PAYFAST_SANDBOX", true),
		PayFastValidateRemote: getEnvBool("PAYFAST_VALIDATE_REMOTE", false),

		DefaultCurrency:       getEnv("SUB_CURRENCY", "ZAR"),
		SubscriptionExtension: time.Duration(getEnvInt("SUB_EXTENSION_DAYS", 31)) * 24 * time.Hour,
		SessionTTLHours:       getEnvInt("SESSION_TTL_HOURS", 24),

		ExpirySweepInterval:  getEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Hour),
		RemovalSweepInterval: getEnvDuration("REMOVAL_SWEEP_INTERVAL", 6*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}
