package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/earmark/internal/backup"
	"github.com/dukerupert/earmark/internal/billing"
	"github.com/dukerupert/earmark/internal/push"
	"github.com/dukerupert/earmark/internal/transcribe"
)

// ErrMissingSecret is returned when no JWT signing secret is configured.
var ErrMissingSecret = errors.New("EARMARK_JWT_SECRET not set")

type Config struct {
	Port     string
	DBPath   string
	LogLevel string

	JWTSecret string
	TokenTTL  time.Duration

	Transcription     transcribe.Config
	TranscribeRetries uint64
	TranscribeDelay   time.Duration

	GeminiAPIKey string
	GeminiModel  string
	ChatTimeout  time.Duration

	Backup  backup.Config
	Push    push.Config
	Billing billing.Config

	CORSOrigins []string
	// Readability strips boilerplate from imported web pages.
	Readability bool
}

// Load reads configuration from the environment, after loading a .env file
// when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("EARMARK_PORT", "8080"),
		DBPath:    getEnv("EARMARK_DB_PATH", "earmark.db"),
		LogLevel:  getEnv("EARMARK_LOG_LEVEL", "info"),
		JWTSecret: getEnv("EARMARK_JWT_SECRET", ""),
		TokenTTL:  getEnvDuration("EARMARK_TOKEN_TTL", 30*24*time.Hour),

		Transcription: transcribe.Config{
			APIKey:   getEnv("EARMARK_TRANSCRIBE_API_KEY", ""),
			BaseURL:  getEnv("EARMARK_TRANSCRIBE_URL", ""),
			Model:    getEnv("EARMARK_TRANSCRIBE_MODEL", ""),
			Language: getEnv("EARMARK_TRANSCRIBE_LANGUAGE", ""),
			Timeout:  getEnvDuration("EARMARK_TRANSCRIBE_TIMEOUT", 0),
		},
		TranscribeRetries: uint64(getEnvInt("EARMARK_TRANSCRIBE_RETRIES", 3)),
		TranscribeDelay:   getEnvDuration("EARMARK_TRANSCRIBE_DELAY", 100*time.Millisecond),

		GeminiAPIKey: getEnv("EARMARK_GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("EARMARK_GEMINI_MODEL", "gemini-1.5-flash"),
		ChatTimeout:  getEnvDuration("EARMARK_CHAT_TIMEOUT", 60*time.Second),

		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  getEnv("EARMARK_S3_ENDPOINT", ""),
				Bucket:    getEnv("EARMARK_S3_BUCKET", ""),
				Region:    getEnv("EARMARK_S3_REGION", "us-east-1"),
				AccessKey: getEnv("EARMARK_S3_ACCESS_KEY", ""),
				SecretKey: getEnv("EARMARK_S3_SECRET_KEY", ""),
				Prefix:    getEnv("EARMARK_S3_PREFIX", ""),
			},
			Interval:  getEnvDuration("EARMARK_BACKUP_INTERVAL", 24*time.Hour),
			Retention: getEnvDuration("EARMARK_BACKUP_RETENTION", 30*24*time.Hour),
		},
		Push: push.Config{
			VAPIDPublicKey:  getEnv("EARMARK_VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: getEnv("EARMARK_VAPID_PRIVATE_KEY", ""),
			Subscriber:      getEnv("EARMARK_VAPID_SUBJECT", "mailto:noreply@earmark.app"),
		},
		Billing: billing.Config{
			SecretKey:      getEnv("EARMARK_STRIPE_SECRET_KEY", ""),
			WebhookSecret:  getEnv("EARMARK_STRIPE_WEBHOOK_SECRET", ""),
			ProPriceID:     getEnv("EARMARK_STRIPE_PRO_PRICE_ID", ""),
			PremiumPriceID: getEnv("EARMARK_STRIPE_PREMIUM_PRICE_ID", ""),
			SuccessURL:     getEnv("EARMARK_STRIPE_SUCCESS_URL", "http://localhost:5173/subscription?checkout=success"),
			CancelURL:      getEnv("EARMARK_STRIPE_CANCEL_URL", "http://localhost:5173/subscription"),
		},

		CORSOrigins: splitList(getEnv("EARMARK_CORS_ORIGINS", "http://localhost:5173")),
		Readability: getEnvBool("EARMARK_READABILITY", true),
	}

	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("invalid integer setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
