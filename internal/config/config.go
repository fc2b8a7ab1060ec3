package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres  = "postgres"
	StoreDriverFirestore = "firestore"
	StoreDriverMemory    = "memory"

	ObjectStoreMinIO  = "minio"
	ObjectStoreGCS    = "gcs"
	ObjectStoreMemory = "memory"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	DatabaseURL string
	StoreDriver string

	FirestoreProjectID string

	RedisURL string

	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration
	QuoteLinkExpiry  time.Duration

	ObjectStore string

	MinIOEndpoint       string
	MinIOPublicEndpoint string
	MinIOAccessKey      string
	MinIOSecretKey      string
	MinIOBucket         string
	MinIOUseSSL         bool
	MinIOPublicUseSSL   bool

	GCSBucket string

	CORSOrigins string

	ResendAPIKey string
	FromEmail    string
	CompanyName  string
	PublicAppURL string

	AdminEmails    []string
	ChatWebhookURL string
	NotifyTimeout  time.Duration

	TaxRate      float64
	ReplayWindow time.Duration
	MaxPDFPages  int
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),

		FirestoreProjectID: getEnv("FIRESTORE_PROJECT_ID", getEnv("GOOGLE_CLOUD_PROJECT", "")),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAccessExpiry:  getDurationEnv("JWT_ACCESS_EXPIRY", 15*time.Minute),
		JWTRefreshExpiry: getDurationEnv("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
		QuoteLinkExpiry:  getDurationEnv("QUOTE_LINK_EXPIRY", 30*24*time.Hour),

		ObjectStore: strings.ToLower(getEnv("OBJECT_STORE", ObjectStoreMinIO)),

		MinIOEndpoint:       getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOPublicEndpoint: getEnv("MINIO_PUBLIC_ENDPOINT", getEnv("MINIO_ENDPOINT", "localhost:9000")),
		MinIOAccessKey:      getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:      getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucket:         getEnv("MINIO_BUCKET", "quote-documents"),
		MinIOUseSSL:         getBoolEnv("MINIO_USE_SSL", false),
		MinIOPublicUseSSL:   getBoolEnv("MINIO_PUBLIC_USE_SSL", true),

		GCSBucket: getEnv("GCS_BUCKET", ""),

		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:5173"),

		ResendAPIKey: getEnv("RESEND_API_KEY", ""),
		FromEmail:    getEnv("FROM_EMAIL", "quotes@example.com"),
		CompanyName:  getEnv("COMPANY_NAME", "Windows & Doors"),
		PublicAppURL: strings.TrimRight(getEnv("PUBLIC_APP_URL", "http://localhost:5173"), "/"),

		AdminEmails:    getListEnv("ADMIN_EMAILS"),
		ChatWebhookURL: getEnv("CHAT_WEBHOOK_URL", ""),
		NotifyTimeout:  getDurationEnv("NOTIFY_TIMEOUT", 5*time.Second),

		TaxRate:      getFloatEnv("TAX_RATE", 0.0825),
		ReplayWindow: getDurationEnv("REPLAY_WINDOW", 2*time.Minute),
		MaxPDFPages:  getIntEnv("MAX_PDF_PAGES", 50),
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
