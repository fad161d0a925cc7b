package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Blob backends.
const (
	BlobLocal = "local"
	BlobGCS   = "gcs"
)

const devJWTSecret = "notimo-default-dev-secret-change-me"

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string
	Env      string

	// Storage
	DatabasePath string

	// JWT / Auth
	JWTSecret        string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	LoginLockWindow  time.Duration
	MaxLoginAttempts int

	// Domain defaults
	DefaultCurrency    string
	SeedCategories     bool
	WelcomeTransaction bool

	// Photos
	BlobBackend        string
	MediaRoot          string
	MediaBaseURL       string
	GCSBucket          string
	GCSCredentialsFile string
	MaxUploadBytes     int64

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// HTTP
	CORSAllowedOrigins []string

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	port := getEnvInt("PORT", 8080)
	return &Config{
		Port:     port,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("APP_ENV", "development"),

		DatabasePath: getEnv("DATABASE_PATH", "data/notimo.db"),

		JWTSecret:        getEnv("JWT_SECRET", devJWTSecret),
		JWTAccessTTL:     getEnvDuration("JWT_ACCESS_TTL", 60*time.Minute),
		JWTRefreshTTL:    getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		LoginLockWindow:  getEnvDuration("LOGIN_LOCK_WINDOW", 15*time.Minute),
		MaxLoginAttempts: getEnvInt("MAX_LOGIN_ATTEMPTS", 5),

		DefaultCurrency:    strings.ToUpper(getEnv("DEFAULT_CURRENCY", "XOF")),
		SeedCategories:     getEnvBool("SEED_CATEGORIES", true),
		WelcomeTransaction: getEnvBool("WELCOME_TRANSACTION", true),

		BlobBackend:        getEnv("BLOB_BACKEND", BlobLocal),
		MediaRoot:          getEnv("MEDIA_ROOT", "data/media"),
		MediaBaseURL:       getEnv("MEDIA_BASE_URL", fmt.Sprintf("http://localhost:%d/media", port)),
		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 5<<20)),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 8),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH is required"))
	}
	switch c.BlobBackend {
	case BlobLocal:
		if c.MediaRoot == "" {
			errs = append(errs, errors.New("MEDIA_ROOT is required for the local blob backend"))
		}
	case BlobGCS:
		if c.GCSBucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required for the gcs blob backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("BLOB_BACKEND must be %q or %q, got %q", BlobLocal, BlobGCS, c.BlobBackend))
	}
	if c.Env == "production" && (c.JWTSecret == "" || c.JWTSecret == devJWTSecret) {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		errs = append(errs, errors.New("JWT TTLs must be positive"))
	}
	if c.MaxLoginAttempts <= 0 {
		errs = append(errs, errors.New("MAX_LOGIN_ATTEMPTS must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENCY must be positive"))
	}
	if len(c.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code, got %q", c.DefaultCurrency))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
