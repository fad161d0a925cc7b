package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notimo/notimo-api/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DefaultCurrency != "XOF" {
		t.Errorf("expected default currency XOF, got %q", cfg.DefaultCurrency)
	}
	if cfg.BlobBackend != config.BlobLocal {
		t.Errorf("expected local blob backend, got %q", cfg.BlobBackend)
	}
	if !cfg.SeedCategories || !cfg.WelcomeTransaction {
		t.Error("expected seeding and welcome transaction on by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("DEFAULT_CURRENCY", "eur")
	t.Setenv("SEED_CATEGORIES", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := config.Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.JWTAccessTTL != 5*time.Minute {
		t.Errorf("expected 5m access TTL, got %s", cfg.JWTAccessTTL)
	}
	if cfg.DefaultCurrency != "EUR" {
		t.Errorf("expected EUR, got %q", cfg.DefaultCurrency)
	}
	if cfg.SeedCategories {
		t.Error("expected seeding disabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected malformed value to fall back to 3, got %d", cfg.MaxRetries)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := config.Load()
	cfg.Port = 0
	cfg.BlobBackend = "s3"
	cfg.Env = "production"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"PORT", "BLOB_BACKEND", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidate_GCSNeedsBucket(t *testing.T) {
	cfg := config.Load()
	cfg.BlobBackend = config.BlobGCS

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "GCS_BUCKET") {
		t.Errorf("expected GCS_BUCKET error, got %v", err)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "NOTIMO_TEST_A=from-file\nNOTIMO_TEST_B=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("NOTIMO_TEST_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("NOTIMO_TEST_B") })

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("NOTIMO_TEST_A"); got != "from-env" {
		t.Errorf("expected existing env to win, got %q", got)
	}
	if got := os.Getenv("NOTIMO_TEST_B"); got != "from-file" {
		t.Errorf("expected file value, got %q", got)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
