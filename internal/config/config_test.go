package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEXFLOW_PG_DSN", "")
	t.Setenv("LEXFLOW_PUBLIC_APP_URL", "https://app.example.com/")
	cfg := Load()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.PublicAppURL != "https://app.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.PublicAppURL)
	}
	if cfg.PresignTTL != 15*time.Minute {
		t.Fatalf("unexpected presign ttl %v", cfg.PresignTTL)
	}
}

func TestLoadFallsBackOnBadValues(t *testing.T) {
	t.Setenv("LEXFLOW_MAX_BODY_BYTES", "lots")
	t.Setenv("LEXFLOW_MINIO_USE_SSL", "maybe")
	t.Setenv("LEXFLOW_SHUTDOWN_TIMEOUT", "5s")
	cfg := Load()
	if cfg.MaxBodyBytes != 10<<20 {
		t.Fatalf("unexpected max body %d", cfg.MaxBodyBytes)
	}
	if cfg.MinioUseSSL {
		t.Fatalf("expected ssl fallback false")
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", cfg.ShutdownTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{MinioEndpoint: "localhost:9000"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"LEXFLOW_PG_DSN", "LEXFLOW_JWT_SECRET", "minio credentials"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
	cfg = Config{DatabaseURL: "postgres://x", JWTSecret: "s"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
