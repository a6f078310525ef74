package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	DatabaseURL   string
	MigrationsDir string
	MaxBodyBytes  int64

	// Hosted identity
	JWTSecret       string
	JWTAudience     string
	DefaultPassword string
	DemoOrgID       string
	PublicAppURL    string

	// Redis holds session pointers (active organization, demo persona).
	RedisURL string

	// Document blobs; storage is disabled when MinioEndpoint is empty.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	PresignTTL     time.Duration

	// Search falls back to Postgres when MeiliURL is empty.
	MeiliURL string
	MeiliKey string

	// Workflow events are dropped when AMQPURL is empty.
	AMQPURL   string
	AMQPQueue string

	ShutdownTimeout time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr:      getenv("LEXFLOW_HTTP_ADDR", ":8080"),
		GRPCAddr:      getenv("LEXFLOW_GRPC_ADDR", ":9090"),
		DatabaseURL:   getenv("LEXFLOW_PG_DSN", ""),
		MigrationsDir: getenv("LEXFLOW_MIGRATIONS_DIR", "ops/migrations/sql"),
		MaxBodyBytes:  int64(getenvInt("LEXFLOW_MAX_BODY_BYTES", 10<<20)),

		JWTSecret:       getenv("LEXFLOW_JWT_SECRET", ""),
		JWTAudience:     getenv("LEXFLOW_JWT_AUDIENCE", "authenticated"),
		DefaultPassword: getenv("LEXFLOW_DEFAULT_PASSWORD", ""),
		DemoOrgID:       getenv("LEXFLOW_DEMO_ORG_ID", ""),
		PublicAppURL:    strings.TrimRight(getenv("LEXFLOW_PUBLIC_APP_URL", "http://localhost:3000"), "/"),

		RedisURL: getenv("LEXFLOW_REDIS_URL", "redis://localhost:6379/0"),

		MinioEndpoint:  getenv("LEXFLOW_MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("LEXFLOW_MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("LEXFLOW_MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("LEXFLOW_MINIO_BUCKET", "case-documents"),
		MinioUseSSL:    getenvBool("LEXFLOW_MINIO_USE_SSL", false),
		PresignTTL:     getenvDuration("LEXFLOW_PRESIGN_TTL", 15*time.Minute),

		MeiliURL: getenv("LEXFLOW_MEILI_URL", ""),
		MeiliKey: getenv("LEXFLOW_MEILI_KEY", ""),

		AMQPURL:   getenv("LEXFLOW_AMQP_URL", ""),
		AMQPQueue: getenv("LEXFLOW_AMQP_QUEUE", "lexflow.workflow"),

		ShutdownTimeout: getenvDuration("LEXFLOW_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("LEXFLOW_PG_DSN is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("LEXFLOW_JWT_SECRET is required"))
	}
	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		errs = append(errs, errors.New("minio credentials are required when LEXFLOW_MINIO_ENDPOINT is set"))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
