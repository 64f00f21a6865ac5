// Package config loads engine configuration from the environment. A
// .env file is read when present; real environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full configuration for the API server and the worker.
type Config struct {
	Postgres PostgresConfig
	External ExternalDBConfig
	Redis    RedisConfig
	Queue    QueueConfig
	AWS      AWSConfig
	Auth     AuthConfig

	// ModelID is the Bedrock model used for analysis, compilation and
	// document OCR.
	ModelID string

	PersonaAPIKey string
	SiftAPIKey    string

	// OfacBaseURL is the sanctions-search service endpoint.
	OfacBaseURL string

	// RegistryBaseURL is the corporate-registry lookup endpoint.
	RegistryBaseURL string

	APIPort  int
	LogLevel string
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.Name)
}

// ExternalDBConfig points at the read-only MySQL database that holds
// provider inquiry ids, fraud scores, and business records.
type ExternalDBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// DSN builds a go-sql-driver/mysql connection string.
func (e ExternalDBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s",
		e.User, e.Password, e.Host, e.Port, e.Name)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type QueueConfig struct {
	Name       string
	MaxWorkers int
	JobTimeout time.Duration
	KeepResult time.Duration
}

type AWSConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	S3Bucket  string
}

// AuthConfig gates the inbound HTTP surface. APIKey guards submission
// endpoints; bearer tokens signed with SecretKey guard the list and
// detail endpoints.
type AuthConfig struct {
	APIKey            string
	SecretKey         string
	AccessTokenExpiry time.Duration
}

// Load reads configuration from a .env file (if present) and the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			Host:     getenv("POSTGRES_HOST", "localhost"),
			Port:     getint("POSTGRES_PORT", 5432),
			User:     getenv("POSTGRES_USER", "postgres"),
			Password: getenv("POSTGRES_PASSWORD", ""),
			Name:     getenv("POSTGRES_DB", "verifications"),
		},
		External: ExternalDBConfig{
			Host:     getenv("EXTERNAL_DB_HOST", "localhost"),
			Port:     getint("EXTERNAL_DB_PORT", 3306),
			User:     getenv("EXTERNAL_DB_USER", "root"),
			Password: getenv("EXTERNAL_DB_PASSWORD", ""),
			Name:     getenv("EXTERNAL_DB_NAME", ""),
		},
		Redis: RedisConfig{
			Host:     getenv("REDIS_HOST", "localhost"),
			Port:     getint("REDIS_PORT", 6379),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Name:       getenv("ARQ_QUEUE_NAME", "arq:queue"),
			MaxWorkers: getint("ARQ_MAX_WORKERS", 4),
			JobTimeout: time.Duration(getint("ARQ_JOB_TIMEOUT", 3600)) * time.Second,
			KeepResult: time.Duration(getint("ARQ_KEEP_RESULT", 86400)) * time.Second,
		},
		AWS: AWSConfig{
			Region:    getenv("AWS_REGION", "us-west-2"),
			AccessKey: getenv("AWS_ACCESS_KEY", ""),
			SecretKey: getenv("AWS_SECRET", ""),
			S3Bucket:  getenv("AWS_S3_BUCKET", ""),
		},
		Auth: AuthConfig{
			APIKey:            getenv("API_KEY", ""),
			SecretKey:         getenv("SECRET_KEY", ""),
			AccessTokenExpiry: time.Duration(getint("ACCESS_TOKEN_EXPIRE_MINUTES", 11520)) * time.Minute,
		},
		ModelID:         getenv("MODEL_ID", "us.anthropic.claude-3-7-sonnet-20250219-v1:0"),
		PersonaAPIKey:   getenv("PERSONA_API_KEY", ""),
		SiftAPIKey:      getenv("SIFT_API_KEY", ""),
		OfacBaseURL:     getenv("OFAC_BASE_URL", ""),
		RegistryBaseURL: getenv("REGISTRY_BASE_URL", ""),
		APIPort:         getint("API_PORT", 8000),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		// REDIS_URL overrides host/port when set (container platforms).
		if host, port, ok := splitHostPort(url); ok {
			cfg.Redis.Host, cfg.Redis.Port = host, port
		}
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// splitHostPort parses "redis://host:port" or "host:port".
func splitHostPort(url string) (string, int, bool) {
	s := url
	for _, prefix := range []string{"redis://", "rediss://"} {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			s = s[len(prefix):]
		}
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			port, err := strconv.Atoi(s[i+1:])
			if err != nil {
				return "", 0, false
			}
			return s[:i], port, true
		}
	}
	return "", 0, false
}
