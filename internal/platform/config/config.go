package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config captures process-level configuration. Postgres, Redis and Kafka are
// all optional: with no DSN the server falls back to in-memory stores, which
// keeps local runs and tests free of external dependencies.
type Config struct {
	Env             string
	Addr            string
	PostgresDSN     string
	RedisURL        string
	KafkaBrokers    string
	AuditTopic      string
	LockTTL         time.Duration
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Env:             getEnv("APP_ENV", "dev"),
		Addr:            getEnv("CLINICORE_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		RedisURL:        os.Getenv("REDIS_URL"),
		KafkaBrokers:    os.Getenv("KAFKA_BROKERS"),
		AuditTopic:      getEnv("AUDIT_TOPIC", "clinicore.audit"),
		LockTTL:         getDuration("LOCK_TTL", 5*time.Second),
		SweepInterval:   getDuration("SWEEP_INTERVAL", time.Minute),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration accepts either bare seconds ("30") or Go duration syntax ("30s").
func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
