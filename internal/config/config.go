package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultEnvFile = "configs/.env"

// Config is everything the API reads from the environment.
type Config struct {
	Port        string
	GinMode     string
	CORSOrigins []string
	JWTSecret   string
	LogLevel    string

	DB        DBConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig

	IdempotencyTTL        time.Duration
	IdempotencyPendingTTL time.Duration
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN builds the postgres URL used by gorm.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// RedisConfig is optional: an empty Addr keeps events and idempotency keys in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type SchedulerConfig struct {
	Enabled          bool
	HistoryInterval  time.Duration
	HistoryBatchSize int
	// ReconcileAt is the daily run time as HH:MM in the server's zone.
	ReconcileAt string
}

// Load reads configs/.env when present and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load(defaultEnvFile)
	return FromEnv()
}

// FromEnv builds the config from environment variables with defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "postgres"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			Channel:  getEnv("REDIS_EVENTS_CHANNEL", "deliveryerp:events"),
		},
		Scheduler: SchedulerConfig{
			ReconcileAt: getEnv("RECONCILE_AT", "02:00"),
		},
	}

	var err error
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.Enabled, err = getBool("SCHEDULER_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.HistoryInterval, err = getDuration("HISTORY_SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.HistoryBatchSize, err = getInt("HISTORY_SWEEP_BATCH", 200); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyPendingTTL, err = getDuration("IDEMPOTENCY_PENDING_TTL", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if _, _, err := cfg.Scheduler.ReconcileTime(); err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" && cfg.GinMode == "release" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required in release mode")
	}
	return cfg, nil
}

// ReconcileTime splits ReconcileAt into hour and minute.
func (c SchedulerConfig) ReconcileTime() (uint, uint, error) {
	t, err := time.Parse("15:04", c.ReconcileAt)
	if err != nil {
		return 0, 0, fmt.Errorf("config: RECONCILE_AT %q: expected HH:MM", c.ReconcileAt)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
