package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every runtime setting of the service. Values come from the
// environment (optionally seeded from a .env file by the caller).
type Config struct {
	AppEnv           string
	LogLevel         string
	HTTPListenAddr   string
	PublicBaseURL    string
	MetricsNamespace string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	JWTSecret string
	TokenTTL  time.Duration

	MinWithdrawal int64
	MinDeposit    int64

	ReferralTTL   time.Duration
	CatalogueTTL  time.Duration
	SweepInterval time.Duration
}

// Load reads configuration from the environment, applying defaults where a
// variable is unset.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBaseURL:    getEnv("PUBLIC_BASE_URL", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "subshop"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getEnvBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.MinWithdrawal, err = getEnvInt64("MIN_WITHDRAWAL", 50000); err != nil {
		return nil, err
	}
	if cfg.MinDeposit, err = getEnvInt64("MIN_DEPOSIT", 10000); err != nil {
		return nil, err
	}
	if cfg.TokenTTL, err = getEnvDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReferralTTL, err = getEnvDuration("REFERRAL_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CatalogueTTL, err = getEnvDuration("CATALOGUE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MinWithdrawal <= 0 {
		return nil, fmt.Errorf("MIN_WITHDRAWAL must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
