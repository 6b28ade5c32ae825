package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	API   APIConfig
	Cache CacheConfig
	Redis RedisConfig
	Stats StatsConfig
}

type APIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// Read retry budget; writes are never retried.
	RetryAttempts int
	RetryBase     time.Duration
	RetryCap      time.Duration
}

type CacheConfig struct {
	TTL time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

type StatsConfig struct {
	PollInterval time.Duration
}

func LoadAll() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL:       mustEnv("API_BASE_URL"),
			Token:         mustEnv("API_TOKEN"),
			Timeout:       time.Duration(getEnvInt("API_TIMEOUT_SECONDS", 10)) * time.Second,
			RetryAttempts: getEnvInt("API_RETRY_ATTEMPTS", 3),
			RetryBase:     time.Duration(getEnvInt("API_RETRY_BASE_MS", 100)) * time.Millisecond,
			RetryCap:      time.Duration(getEnvInt("API_RETRY_CAP_MS", 1000)) * time.Millisecond,
		},
		Cache: CacheConfig{
			TTL: time.Duration(getEnvInt("CACHE_TTL_SECONDS", 60)) * time.Second,
		},
		Stats: StatsConfig{
			PollInterval: time.Duration(getEnvInt("STATS_POLL_SECONDS", 30)) * time.Second,
		},
		Redis: loadRedisConfig(),
	}

	validate(cfg)
	return cfg, nil
}

func loadRedisConfig() RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
	}
}

func validate(cfg *Config) {
	if cfg.API.Timeout <= 0 {
		panic("API_TIMEOUT_SECONDS must be > 0")
	}
	if cfg.API.RetryAttempts <= 0 {
		panic("API_RETRY_ATTEMPTS must be > 0")
	}
	if cfg.Cache.TTL <= 0 {
		panic("CACHE_TTL_SECONDS must be > 0")
	}
	if cfg.Stats.PollInterval <= 0 {
		panic("STATS_POLL_SECONDS must be > 0")
	}
}

func mustEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("missing required env var: %s", key))
	}
	return val
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid int for env %s: %s", key, v))
	}
	return i
}
