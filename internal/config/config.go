package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ResolutionOwner  = "owner"
	ResolutionGlobal = "global"

	HitCounterMemory = "memory"
	HitCounterRedis  = "redis"
)

type Config struct {
	DatabaseURL   string
	RedisURL      string
	MongoURL      string
	MongoDatabase string
	JWTSecret     string
	TokenTTL      time.Duration
	ServerPort    string
	AdminToken    string

	LogLevel  string
	LogFormat string

	SchemaResolution    string
	CascadeSchemaDelete bool
	SchemaCacheTTL      time.Duration
	FreeTrialLimit      int
	HitCounter          string
	RequestTimeout      time.Duration

	// Schema generation is enabled when LLMAPIKey is set.
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	PromptCacheTTL time.Duration
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		MongoURL:         getEnv("MONGO_URL", ""),
		MongoDatabase:    getEnv("MONGO_DATABASE", "reqnest"),
		JWTSecret:        getEnv("JWT_SECRET", "secret"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		AdminToken:       getEnv("ADMIN_TOKEN", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		SchemaResolution: getEnv("SCHEMA_RESOLUTION", ResolutionOwner),
		HitCounter:       getEnv("HIT_COUNTER", HitCounterMemory),
		LLMBaseURL:       getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:        getEnv("LLM_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		LLMModel:         getEnv("LLM_MODEL", ""),
	}

	var err error
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SchemaCacheTTL, err = getDuration("SCHEMA_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PromptCacheTTL, err = getDuration("PROMPT_CACHE_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CascadeSchemaDelete, err = getBool("CASCADE_SCHEMA_DELETE", false); err != nil {
		return nil, err
	}
	if cfg.FreeTrialLimit, err = getInt("FREE_TRIAL_LIMIT", 50); err != nil {
		return nil, err
	}

	switch cfg.SchemaResolution {
	case ResolutionOwner, ResolutionGlobal:
	default:
		return nil, fmt.Errorf("SCHEMA_RESOLUTION must be %q or %q, got %q", ResolutionOwner, ResolutionGlobal, cfg.SchemaResolution)
	}
	switch cfg.HitCounter {
	case HitCounterMemory, HitCounterRedis:
	default:
		return nil, fmt.Errorf("HIT_COUNTER must be %q or %q, got %q", HitCounterMemory, HitCounterRedis, cfg.HitCounter)
	}
	if cfg.FreeTrialLimit <= 0 {
		return nil, fmt.Errorf("FREE_TRIAL_LIMIT must be positive, got %d", cfg.FreeTrialLimit)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, defaultVal int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
