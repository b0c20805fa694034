package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	SQLitePath string

	JWTSecret          string
	AccessTokenMinutes int
	EncryptKey         string

	CORSOrigins                []string
	LogLevel                   string
	MaxMessagesPerConversation int

	// Consent gate thresholds, process-wide. Level 2 must be reached before
	// level 3, so Level2Threshold < Level3Threshold is enforced at load time.
	Level2Threshold int64
	Level3Threshold int64

	// GateStore selects where gate state lives: "sqlite" (default) or "redis".
	GateStore string
	RedisURL  string

	KafkaBroker   string
	KafkaTopic    string
	KafkaUsername string
	KafkaPassword string
}

func Load() (*Config, error) {
	// Best effort; env vars win over .env entries.
	_ = godotenv.Load()

	cfg := &Config{
		AppName: getEnv("APP_NAME", "Amora API"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		SQLitePath: getEnv("SQLITE_PATH", "amora.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		EncryptKey:         os.Getenv("ENCRYPTION_KEY"),

		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		MaxMessagesPerConversation: getEnvAsInt("MAX_MESSAGES_PER_CONVERSATION", 1000),

		Level2Threshold: getEnvAsInt64("LEVEL2_MESSAGE_THRESHOLD", 10),
		Level3Threshold: getEnvAsInt64("LEVEL3_MESSAGE_THRESHOLD", 50),

		GateStore: getEnv("GATE_STORE", "sqlite"),
		RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379"),

		KafkaBroker:   os.Getenv("KAFKA_BROKER"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "gate-events"),
		KafkaUsername: os.Getenv("KAFKA_USERNAME"),
		KafkaPassword: os.Getenv("KAFKA_PASSWORD"),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.Level2Threshold <= 0 || cfg.Level3Threshold <= cfg.Level2Threshold {
		return nil, fmt.Errorf("invalid gate thresholds: level2=%d level3=%d", cfg.Level2Threshold, cfg.Level3Threshold)
	}
	if cfg.GateStore != "sqlite" && cfg.GateStore != "redis" {
		return nil, fmt.Errorf("GATE_STORE must be 'sqlite' or 'redis', got %q", cfg.GateStore)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}
