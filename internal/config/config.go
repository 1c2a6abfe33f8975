package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	GinMode  string

	CORSOrigins  []string
	MaxFileSize  int64
	AllowedTypes []string

	// Gemini configuration for summarization and embeddings
	GeminiAPIKey    string
	GeminiModel     string
	GeminiTier      string
	EmbeddingsModel string
	VectorDim       int

	// Redis (asynq queue + rate limiting)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	RateLimitReqs   int
	RateLimitWindow int

	// Pipeline behaviour
	WriteRetryAttempts  int
	HeartbeatSecs       int
	StaleProcessingMins int

	// Context assembly
	ContextTokenBudget int

	// Telemetry
	OTLPEndpoint   string
	TracingEnabled bool
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/doc_context"),
		DBName:   getEnv("DB_NAME", "doc_context"),
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		CORSOrigins:  strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize:  getEnvInt64("MAX_FILE_SIZE", 26214400), // 25MB ceiling, uploads are held in memory
		AllowedTypes: strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf,text/plain,text/markdown"), ","),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:      getEnv("GEMINI_TIER", "free"),
		EmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDim:       getEnvInt("VECTOR_DIM", 768),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		WriteRetryAttempts:  getEnvInt("WRITE_RETRY_ATTEMPTS", 3),
		HeartbeatSecs:       getEnvInt("HEARTBEAT_SECS", 30),
		StaleProcessingMins: getEnvInt("STALE_PROCESSING_MINS", 30),

		ContextTokenBudget: getEnvInt("CONTEXT_TOKEN_BUDGET", 4000),

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
