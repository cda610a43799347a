package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven knob for the tool server and the
// HTTP proxy. Both binaries load the same struct; each only reads the
// fields it cares about.
type Config struct {
	// HTTP surface
	Port        string
	GinMode     string
	CORSOrigins []string

	// Storage
	UploadDir     string
	IndexDir      string
	MaxUploadSize int64

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Retrieval
	TopKDefault             int
	TopKMax                 int
	EmbeddingDim            int
	FullDocumentCharCeiling int

	// Model
	ModelAPIKey           string
	ModelAPIURL           string
	ModelID               string
	GoogleEmbeddingsModel string

	// Completion client
	CompletionTimeoutSeconds int
	CompletionMaxRetries     int
	CompletionRPS            float64
	CompletionBurst          int

	// Tool server
	MCPServerName        string
	MCPServerVersion      string
	ToolServerShutdownGraceSeconds int
	LowYieldCharsPerPage  int

	// Proxy/supervisor
	ToolServerCommand   string
	ToolServerArgs      []string
	ProxyMaxRestarts    int
	ProxyRestartWindowSeconds int
	ProxyMaxInflight    int
	ProxyCallTimeoutSeconds int
}

// Load reads configuration from the environment (optionally via a .env
// file) applying the same fallback pattern across every binary.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "release"),
		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000")),

		UploadDir:     getEnv("UPLOAD_DIR", "./data/uploads"),
		IndexDir:      getEnv("INDEX_DIR", "./data/index"),
		MaxUploadSize: getEnvInt64("MAX_UPLOAD_SIZE", 52428800), // 50MB

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		TopKDefault:             getEnvInt("TOP_K_DEFAULT", 3),
		TopKMax:                 getEnvInt("TOP_K_MAX", 20),
		EmbeddingDim:            getEnvInt("EMBEDDING_DIM", 768),
		FullDocumentCharCeiling: getEnvInt("FULL_DOCUMENT_CHAR_CEILING", 40000),

		ModelAPIKey:           getEnv("MODEL_API_KEY", ""),
		ModelAPIURL:           getEnv("MODEL_API_URL", ""),
		ModelID:               getEnv("MODEL_ID", "gemini-2.0-flash"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),

		CompletionTimeoutSeconds: getEnvInt("COMPLETION_TIMEOUT_SECONDS", 30),
		CompletionMaxRetries:     getEnvInt("COMPLETION_MAX_RETRIES", 3),
		CompletionRPS:            getEnvFloat64("COMPLETION_RPS", 2.0),
		CompletionBurst:          getEnvInt("COMPLETION_BURST", 4),

		MCPServerName:                   getEnv("MCP_SERVER_NAME", "pdf-qa-tools"),
		MCPServerVersion:                getEnv("MCP_SERVER_VERSION", "0.1.0"),
		ToolServerShutdownGraceSeconds:  getEnvInt("TOOL_SERVER_SHUTDOWN_GRACE", 5),
		LowYieldCharsPerPage:            getEnvInt("LOW_YIELD_CHARS_PER_PAGE", 100),

		ToolServerCommand:        getEnv("TOOL_SERVER_COMMAND", ""),
		ToolServerArgs:           splitCSV(getEnv("TOOL_SERVER_ARGS", "")),
		ProxyMaxRestarts:         getEnvInt("PROXY_MAX_RESTARTS", 3),
		ProxyRestartWindowSeconds: getEnvInt("PROXY_RESTART_WINDOW", 60),
		ProxyMaxInflight:         getEnvInt("PROXY_MAX_INFLIGHT", 16),
		ProxyCallTimeoutSeconds:  getEnvInt("PROXY_CALL_TIMEOUT_SECONDS", 60),
	}

	if cfg.ModelAPIKey == "" {
		return nil, fmt.Errorf("MODEL_API_KEY is required - set it in .env file or the environment")
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
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

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
