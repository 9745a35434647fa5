package ragchat

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	// Server configuration
	ServerHost string
	ServerPort string

	// Model configuration
	APIKey         string
	BaseURL        string // optional, for OpenAI-compatible providers
	ChatModel      string
	EmbeddingModel string

	// Vector store configuration
	StoreType    string // "memory", "file", "redis", "sqlite" or "postgres"
	FileStoreDir string
	RedisAddr    string
	SQLitePath   string
	PostgresURL  string

	// Chunking configuration
	ChunkSize        int
	ChunkOverlap     int
	CodeBlockMaxSize int

	// Retrieval configuration
	TopK           int
	ScoreThreshold float64

	// Crawler configuration
	DocsBaseURL string
	MaxPages    int
	CrawlDelay  time.Duration

	// Answer cache (optional, requires RedisAddr)
	AnswerCacheTTL time.Duration
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	return Config{
		ServerHost:       getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		APIKey:           os.Getenv("OPENAI_API_KEY"),
		BaseURL:          getEnv("OPENAI_BASE_URL", ""),
		ChatModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		StoreType:        getEnv("VECTOR_STORE_TYPE", "memory"),
		FileStoreDir:     getEnv("FILE_STORE_DIR", "ragchat_index"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "ragchat.db"),
		PostgresURL:      os.Getenv("POSTGRES_URL"),
		ChunkSize:        getEnvInt("CHUNK_SIZE", 1500),
		ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 200),
		CodeBlockMaxSize: getEnvInt("CODE_BLOCK_MAX_SIZE", 3000),
		TopK:             getEnvInt("TOP_K", 5),
		ScoreThreshold:   getEnvFloat("SCORE_THRESHOLD", 0),
		DocsBaseURL:      getEnv("DOCS_BASE_URL", "https://python.langchain.com/"),
		MaxPages:         getEnvInt("MAX_PAGES", 50),
		CrawlDelay:       time.Duration(getEnvInt("CRAWL_DELAY_MS", 500)) * time.Millisecond,
		AnswerCacheTTL:   time.Duration(getEnvInt("ANSWER_CACHE_TTL_SECONDS", 0)) * time.Second,
	}
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}
	switch c.StoreType {
	case "memory", "file", "sqlite":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR environment variable is required when using redis vector store")
		}
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL environment variable is required when using postgres vector store")
		}
	default:
		return fmt.Errorf("unknown vector store type: %s", c.StoreType)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
