// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	ChunkStore ChunkStoreConfig
	Qdrant     QdrantConfig
	Redis      RedisConfig
	Embedding  EmbeddingConfig
	Rerank     RerankConfig
	LLM        LLMConfig
	Retrieval  RetrievalConfig
	Jobs       JobsConfig
	Monitoring MonitoringConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	Mode         string // "debug" or "release"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type ChunkStoreConfig struct {
	Path string // SQLite database file; ":memory:" for tests
}

type QdrantConfig struct {
	Host       string
	Port       string
	APIKey     string
	Collection string
	VectorSize int
	Timeout    time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type RerankConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type LLMConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
}

type RetrievalConfig struct {
	DefaultK            int
	CandidateFloor      int // minimum candidate window passed to the indexes
	CandidateMultiplier int // candidates = max(floor, k*multiplier)
	RRFConstant         int
	SnippetMaxChars     int
}

type JobsConfig struct {
	Concurrency        int
	PerDocumentTimeout time.Duration
	ContextMaxChunks   int
	ContextMaxChars    int
}

type MonitoringConfig struct {
	LogLevel       string
	MetricsEnabled bool
	MetricsPath    string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("PORT", "8080"),
			Mode:         getEnv("GIN_MODE", "release"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 120*time.Second),
		},
		ChunkStore: ChunkStoreConfig{
			Path: getEnv("CHUNKSTORE_PATH", "data/chunks.db"),
		},
		Qdrant: QdrantConfig{
			Host:       getEnv("QDRANT_HOST", "localhost"),
			Port:       getEnv("QDRANT_PORT", "6333"),
			APIKey:     getEnv("QDRANT_API_KEY", ""),
			Collection: getEnv("QDRANT_COLLECTION", "docscope-chunks"),
			VectorSize: getIntEnv("QDRANT_VECTOR_SIZE", 1536),
			Timeout:    getDurationEnv("QDRANT_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Embedding: EmbeddingConfig{
			BaseURL: getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("EMBEDDING_API_KEY", ""),
			Model:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Timeout: getDurationEnv("EMBEDDING_TIMEOUT", 15*time.Second),
		},
		Rerank: RerankConfig{
			Enabled: getBoolEnv("RERANK_ENABLED", true),
			BaseURL: getEnv("RERANK_BASE_URL", "https://api.cohere.ai/v1"),
			APIKey:  getEnv("RERANK_API_KEY", ""),
			Model:   getEnv("RERANK_MODEL", "rerank-english-v3.0"),
			Timeout: getDurationEnv("RERANK_TIMEOUT", 15*time.Second),
		},
		LLM: LLMConfig{
			BaseURL:       getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:        getEnv("LLM_API_KEY", ""),
			Model:         getEnv("LLM_MODEL", "gpt-4o"),
			FallbackModel: getEnv("LLM_FALLBACK_MODEL", "gpt-4o-mini"),
			MaxTokens:     getIntEnv("LLM_MAX_TOKENS", 1024),
			Temperature:   getFloatEnv("LLM_TEMPERATURE", 0.3),
			Timeout:       getDurationEnv("LLM_TIMEOUT", 60*time.Second),
		},
		Retrieval: RetrievalConfig{
			DefaultK:            getIntEnv("RETRIEVAL_DEFAULT_K", 5),
			CandidateFloor:      getIntEnv("RETRIEVAL_CANDIDATE_FLOOR", 20),
			CandidateMultiplier: getIntEnv("RETRIEVAL_CANDIDATE_MULTIPLIER", 4),
			RRFConstant:         getIntEnv("RETRIEVAL_RRF_CONSTANT", 60),
			SnippetMaxChars:     getIntEnv("RETRIEVAL_SNIPPET_MAX_CHARS", 350),
		},
		Jobs: JobsConfig{
			Concurrency:        getIntEnv("JOBS_CONCURRENCY", 4),
			PerDocumentTimeout: getDurationEnv("JOBS_PER_DOCUMENT_TIMEOUT", 2*time.Minute),
			ContextMaxChunks:   getIntEnv("JOBS_CONTEXT_MAX_CHUNKS", 5),
			ContextMaxChars:    getIntEnv("JOBS_CONTEXT_MAX_CHARS", 4000),
		},
		Monitoring: MonitoringConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),
			MetricsPath:    getEnv("METRICS_PATH", "/metrics"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
