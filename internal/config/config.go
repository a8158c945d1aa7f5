// Package config loads the shared environment-based configuration every
// stage worker binary starts from, using the same envOr/loadConfig shape
// across the closed set of config keys the pipeline defines.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the pipeline's stage workers read. Each field
// maps to one closed config key; unset keys fall back to the documented
// default.
type Config struct {
	PostgresDSN string
	NATSURL     string

	BlobBaseURL string
	BlobBucket  string
	BlobAPIKey  string

	OllamaURL   string
	OllamaModel string

	AnthropicAPIKey string

	QueuePopTimeout      time.Duration
	RelevanceGateThreshold float64
	ChunkSizeChars       int
	ChunkOverlapChars    int
	EmbeddingDim         int
	MaxCrawlDepth        int
	DBPoolMin            int
	DBPoolMax            int
	RetryAttempts        int
	RetryBackoff         time.Duration
	HTTPTimeout          time.Duration
	EmbeddingTimeout     time.Duration
	ReasoningTimeout     time.Duration

	MetricsPort string
}

// Load reads every key from the environment, applying the documented
// default for anything unset.
func Load() Config {
	return Config{
		PostgresDSN: envOr("POSTGRES_DSN", "postgres://localhost:5432/dtcpipe"),
		NATSURL:     envOr("NATS_URL", "nats://localhost:4222"),

		BlobBaseURL: envOr("BLOB_BASE_URL", "http://localhost:9000"),
		BlobBucket:  envOr("BLOB_BUCKET", "documents"),
		BlobAPIKey:  envOr("BLOB_API_KEY", ""),

		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: envOr("OLLAMA_MODEL", "nomic-embed-text"),

		AnthropicAPIKey: envOr("ANTHROPIC_API_KEY", ""),

		QueuePopTimeout:        envDuration("QUEUE_POP_TIMEOUT_SECONDS", 5*time.Second),
		RelevanceGateThreshold: envFloat("RELEVANCE_GATE_THRESHOLD", 0.3),
		ChunkSizeChars:         envInt("CHUNK_SIZE_CHARS", 500),
		ChunkOverlapChars:      envInt("CHUNK_OVERLAP_CHARS", 50),
		EmbeddingDim:           envInt("EMBEDDING_DIM", 768),
		MaxCrawlDepth:          envInt("MAX_CRAWL_DEPTH", 1),
		DBPoolMin:              envInt("DB_POOL_MIN", 1),
		DBPoolMax:              envInt("DB_POOL_MAX", 5),
		RetryAttempts:          envInt("RETRY_ATTEMPTS", 2),
		RetryBackoff:           envDuration("RETRY_BACKOFF_MS", 500*time.Millisecond),
		HTTPTimeout:            envDuration("HTTP_TIMEOUT_S", 30*time.Second),
		EmbeddingTimeout:       envDuration("EMBEDDING_TIMEOUT_S", 120*time.Second),
		ReasoningTimeout:       envDuration("REASONING_TIMEOUT_S", 300*time.Second),

		MetricsPort: envOr("METRICS_PORT", "9090"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// envDuration reads a bare integer env var denominated in the unit implied
// by the key name (…_SECONDS / …_MS / …_S) and converts to a time.Duration.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	unit := time.Second
	if len(key) >= 3 && key[len(key)-3:] == "_MS" {
		unit = time.Millisecond
	}
	return time.Duration(n) * unit
}
