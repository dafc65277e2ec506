package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every knob the services need. It is built once in main and
// handed to constructors; nothing reads the environment after startup.
type Config struct {
	// Data + vector store
	DataDir    string
	QdrantURL  string
	Collection string

	// Ollama
	OllamaURL      string
	EmbedModel     string
	DefaultModel   string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // generation read timeout
	EmbedTimeout   time.Duration // per-attempt embedding timeout

	// Ingestion
	ChunkSize       int
	ChunkOverlap    int
	BatchSize       int
	EmbedRetries    int
	EmbedBackoff    time.Duration
	ExcerptMaxChars int
	Resume          bool

	// Retrieval gate
	TopK     int
	MinScore float64
	MinDocs  int

	// Misc
	Port             string
	UnidocLicenseKey string
}

// Load reads .env (if present) and builds the Config from the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("CONFIG: no .env file found, relying on environment variables")
	}

	return &Config{
		DataDir:    getEnv("DATA_DIR", "./data"),
		QdrantURL:  getEnv("QDRANT_URL", "http://qdrant:6333"),
		Collection: getEnv("QDRANT_COLLECTION", "regdocs_v1"),

		OllamaURL:      getEnv("OLLAMA_URL", "http://ollama:11434"),
		EmbedModel:     getEnv("EMBED_MODEL", "nomic-embed-text"),
		DefaultModel:   getEnv("OLLAMA_DEFAULT_MODEL", "mistral:7b-instruct"),
		ConnectTimeout: getDuration("OLLAMA_CONNECT_TIMEOUT", 10*time.Second),
		ReadTimeout:    getDuration("OLLAMA_READ_TIMEOUT", 600*time.Second),
		EmbedTimeout:   getDuration("EMBED_TIMEOUT", 120*time.Second),

		ChunkSize:       getInt("CHUNK_SIZE", 1200),
		ChunkOverlap:    getInt("CHUNK_OVERLAP", 200),
		BatchSize:       getInt("BATCH_SIZE", 64),
		EmbedRetries:    getInt("EMBED_RETRIES", 3),
		EmbedBackoff:    getDuration("EMBED_BACKOFF", 500*time.Millisecond),
		ExcerptMaxChars: getInt("EXCERPT_MAX_CHARS", 700),
		Resume:          getBool("RESUME", true),

		TopK:     getInt("RAG_TOP_K", 8),
		MinScore: getFloat("RAG_MIN_SCORE", 0.35),
		MinDocs:  getInt("RAG_MIN_DOCS_REQUIRED", 1),

		Port:             getEnv("PORT", "8000"),
		UnidocLicenseKey: getEnv("UNIDOC_LICENSE_KEY", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("CONFIG: invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("CONFIG: invalid float for %s, using default %g", key, fallback)
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("CONFIG: invalid bool for %s, using default %t", key, fallback)
	}
	return fallback
}

// getDuration accepts either a Go duration string ("90s") or a bare number of
// seconds, matching how the original deployment expressed its timeouts.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("CONFIG: invalid duration for %s, using default %s", key, fallback)
	return fallback
}
