package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Ai         AIConfig
	Retrieval  RetrievalConfig
	Qdrant     QdrantConfig
	Memory     MemoryConfig
	Session    SessionConfig
	Upload     UploadConfig
	Extraction ExtractionConfig
	Generation GenerationConfig
	Tracing    TracingConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JWTSecret          string // empty disables bearer-token actor resolution
}

type DatabaseConfig struct {
	Connection   string
	MaxOpenConns int
	MaxIdleConns int
	LogLevel     string
}

type AIConfig struct {
	LLMProvider       string // "ollama", "gemini" or "huggingface"
	LLMModel          string
	LLMBaseURL        string
	EmbeddingProvider string // "ollama" or "gemini"
	EmbeddingModel    string
	OllamaBaseURL     string
	GeminiAPIKey      string
	HuggingFaceToken  string
}

type RetrievalConfig struct {
	Backend         string // "http" or "qdrant"
	Endpoint        string
	APIKey          string
	KnowledgeBaseID string
	ModelID         string
	Region          string
	MaxResults      int
	Timeout         time.Duration
	MaxAttempts     int
	RetryInterval   time.Duration
}

type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

type MemoryConfig struct {
	Backend string // "none", "inmemory" or "pgvector"
}

type SessionConfig struct {
	Store      string // "memory" or "redis"
	MaxEntries int
	IdleTTL    time.Duration
}

type UploadConfig struct {
	MaxBytes int
	Dir      string
}

type ExtractionConfig struct {
	MaxChars  int
	MaxChunks int
	Timeout   time.Duration
}

type GenerationConfig struct {
	Timeout time.Duration
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log.json"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			Connection:   getEnv("DB_CONNECTION_STRING", ""),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		Ai: AIConfig{
			LLMProvider:       getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:          getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingModel:    getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			GeminiAPIKey:      getEnv("GOOGLE_GEMINI_API_KEY", ""),
			HuggingFaceToken:  getEnv("HUGGINGFACE_API_TOKEN", ""),
		},
		Retrieval: RetrievalConfig{
			Backend:         getEnv("KB_BACKEND", "http"),
			Endpoint:        getEnv("KB_ENDPOINT", "http://localhost:8080"),
			APIKey:          getEnv("KB_API_KEY", ""),
			KnowledgeBaseID: getEnv("KNOWLEDGE_BASE_ID", ""),
			ModelID:         getEnv("KB_MODEL_ID", ""),
			Region:          getEnv("KB_REGION", "us-west-2"),
			MaxResults:      getEnvAsInt("KB_MAX_RESULTS", 5),
			Timeout:         getEnvAsDuration("KB_TIMEOUT", 30*time.Second),
			MaxAttempts:     getEnvAsInt("KB_MAX_ATTEMPTS", 2),
			RetryInterval:   getEnvAsDuration("KB_RETRY_INTERVAL", 500*time.Millisecond),
		},
		Qdrant: QdrantConfig{
			Host:   getEnv("QDRANT_HOST", "localhost"),
			Port:   getEnvAsInt("QDRANT_PORT", 6334),
			APIKey: getEnv("QDRANT_API_KEY", ""),
			UseTLS: getEnvAsBool("QDRANT_USE_TLS", false),
		},
		Memory: MemoryConfig{
			Backend: getEnv("MEMORY_BACKEND", "inmemory"),
		},
		Session: SessionConfig{
			Store:      getEnv("SESSION_STORE", "memory"),
			MaxEntries: getEnvAsInt("SESSION_MAX_ENTRIES", 100),
			IdleTTL:    getEnvAsDuration("SESSION_IDLE_TTL", time.Hour),
		},
		Upload: UploadConfig{
			MaxBytes: getEnvAsInt("UPLOAD_MAX_BYTES", 10*1024*1024),
			Dir:      getEnv("UPLOAD_DIR", "./data"),
		},
		Extraction: ExtractionConfig{
			MaxChars:  getEnvAsInt("EXTRACTION_MAX_CHARS", 15000),
			MaxChunks: getEnvAsInt("EXTRACTION_MAX_CHUNKS", 4),
			Timeout:   getEnvAsDuration("EXTRACTION_TIMEOUT", 30*time.Second),
		},
		Generation: GenerationConfig{
			Timeout: getEnvAsDuration("GENERATION_TIMEOUT", 30*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "cba-intake-assistant"),
			SampleRatio: getEnvAsFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go duration strings ("30s") or bare seconds ("30").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
