package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel  string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	GenerationModel string `envconfig:"GENERATION_MODEL" default:"gemini-2.5-flash"`

	// Server
	ServerPort int    `envconfig:"SERVER_PORT" default:"8081"`
	APIToken   string `envconfig:"API_TOKEN"`

	// Index
	IndexClass      string `envconfig:"INDEX_CLASS" default:"DocumentChunk"`
	EmbedBatchSize  int    `envconfig:"EMBED_BATCH_SIZE" default:"10"`
	UpsertBatchSize int    `envconfig:"UPSERT_BATCH_SIZE" default:"100"`

	// Chunking
	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`

	// Answering
	TopK            int   `envconfig:"TOP_K" default:"3"`
	MaxQuestions    int   `envconfig:"MAX_QUESTIONS" default:"10"`
	QuestionWorkers int64 `envconfig:"QUESTION_WORKERS" default:"10"`

	// Document acquisition
	MaxDocumentSizeMB int64 `envconfig:"MAX_DOCUMENT_SIZE_MB" default:"50"`

	// Timeout budgets. Connect timeouts are shorter than the end-to-end
	// operation timeouts that contain them.
	HTTPConnectTimeout  time.Duration `envconfig:"HTTP_CONNECT_TIMEOUT" default:"10s"`
	DownloadTimeout     time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"120s"`
	ExtractTimeout      time.Duration `envconfig:"EXTRACT_TIMEOUT" default:"60s"`
	ChunkTimeout        time.Duration `envconfig:"CHUNK_TIMEOUT" default:"60s"`
	IndexConnectTimeout time.Duration `envconfig:"INDEX_CONNECT_TIMEOUT" default:"15s"`
	IndexOpTimeout      time.Duration `envconfig:"INDEX_OP_TIMEOUT" default:"45s"`
	StoreCreateTimeout  time.Duration `envconfig:"STORE_CREATE_TIMEOUT" default:"90s"`
	EmbedTimeout        time.Duration `envconfig:"EMBED_TIMEOUT" default:"20s"`
	SearchTimeout       time.Duration `envconfig:"SEARCH_TIMEOUT" default:"30s"`
	GenerateTimeout     time.Duration `envconfig:"GENERATE_TIMEOUT" default:"30s"`
	HealthProbeTimeout  time.Duration `envconfig:"HEALTH_PROBE_TIMEOUT" default:"10s"`
	IndexSettleDelay    time.Duration `envconfig:"INDEX_SETTLE_DELAY" default:"10s"`

	// Resilience
	InitRetryAttempts int     `envconfig:"INIT_RETRY_ATTEMPTS" default:"3"`
	InitBackoffFactor float64 `envconfig:"INIT_BACKOFF_FACTOR" default:"2.0"`

	// Telemetry
	TraceHistory int `envconfig:"TRACE_HISTORY" default:"100"`
}

func Load() (*Config, error) {
	// Env vars may be set in the shell; a missing .env is not an error.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
	}
	if c.APIToken == "" {
		return fmt.Errorf("%w: API_TOKEN", ErrMissingRequired)
	}
	if c.WeaviateHost == "" {
		return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return errors.New("CHUNK_SIZE must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return errors.New("CHUNK_OVERLAP must be non-negative and smaller than CHUNK_SIZE")
	}
	if c.MaxQuestions < 1 {
		return errors.New("MAX_QUESTIONS must be at least 1")
	}
	if c.QuestionWorkers < 1 {
		return errors.New("QUESTION_WORKERS must be at least 1")
	}
	return nil
}

// MaxDocumentBytes is the download size ceiling in bytes.
func (c *Config) MaxDocumentBytes() int64 {
	return c.MaxDocumentSizeMB * 1024 * 1024
}
