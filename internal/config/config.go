package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

type Config struct {
	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8080"`
	APIKey       string `envconfig:"API_KEY" default:"default_hackrx_key"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Gemini
	GeminiAPIKey       string `envconfig:"GEMINI_API_KEY"`
	GenerationModel    string `envconfig:"GENERATION_MODEL" default:"gemini-1.5-flash-latest"`
	EmbeddingModel     string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	EmbeddingDimension int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`
	EmbeddingCacheSize int    `envconfig:"EMBEDDING_CACHE_SIZE" default:"2048"`

	// Documents
	ChunkSize            int   `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap         int   `envconfig:"CHUNK_OVERLAP" default:"50"`
	FetchTimeoutSeconds  int   `envconfig:"FETCH_TIMEOUT_SECONDS" default:"15"`
	MaxDocumentMB        int64 `envconfig:"MAX_DOCUMENT_MB" default:"50"`
	IngestionConcurrency int   `envconfig:"INGESTION_CONCURRENCY" default:"8"`
	QAConcurrency        int   `envconfig:"QA_CONCURRENCY" default:"8"`

	// Decisions
	EnforceDecisionRules bool   `envconfig:"ENFORCE_DECISION_RULES" default:"true"`
	RerankProvider       string `envconfig:"RERANK_PROVIDER" default:"none"`
	RerankAPIKey         string `envconfig:"RERANK_API_KEY"`

	// Evaluation store
	DBEnabled     bool   `envconfig:"DB_ENABLED" default:"false"`
	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"policyeval"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"policyeval"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Background evaluations
	NSQEnabled     bool   `envconfig:"NSQ_ENABLED" default:"false"`
	NSQDHost       string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP       string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQLookupd     string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQMaxAttempts int    `envconfig:"NSQ_MAX_ATTEMPTS" default:"5"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
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
	if c.APIKey == "" {
		return fmt.Errorf("%w: API_KEY", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalidValue)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalidValue)
	}
	if c.EmbeddingDimension < 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must not be negative", ErrInvalidValue)
	}
	if c.EmbeddingCacheSize < 0 {
		return fmt.Errorf("%w: EMBEDDING_CACHE_SIZE must not be negative", ErrInvalidValue)
	}
	if c.IngestionConcurrency <= 0 || c.QAConcurrency <= 0 {
		return fmt.Errorf("%w: concurrency limits must be positive", ErrInvalidValue)
	}
	switch c.RerankProvider {
	case "", "none", "jina", "cohere":
	default:
		return fmt.Errorf("%w: RERANK_PROVIDER %q", ErrInvalidValue, c.RerankProvider)
	}
	if c.DBEnabled {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}
	if c.NSQMaxAttempts <= 0 || c.NSQMaxAttempts > 65535 {
		return fmt.Errorf("%w: NSQ_MAX_ATTEMPTS must be in [1, 65535]", ErrInvalidValue)
	}
	if c.NSQEnabled && !c.DBEnabled {
		return fmt.Errorf("%w: NSQ_ENABLED requires DB_ENABLED", ErrInvalidValue)
	}
	return nil
}
