// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (NEXA_ prefix, runtime override)
//  2. Config file (./config.yaml or $NEXA_CONFIG_DIR/config.yaml)
//  3. Default values
//
// Validation is fail-fast: Load returns an error for any configuration that
// would only surface as a broken request later (unknown vector store kind,
// chunk overlap >= chunk size, missing backend parameters). Callers are
// expected to abort startup on a Load error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the LLM provider is not supported.
	ErrInvalidProvider = errors.New("invalid llm provider")

	// ErrInvalidStoreKind indicates the vector store kind is not supported.
	ErrInvalidStoreKind = errors.New("invalid vector store kind")

	// ErrMissingQdrantURL indicates the qdrant backend was selected without a URL.
	ErrMissingQdrantURL = errors.New("qdrant_url must be set when vector_store=qdrant")

	// ErrMissingPostgresDSN indicates the pgvector backend was selected without a DSN.
	ErrMissingPostgresDSN = errors.New("postgres_dsn must be set when vector_store=pgvector")

	// ErrMissingCloudAPIKey indicates the cloud provider was selected without a key.
	ErrMissingCloudAPIKey = errors.New("cloud_api_key must be set when llm_provider=cloud")

	// ErrInvalidChunking indicates an unusable chunk size / overlap combination.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidRetrieval indicates an unusable top_k or similarity threshold.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")
)

// LLM provider identifiers used in Config.LLMProvider.
const (
	ProviderOllama = "ollama"
	ProviderCloud  = "cloud"
)

// Vector store kind identifiers used in Config.VectorStore.
const (
	StoreExact    = "exact"
	StoreQdrant   = "qdrant"
	StorePgvector = "pgvector"
)

// Config stores application configuration.
type Config struct {
	// Server
	AppName   string `mapstructure:"app_name"`
	Addr      string `mapstructure:"addr"`
	LogLevel  string `mapstructure:"log_level"`
	DataDir   string `mapstructure:"data_dir"`
	RateBurst int    `mapstructure:"rate_burst"`

	// LLM provider: "ollama" or "cloud"
	LLMProvider string `mapstructure:"llm_provider"`

	// Ollama
	OllamaBaseURL    string `mapstructure:"ollama_base_url"`
	OllamaModel      string `mapstructure:"ollama_model"`
	OllamaUseChatAPI bool   `mapstructure:"ollama_use_chat_api"`

	// Cloud (OpenAI-compatible)
	CloudAPIKey  string `mapstructure:"cloud_api_key"` // SENSITIVE: never logged
	CloudBaseURL string `mapstructure:"cloud_base_url"`
	CloudModel   string `mapstructure:"cloud_model"`

	// Sampling options forwarded to the LLM
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	// Embeddings
	EmbeddingModel     string `mapstructure:"embedding_model"`
	EmbeddingBaseURL   string `mapstructure:"embedding_base_url"`
	EmbeddingBatchSize int    `mapstructure:"embedding_batch_size"`

	// Vector store: "exact", "qdrant", or "pgvector"
	VectorStore      string `mapstructure:"vector_store"`
	IndexPath        string `mapstructure:"index_path"`
	MetadataPath     string `mapstructure:"metadata_path"`
	QdrantURL        string `mapstructure:"qdrant_url"`
	QdrantAPIKey     string `mapstructure:"qdrant_api_key"` // SENSITIVE: never logged
	QdrantCollection string `mapstructure:"qdrant_collection"`
	PostgresDSN      string `mapstructure:"postgres_dsn"` // SENSITIVE: never logged
	PgvectorTable    string `mapstructure:"pgvector_table"`

	// RAG
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	TopK                int     `mapstructure:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`

	// Prompts
	SystemPromptPath string `mapstructure:"system_prompt_path"`
	RAGPromptPath    string `mapstructure:"rag_prompt_path"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir := os.Getenv("NEXA_CONFIG_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("NEXA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("app_name", "Nexa Support")
	v.SetDefault("addr", "127.0.0.1:8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "data")
	v.SetDefault("rate_burst", 60)

	// LLM defaults
	v.SetDefault("llm_provider", ProviderOllama)
	v.SetDefault("ollama_base_url", "http://localhost:11434")
	v.SetDefault("ollama_model", "mistral")
	v.SetDefault("ollama_use_chat_api", true)
	v.SetDefault("cloud_base_url", "https://api.openai.com/v1")
	v.SetDefault("cloud_model", "gpt-4")
	v.SetDefault("temperature", 0.2)
	v.SetDefault("top_p", 0.9)
	v.SetDefault("max_tokens", 512)

	// Embedding defaults
	v.SetDefault("embedding_model", "nomic-embed-text")
	v.SetDefault("embedding_base_url", "http://localhost:11434")
	v.SetDefault("embedding_batch_size", 32)

	// Vector store defaults
	v.SetDefault("vector_store", StoreExact)
	v.SetDefault("index_path", "data/index.vec")
	v.SetDefault("metadata_path", "data/index_meta.json")
	v.SetDefault("qdrant_collection", "nexa_support")
	v.SetDefault("pgvector_table", "nexa_chunks")

	// RAG defaults
	v.SetDefault("chunk_size", 400)
	v.SetDefault("chunk_overlap", 80)
	v.SetDefault("top_k", 4)
	v.SetDefault("similarity_threshold", 0.35)

	// Prompt defaults
	v.SetDefault("system_prompt_path", "data/prompts/system.txt")
	v.SetDefault("rag_prompt_path", "data/prompts/rag_addon.txt")
}

// bindEnvVariables registers environment variables for keys that carry no
// default. AutomaticEnv only resolves keys viper already knows about, so
// secrets and remote-store settings must be bound explicitly or an env-only
// deployment would fail validation.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("cloud_api_key", "NEXA_CLOUD_API_KEY")
	mustBind("qdrant_url", "NEXA_QDRANT_URL")
	mustBind("qdrant_api_key", "NEXA_QDRANT_API_KEY")
	mustBind("postgres_dsn", "NEXA_POSTGRES_DSN")
}

// EnsureDirs creates the directories referenced by the configuration.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.IndexPath),
		filepath.Dir(c.MetadataPath),
		filepath.Dir(c.SystemPromptPath),
		filepath.Dir(c.RAGPromptPath),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
