// Package config handles configuration loading and validation for pki.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config represents the complete pki configuration.
type Config struct {
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Search     SearchConfig     `mapstructure:"search"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Ignore     []string         `mapstructure:"ignore"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider string            `mapstructure:"provider"`
	Ollama   OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI   OpenAIEmbedConfig `mapstructure:"openai"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
	// Dimension fixes the embedding length. 0 takes it from stored data.
	Dimension int `mapstructure:"dimension"`
}

// SearchConfig configures query behaviour.
type SearchConfig struct {
	// Backend is exact, auto, vec0 or vptree.
	Backend         string  `mapstructure:"backend"`
	TopK            int     `mapstructure:"top_k"`
	MinScore        float64 `mapstructure:"min_score"`
	RebuildAttempts int     `mapstructure:"rebuild_attempts"`
}

// RetentionConfig bounds the number of stored documents. 0 disables it.
type RetentionConfig struct {
	MaxItems int `mapstructure:"max_items"`
}

// IngestConfig configures file ingestion.
type IngestConfig struct {
	Extensions   []string `mapstructure:"extensions"`
	BatchSize    int      `mapstructure:"batch_size"`
	MaxFileSize  int      `mapstructure:"max_file_size"`
	ChunkSize    int      `mapstructure:"chunk_size"`
	ChunkOverlap int      `mapstructure:"chunk_overlap"`
}

// LLMConfig configures the LLM service for answers.
type LLMConfig struct {
	Provider  string          `mapstructure:"provider"`
	Ollama    OllamaLLMConfig `mapstructure:"ollama"`
	OpenAI    OpenAILLMConfig `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// OllamaLLMConfig configures Ollama LLM.
type OllamaLLMConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAILLMConfig configures OpenAI LLM.
type OpenAILLMConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// AnthropicConfig configures Anthropic LLM.
type AnthropicConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider: DefaultEmbeddingProvider,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
		},
		Database: DatabaseConfig{
			Path: DefaultDatabasePath(),
		},
		Search: SearchConfig{
			Backend:         DefaultSearchBackend,
			TopK:            DefaultTopK,
			RebuildAttempts: DefaultRebuildAttempts,
		},
		Retention: RetentionConfig{
			MaxItems: DefaultMaxItems,
		},
		Ingest: IngestConfig{
			Extensions:   DefaultExtensions(),
			BatchSize:    DefaultBatchSize,
			MaxFileSize:  DefaultMaxFileSize,
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
		},
		LLM: LLMConfig{
			Provider: DefaultLLMProvider,
			Ollama: OllamaLLMConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaLLMModel,
			},
			OpenAI: OpenAILLMConfig{
				Model: DefaultOpenAILLMModel,
			},
			Anthropic: AnthropicConfig{
				Model: DefaultAnthropicModel,
			},
		},
		Ignore: DefaultIgnorePatterns(),
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		// Search for config in standard locations
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		// A .pkirc.yaml in the current directory or a parent wins
		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	// Environment variables
	viper.SetEnvPrefix("PKI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	loadAPIKeysFromEnv()

	return nil
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Search.Backend) {
	case "", "exact", "auto", "vec0", "vptree":
	default:
		return fmt.Errorf("invalid search.backend %q (use exact, auto, vec0 or vptree)", c.Search.Backend)
	}
	if c.Database.Dimension < 0 {
		return fmt.Errorf("invalid database.dimension %d", c.Database.Dimension)
	}
	if c.Retention.MaxItems < 0 {
		return fmt.Errorf("invalid retention.max_items %d", c.Retention.MaxItems)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("invalid ingest.batch_size %d", c.Ingest.BatchSize)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize && c.Ingest.ChunkSize > 0 {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	// Embeddings
	viper.SetDefault("embeddings.provider", DefaultEmbeddingProvider)
	viper.SetDefault("embeddings.ollama.url", DefaultOllamaURL)
	viper.SetDefault("embeddings.ollama.model", DefaultOllamaEmbedModel)
	viper.SetDefault("embeddings.openai.model", DefaultOpenAIEmbedModel)

	// Database
	viper.SetDefault("database.path", DefaultDatabasePath())
	viper.SetDefault("database.dimension", 0)

	// Search
	viper.SetDefault("search.backend", DefaultSearchBackend)
	viper.SetDefault("search.top_k", DefaultTopK)
	viper.SetDefault("search.min_score", 0.0)
	viper.SetDefault("search.rebuild_attempts", DefaultRebuildAttempts)

	// Retention
	viper.SetDefault("retention.max_items", DefaultMaxItems)

	// Ingest
	viper.SetDefault("ingest.extensions", DefaultExtensions())
	viper.SetDefault("ingest.batch_size", DefaultBatchSize)
	viper.SetDefault("ingest.max_file_size", DefaultMaxFileSize)
	viper.SetDefault("ingest.chunk_size", DefaultChunkSize)
	viper.SetDefault("ingest.chunk_overlap", DefaultChunkOverlap)

	// LLM
	viper.SetDefault("llm.provider", DefaultLLMProvider)
	viper.SetDefault("llm.ollama.url", DefaultOllamaURL)
	viper.SetDefault("llm.ollama.model", DefaultOllamaLLMModel)
	viper.SetDefault("llm.openai.model", DefaultOpenAILLMModel)
	viper.SetDefault("llm.anthropic.model", DefaultAnthropicModel)

	// Metrics
	viper.SetDefault("metrics.addr", "")

	// Ignore patterns
	viper.SetDefault("ignore", DefaultIgnorePatterns())
}

// findRCFile searches for .pkirc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, RCFileName)
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadAPIKeysFromEnv loads API keys from environment variables if not already set.
func loadAPIKeysFromEnv() {
	if cfg.Embeddings.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Embeddings.OpenAI.APIKey = key
		}
	}
	if cfg.LLM.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.OpenAI.APIKey = key
		}
	}
	if cfg.LLM.Anthropic.APIKey == "" {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.LLM.Anthropic.APIKey = key
		}
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
