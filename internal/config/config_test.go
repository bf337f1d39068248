package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)

	// Embeddings defaults
	assert.Equal(t, DefaultEmbeddingProvider, cfg.Embeddings.Provider)
	assert.Equal(t, DefaultOllamaURL, cfg.Embeddings.Ollama.URL)
	assert.Equal(t, DefaultOllamaEmbedModel, cfg.Embeddings.Ollama.Model)
	assert.Equal(t, DefaultOpenAIEmbedModel, cfg.Embeddings.OpenAI.Model)

	// LLM defaults
	assert.Equal(t, DefaultLLMProvider, cfg.LLM.Provider)
	assert.Equal(t, DefaultOllamaLLMModel, cfg.LLM.Ollama.Model)
	assert.Equal(t, DefaultOpenAILLMModel, cfg.LLM.OpenAI.Model)
	assert.Equal(t, DefaultAnthropicModel, cfg.LLM.Anthropic.Model)

	// Search and retention defaults
	assert.Equal(t, "auto", cfg.Search.Backend)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, 3, cfg.Search.RebuildAttempts)
	assert.Equal(t, 10000, cfg.Retention.MaxItems)
	assert.Equal(t, 0, cfg.Database.Dimension)

	// Ingest defaults
	assert.Equal(t, []string{".txt", ".md", ".markdown", ".json"}, cfg.Ingest.Extensions)
	assert.Equal(t, 8, cfg.Ingest.BatchSize)
	assert.Equal(t, DefaultMaxFileSize, cfg.Ingest.MaxFileSize)
	assert.Equal(t, DefaultChunkSize, cfg.Ingest.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, cfg.Ingest.ChunkOverlap)

	// Ignore patterns
	assert.Contains(t, cfg.Ignore, "node_modules/")
	assert.Contains(t, cfg.Ignore, ".git/")

	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Search.Backend = "hnsw" }},
		{"negative dimension", func(c *Config) { c.Database.Dimension = -1 }},
		{"negative retention", func(c *Config) { c.Retention.MaxItems = -5 }},
		{"zero batch", func(c *Config) { c.Ingest.BatchSize = 0 }},
		{"overlap too large", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestDefaultPaths(t *testing.T) {
	configDir := DefaultConfigDir()
	dataDir := DefaultDataDir()
	dbPath := DefaultDatabasePath()

	assert.Contains(t, configDir, "pki")
	assert.Contains(t, dataDir, "pki")
	assert.Contains(t, dbPath, "pki.db")
}

func TestLoadWithConfigFile(t *testing.T) {
	// Reset viper and global config
	viper.Reset()
	cfg = nil

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
embeddings:
  provider: openai
  openai:
    model: text-embedding-3-large
    base_url: https://custom-api.example.com
    dimensions: 256
database:
  path: /custom/path/pki.db
  dimension: 256
search:
  backend: vptree
  top_k: 10
  min_score: 0.25
retention:
  max_items: 500
ingest:
  extensions: [".md"]
  batch_size: 16
llm:
  provider: anthropic
  anthropic:
    model: claude-3-opus-20240229
metrics:
  addr: 127.0.0.1:9464
ignore:
  - "drafts/"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	require.NoError(t, Load(configPath))
	loaded := Get()

	assert.Equal(t, "openai", loaded.Embeddings.Provider)
	assert.Equal(t, "text-embedding-3-large", loaded.Embeddings.OpenAI.Model)
	assert.Equal(t, 256, loaded.Embeddings.OpenAI.Dimensions)
	assert.Equal(t, "/custom/path/pki.db", loaded.Database.Path)
	assert.Equal(t, 256, loaded.Database.Dimension)
	assert.Equal(t, "vptree", loaded.Search.Backend)
	assert.Equal(t, 10, loaded.Search.TopK)
	assert.InDelta(t, 0.25, loaded.Search.MinScore, 1e-9)
	assert.Equal(t, 500, loaded.Retention.MaxItems)
	assert.Equal(t, []string{".md"}, loaded.Ingest.Extensions)
	assert.Equal(t, 16, loaded.Ingest.BatchSize)
	assert.Equal(t, DefaultChunkSize, loaded.Ingest.ChunkSize)
	assert.Equal(t, "anthropic", loaded.LLM.Provider)
	assert.Equal(t, "127.0.0.1:9464", loaded.Metrics.Addr)
	assert.Contains(t, loaded.Ignore, "drafts/")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	viper.Reset()
	cfg = nil

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("search:\n  backend: faiss\n"), 0644))

	err := Load(configPath)
	assert.ErrorContains(t, err, "search.backend")
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	viper.Reset()
	cfg = nil

	t.Setenv("PKI_EMBEDDINGS_PROVIDER", "openai")
	t.Setenv("PKI_SEARCH_BACKEND", "exact")
	t.Setenv("PKI_RETENTION_MAX_ITEMS", "42")
	t.Setenv("OPENAI_API_KEY", "test-api-key")
	t.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")

	require.NoError(t, Load(""))
	loaded := Get()

	assert.Equal(t, "openai", loaded.Embeddings.Provider)
	assert.Equal(t, "exact", loaded.Search.Backend)
	assert.Equal(t, 42, loaded.Retention.MaxItems)
	assert.Equal(t, "test-api-key", loaded.Embeddings.OpenAI.APIKey)
	assert.Equal(t, "test-api-key", loaded.LLM.OpenAI.APIKey)
	assert.Equal(t, "test-anthropic-key", loaded.LLM.Anthropic.APIKey)
}

func TestLoadFindsRCFile(t *testing.T) {
	viper.Reset()
	cfg = nil

	root := t.TempDir()
	nested := filepath.Join(root, "notes", "daily")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, RCFileName), []byte("search:\n  top_k: 7\n"), 0644))
	t.Chdir(nested)

	require.NoError(t, Load(""))
	assert.Equal(t, 7, Get().Search.TopK)
	assert.Equal(t, filepath.Join(root, RCFileName), ConfigFilePath())
}

func TestGet(t *testing.T) {
	cfg = nil

	c1 := Get()
	assert.NotNil(t, c1)

	// Subsequent call should return same instance
	c2 := Get()
	assert.Same(t, c1, c2)
}

func TestGlobalConfigPath(t *testing.T) {
	path := GlobalConfigPath()
	assert.Contains(t, path, "pki")
	assert.Contains(t, path, "config.yaml")
}
