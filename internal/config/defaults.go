package config

import (
	"os"
	"path/filepath"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider = "ollama"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "nomic-embed-text"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"

	// LLM defaults
	DefaultLLMProvider    = "ollama"
	DefaultOllamaLLMModel = "llama3"
	DefaultOpenAILLMModel = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-haiku-20240307"

	// Search defaults
	DefaultSearchBackend   = "auto"
	DefaultTopK            = 5
	MinTopK                = 1
	MaxTopK                = 20
	DefaultRebuildAttempts = 3

	// Retention
	DefaultMaxItems = 10000

	// Ingest defaults
	DefaultBatchSize    = 8
	DefaultMaxFileSize  = 1 << 20 // 1MB
	DefaultChunkSize    = 200     // lines
	DefaultChunkOverlap = 20

	// Files
	DefaultDBFileName = "pki.db"
	RCFileName        = ".pkirc.yaml"
)

// DefaultExtensions returns the file extensions ingested by default.
func DefaultExtensions() []string {
	return []string{".txt", ".md", ".markdown", ".json"}
}

// DefaultIgnorePatterns returns the default list of file patterns to ignore.
func DefaultIgnorePatterns() []string {
	return []string{
		// Dependencies and build outputs
		"node_modules/",
		"vendor/",
		".venv/",
		"venv/",
		"dist/",
		"build/",
		"target/",
		"__pycache__/",

		// Lock files
		"package-lock.json",
		"*.lock",

		// IDE/Editor
		".idea/",
		".vscode/",
		"*.swp",
		"*~",

		// Version control
		".git/",
		".svn/",
		".hg/",

		// Misc
		".DS_Store",
		".obsidian/",
		".trash/",
		".env",
		".env.*",
		"*.log",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/pki"
	}
	return filepath.Join(home, ".config", "pki")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/pki"
	}
	return filepath.Join(home, ".local", "share", "pki")
}

// DefaultDatabasePath returns the default database file path.
func DefaultDatabasePath() string {
	return filepath.Join(DefaultDataDir(), DefaultDBFileName)
}
