// Package llm generates answers from retrieved notes.
package llm

import (
	"context"
	"fmt"

	"github.com/nickcecere/pki/internal/config"
)

// Provider represents an LLM provider type.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions configures the completion request.
type CompletionOptions struct {
	// Temperature controls randomness (0-1).
	Temperature float64

	// MaxTokens limits the response length.
	MaxTokens int
}

// DefaultCompletionOptions returns sensible defaults.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		Temperature: 0.7,
		MaxTokens:   2048,
	}
}

// Service generates chat completions.
type Service interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
	Provider() Provider
	ModelName() string
}

// New creates an LLM service based on the configuration.
func New(cfg *config.Config) (Service, error) {
	switch Provider(cfg.LLM.Provider) {
	case ProviderOllama:
		return NewOllamaService(cfg.LLM.Ollama.URL, cfg.LLM.Ollama.Model)
	case ProviderOpenAI:
		return NewOpenAIService(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.Model, cfg.LLM.OpenAI.BaseURL)
	case ProviderAnthropic:
		return NewAnthropicService(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}
