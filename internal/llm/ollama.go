package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/pki/internal/ollama"
)

// OllamaService implements Service using the Ollama chat API.
type OllamaService struct {
	client *ollama.Client
	model  string
}

// NewOllamaService creates a new Ollama LLM service.
func NewOllamaService(baseURL, model string) (*OllamaService, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	return &OllamaService{
		// local models can be slow
		client: ollama.New(baseURL, 5*time.Minute),
		model:  model,
	}, nil
}

// Complete generates a completion for the given messages.
func (s *OllamaService) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	turns := make([]ollama.Message, len(messages))
	for i, m := range messages {
		turns[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	log.Debug("Requesting completion from Ollama", "model", s.model, "messages", len(messages))

	resp, err := s.client.Chat(ctx, ollama.ChatRequest{
		Model:    s.model,
		Messages: turns,
		Options: &ollama.Options{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (s *OllamaService) Provider() Provider { return ProviderOllama }

func (s *OllamaService) ModelName() string { return s.model }
