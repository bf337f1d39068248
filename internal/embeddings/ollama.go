package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/pki/internal/ollama"
)

// taskPrefix holds the instructions some models expect before the input.
type taskPrefix struct {
	document string
	query    string
}

var taskPrefixes = map[string]taskPrefix{
	"nomic-embed-text":  {document: "search_document: ", query: "search_query: "},
	"mxbai-embed-large": {query: "Represent this sentence for searching relevant passages: "},
}

// OllamaService implements Embedder using a local Ollama server.
type OllamaService struct {
	client *ollama.Client
	model  string
	prefix taskPrefix

	mu         sync.Mutex
	dimensions int
}

// NewOllamaService creates a new Ollama embedding service.
func NewOllamaService(baseURL, model string) (*OllamaService, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embedding model is required")
	}

	dimensions := GetModelDimensions(model)
	if dimensions == 0 {
		log.Debug("Unknown model dimensions, will detect on first embed", "model", model)
	}

	return &OllamaService{
		client:     ollama.New(baseURL, 60*time.Second),
		model:      model,
		prefix:     taskPrefixes[model],
		dimensions: dimensions,
	}, nil
}

// Embed generates embeddings for document texts.
func (s *OllamaService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = s.prefix.document + text
	}
	return s.embed(ctx, inputs)
}

// EmbedQuery generates an embedding for query text.
func (s *OllamaService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embed(ctx, []string{s.prefix.query + text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimensions returns the embedding dimensions, 0 until known.
func (s *OllamaService) Dimensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimensions
}

func (s *OllamaService) Provider() Provider { return ProviderOllama }

func (s *OllamaService) ModelName() string { return s.model }

func (s *OllamaService) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	log.Debug("Requesting embeddings from Ollama", "model", s.model, "count", len(inputs))

	resp, err := s.client.Embed(ctx, ollama.EmbedRequest{
		Model:    s.model,
		Input:    inputs,
		Truncate: true,
	})
	if err != nil {
		return nil, err
	}
	if err := checkCount(resp.Embeddings, len(inputs)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.dimensions = len(resp.Embeddings[0])
	s.mu.Unlock()

	return resp.Embeddings, nil
}
