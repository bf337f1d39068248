package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/pki/internal/config"
	"github.com/nickcecere/pki/internal/ollama"
)

func TestGetModelDimensions(t *testing.T) {
	tests := []struct {
		model    string
		expected int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"unknown-model", 0},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetModelDimensions(tt.model))
		})
	}
}

func TestNewOllamaService(t *testing.T) {
	t.Run("with defaults", func(t *testing.T) {
		svc, err := NewOllamaService("", "nomic-embed-text")
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:11434", svc.client.BaseURL())
		assert.Equal(t, 768, svc.Dimensions())
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "nomic-embed-text", svc.ModelName())
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		svc, err := NewOllamaService("http://custom:8080/", "mxbai-embed-large")
		require.NoError(t, err)

		assert.Equal(t, "http://custom:8080", svc.client.BaseURL())
		assert.Equal(t, 1024, svc.Dimensions())
	})

	t.Run("unknown model starts at zero", func(t *testing.T) {
		svc, err := NewOllamaService("", "custom-model")
		require.NoError(t, err)
		assert.Equal(t, 0, svc.Dimensions())
	})

	t.Run("requires a model", func(t *testing.T) {
		_, err := NewOllamaService("", "")
		assert.ErrorContains(t, err, "model is required")
	})
}

func TestNewOpenAIService(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := NewOpenAIService("", "text-embedding-3-small", "", 0)
		assert.ErrorContains(t, err, "API key is required")
	})

	t.Run("with known model dimensions", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-small", "", 0)
		require.NoError(t, err)

		assert.Equal(t, 1536, svc.Dimensions())
		assert.Equal(t, ProviderOpenAI, svc.Provider())
		assert.Equal(t, "text-embedding-3-small", svc.ModelName())
	})

	t.Run("with custom dimensions", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-large", "", 512)
		require.NoError(t, err)

		assert.Equal(t, 512, svc.Dimensions())
		assert.Equal(t, 512, svc.requested)
	})
}

func TestOllamaTaskPrefixes(t *testing.T) {
	tests := []struct {
		model    string
		document string
		query    string
	}{
		{"nomic-embed-text", "search_document: note", "search_query: q"},
		{"mxbai-embed-large", "note", "Represent this sentence for searching relevant passages: q"},
		{"unknown-model", "note", "q"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			var seen []string
			server := mockOllamaServer(t, 4, &seen)
			defer server.Close()

			svc, err := NewOllamaService(server.URL, tt.model)
			require.NoError(t, err)

			_, err = svc.Embed(context.Background(), []string{"note"})
			require.NoError(t, err)
			_, err = svc.EmbedQuery(context.Background(), "q")
			require.NoError(t, err)

			assert.Equal(t, []string{tt.document, tt.query}, seen)
		})
	}
}

// mockOllamaServer simulates Ollama's embed API and records the inputs it saw.
func mockOllamaServer(t *testing.T, dims int, seen *[]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ollama.EmbedRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if seen != nil {
			*seen = append(*seen, req.Input...)
		}

		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embedding := make([]float32, dims)
			for j := range embedding {
				embedding[j] = float32(i+1) * 0.1
			}
			embeddings[i] = embedding
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollama.EmbedResponse{Embeddings: embeddings})
	}))
}

func TestOllamaEmbed(t *testing.T) {
	var seen []string
	server := mockOllamaServer(t, 768, &seen)
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "nomic-embed-text")
	require.NoError(t, err)

	t.Run("Embed keeps input order", func(t *testing.T) {
		seen = nil
		embeddings, err := svc.Embed(context.Background(), []string{"doc1", "doc2", "doc3"})
		require.NoError(t, err)

		require.Len(t, embeddings, 3)
		for i, emb := range embeddings {
			assert.Len(t, emb, 768)
			assert.Equal(t, float32(i+1)*0.1, emb[0])
		}
		assert.Equal(t, []string{
			"search_document: doc1",
			"search_document: doc2",
			"search_document: doc3",
		}, seen)
	})

	t.Run("EmbedQuery uses query prefix", func(t *testing.T) {
		seen = nil
		embedding, err := svc.EmbedQuery(context.Background(), "test query")
		require.NoError(t, err)

		assert.Len(t, embedding, 768)
		assert.Equal(t, []string{"search_query: test query"}, seen)
	})

	t.Run("Embed empty returns nil", func(t *testing.T) {
		embeddings, err := svc.Embed(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, embeddings)
	})
}

func TestOllamaErrorHandling(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("model not found"))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text")
		_, err := svc.Embed(context.Background(), []string{"test"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
		assert.Contains(t, err.Error(), "model not found")
	})

	t.Run("connection error", func(t *testing.T) {
		svc, _ := NewOllamaService("http://localhost:99999", "nomic-embed-text")
		_, err := svc.Embed(context.Background(), []string{"test"})

		assert.ErrorContains(t, err, "failed to make request")
	})

	t.Run("invalid JSON response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text")
		_, err := svc.Embed(context.Background(), []string{"test"})

		assert.ErrorContains(t, err, "failed to decode response")
	})

	t.Run("short response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ollama.EmbedResponse{Embeddings: [][]float32{{0.1}}})
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text")
		_, err := svc.Embed(context.Background(), []string{"a", "b"})

		assert.ErrorContains(t, err, "expected 2 embeddings, got 1")
	})
}

func TestOllamaDimensionUpdate(t *testing.T) {
	server := mockOllamaServer(t, 512, nil)
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "nomic-embed-text")
	assert.Equal(t, 768, svc.Dimensions())

	_, err := svc.Embed(context.Background(), []string{"test"})
	require.NoError(t, err)

	assert.Equal(t, 512, svc.Dimensions())
}

func TestNew(t *testing.T) {
	t.Run("creates Ollama embedder", func(t *testing.T) {
		cfg := config.DefaultConfig()

		e, err := New(cfg)
		require.NoError(t, err)

		assert.Equal(t, ProviderOllama, e.Provider())
		assert.Equal(t, "nomic-embed-text", e.ModelName())
	})

	t.Run("creates OpenAI embedder", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "openai"
		cfg.Embeddings.OpenAI.APIKey = "sk-test"

		e, err := New(cfg)
		require.NoError(t, err)

		assert.Equal(t, ProviderOpenAI, e.Provider())
		assert.Equal(t, "text-embedding-3-small", e.ModelName())
	})

	t.Run("returns error for unsupported provider", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "unsupported"

		_, err := New(cfg)
		assert.ErrorContains(t, err, "unsupported embedding provider")
	})
}

func TestContextCancellation(t *testing.T) {
	server := mockOllamaServer(t, 4, nil)
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "nomic-embed-text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Embed(ctx, []string{"test"})
	assert.ErrorIs(t, err, context.Canceled)
}
