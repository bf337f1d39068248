package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/nickcecere/pki/internal/search"
)

// NoResultsAnswer is returned without calling the model when nothing matched.
const NoResultsAnswer = "I couldn't find any relevant notes to answer your question. Try rephrasing it or ingesting more files."

// QAService answers questions using search results as context.
type QAService struct {
	llm Service
}

// QAOptions configures answer generation.
type QAOptions struct {
	Temperature float64
	MaxTokens   int

	// MaxSources limits how many search results go into the prompt.
	MaxSources int
}

// DefaultQAOptions returns sensible defaults.
func DefaultQAOptions() QAOptions {
	return QAOptions{
		Temperature: 0.3,
		MaxTokens:   1024,
		MaxSources:  5,
	}
}

// QAResult contains the answer and the results it was drawn from.
type QAResult struct {
	Answer  string          `json:"answer"`
	Sources []search.Result `json:"sources"`
}

// NewQAService creates a new Q&A service.
func NewQAService(llm Service) *QAService {
	return &QAService{llm: llm}
}

// Answer generates an answer to question citing results as [N].
func (qa *QAService) Answer(ctx context.Context, question string, results []search.Result, opts QAOptions) (*QAResult, error) {
	if len(results) == 0 {
		return &QAResult{Answer: NoResultsAnswer, Sources: []search.Result{}}, nil
	}

	sources := results
	if opts.MaxSources > 0 && len(sources) > opts.MaxSources {
		sources = sources[:opts.MaxSources]
	}

	messages := []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: fmt.Sprintf("Question: %s\n\n%s", question, buildContext(sources))},
	}

	answer, err := qa.llm.Complete(ctx, messages, CompletionOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	return &QAResult{
		Answer:  strings.TrimSpace(answer),
		Sources: sources,
	}, nil
}

// buildContext numbers the sources so the model can cite them.
func buildContext(results []search.Result) string {
	var sb strings.Builder
	sb.WriteString("Relevant notes:\n\n")

	for i, r := range results {
		label := r.ID
		if r.Path != "" {
			label = r.Path
			if r.StartLine > 0 {
				label = fmt.Sprintf("%s (lines %d-%d)", r.Path, r.StartLine, r.EndLine)
			}
		}
		fmt.Fprintf(&sb, "--- Source [%d]: %s, %.0f%% match ---\n", i+1, label, r.Score*100)
		sb.WriteString(r.Text)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

const systemPrompt = `You are an assistant that answers questions from the user's personal notes.

Answer only from the notes provided. Cite them with [Source N]. If the notes do not contain the answer, say so plainly.

Keep answers short and format them in markdown when it helps.`
