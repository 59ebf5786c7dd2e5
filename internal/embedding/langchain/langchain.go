package langchain

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Options selects the langchaingo backend used for embeddings.
type Options struct {
	Provider  string // "ollama" or "openai"
	BaseURL   string
	Model     string
	APIKeyEnv string
	Dimension int
}

// Embedder adapts a langchaingo embeddings.Embedder to float64 vectors.
type Embedder struct {
	impl      embeddings.Embedder
	dimension int
}

// New builds the backend client and wraps it with embeddings.NewEmbedder.
func New(opts Options) (*Embedder, error) {
	var client embeddings.EmbedderClient
	switch strings.ToLower(opts.Provider) {
	case "", "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(opts.BaseURL),
			ollama.WithModel(opts.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init ollama: %w", err)
		}
		client = llm
	case "openai":
		llm, err := openai.New(
			openai.WithBaseURL(opts.BaseURL),
			openai.WithToken(strings.TrimPrefix(os.Getenv(opts.APIKeyEnv), "Bearer ")),
			openai.WithEmbeddingModel(opts.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init openai: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unknown langchain provider %q", opts.Provider)
	}

	impl, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return Wrap(impl, opts.Dimension), nil
}

// Wrap adapts an existing langchaingo embedder.
func Wrap(impl embeddings.Embedder, dimension int) *Embedder {
	return &Embedder{impl: impl, dimension: dimension}
}

func (e *Embedder) Name() string   { return "langchain" }
func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	v, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return widen(v), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vs, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vs), len(texts))
	}
	out := make([][]float64, len(vs))
	for i, v := range vs {
		out[i] = widen(v)
	}
	return out, nil
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
