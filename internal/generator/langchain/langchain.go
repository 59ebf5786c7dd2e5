package langchain

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"arbitration-rag/internal/domain"
)

type Options struct {
	Provider    string // "ollama" or "openai"
	BaseURL     string
	Model       string
	APIKeyEnv   string
	MaxTokens   int
	Temperature float64
}

// Generator sends the rendered prompt to a langchaingo model.
type Generator struct {
	model llms.Model
	opts  []llms.CallOption
}

func New(opts Options) (*Generator, error) {
	var model llms.Model
	switch strings.ToLower(opts.Provider) {
	case "", "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(opts.BaseURL),
			ollama.WithModel(opts.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init ollama: %w", err)
		}
		model = llm
	case "openai":
		llm, err := openai.New(
			openai.WithBaseURL(opts.BaseURL),
			openai.WithToken(strings.TrimPrefix(os.Getenv(opts.APIKeyEnv), "Bearer ")),
			openai.WithModel(opts.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init openai: %w", err)
		}
		model = llm
	default:
		return nil, fmt.Errorf("unknown langchain provider %q", opts.Provider)
	}
	return Wrap(model, opts.MaxTokens, opts.Temperature), nil
}

// Wrap uses an existing model.
func Wrap(model llms.Model, maxTokens int, temperature float64) *Generator {
	var callOpts []llms.CallOption
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}
	callOpts = append(callOpts, llms.WithTemperature(temperature))
	return &Generator{model: model, opts: callOpts}
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	answer, err := llms.GenerateFromSinglePrompt(ctx, g.model, req.Prompt, g.opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return strings.TrimSpace(answer), nil
}
