// Package extractive answers from the retrieved passages without a language
// model, by ranking their sentences.
package extractive

import (
	"context"
	"strings"

	"arbitration-rag/internal/domain"
)

type Generator struct {
	summarizer   domain.Summarizer
	maxSentences int
}

func New(summarizer domain.Summarizer, maxSentences int) *Generator {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	return &Generator{summarizer: summarizer, maxSentences: maxSentences}
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(strings.Join(req.Passages, "\n"))
	if text == "" {
		return "The provided context does not contain enough information to answer the question.", nil
	}
	return g.summarizer.Summarize(text, g.maxSentences)
}
