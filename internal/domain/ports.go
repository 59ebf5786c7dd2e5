package domain

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import "context"

// Embedder converts free text into a numeric vector representation.
// Dimension may return 0 until the first successful call for remote models.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// GenerationRequest is what the retrieval service hands to a text generator.
// Prompt is fully rendered; Passages are the retrieved chunk contents in rank order.
type GenerationRequest struct {
	Query    string
	Prompt   string
	Passages []string
}

// TextGenerator produces an answer for a grounded prompt.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// CorpusLoader returns every case document of the corpus.
type CorpusLoader interface {
	LoadAll(ctx context.Context) ([]CaseDocument, error)
}
