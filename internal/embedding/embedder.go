package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"arbitration-rag/internal/domain"
)

// Engine wraps an embedding model with batch embedding, cosine similarity
// and ranking.
type Engine struct {
	model  domain.Embedder
	logger *zerolog.Logger
}

// NewEngine creates an engine over the given model.
func NewEngine(model domain.Embedder, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{model: model, logger: logger}
}

// Model returns the underlying embedding model.
func (e *Engine) Model() domain.Embedder { return e.model }

// Dimension returns the model's vector dimension, 0 if not yet known.
func (e *Engine) Dimension() int { return e.model.Dimension() }

// Prepare forwards the corpus to models that need a preparation pass.
func (e *Engine) Prepare(corpus []string) error {
	if p, ok := e.model.(domain.Preparer); ok {
		if err := p.Prepare(corpus); err != nil {
			return fmt.Errorf("prepare %s embedder: %w", e.model.Name(), err)
		}
	}
	return nil
}

// Embed embeds a single text.
func (e *Engine) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := e.model.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", e.model.Name(), err)
	}
	return vec, nil
}

// EmbedMany embeds texts in input order. A batch-capable model is tried
// first. Items that fail are replaced by a zero vector of the model
// dimension. It returns ErrEmbeddingUnavailable only when every item failed
// and the dimension cannot be determined.
func (e *Engine) EmbedMany(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b, ok := e.model.(domain.BatchEmbedder); ok {
		vectors, err := b.EmbedBatch(ctx, texts)
		if err == nil && len(vectors) == len(texts) {
			return e.fillMissing(vectors, 0)
		}
		e.logger.Warn().Err(err).Str("embedder", e.model.Name()).Int("texts", len(texts)).
			Msg("batch embedding failed, embedding items one by one")
	}

	vectors := make([][]float64, len(texts))
	failed := 0
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.model.Embed(ctx, text)
		if err != nil {
			failed++
			e.logger.Warn().Err(err).Int("item", i).Str("embedder", e.model.Name()).
				Msg("embedding failed, substituting zero vector")
			continue
		}
		vectors[i] = vec
	}
	return e.fillMissing(vectors, failed)
}

func (e *Engine) fillMissing(vectors [][]float64, failed int) ([][]float64, error) {
	dim := e.model.Dimension()
	if dim == 0 {
		for _, v := range vectors {
			if len(v) > 0 {
				dim = len(v)
				break
			}
		}
	}
	if dim == 0 {
		return nil, domain.ErrEmbeddingUnavailable
	}
	for i := range vectors {
		if len(vectors[i]) == 0 {
			vectors[i] = make([]float64, dim)
		}
	}
	if failed > 0 {
		e.logger.Warn().Int("failed", failed).Int("total", len(vectors)).Msg("zero vectors substituted")
	}
	return vectors, nil
}

// Similarity is the cosine similarity of a and b. It is 0 when either vector
// has zero magnitude.
func Similarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	for _, v := range a {
		na += v * v
	}
	for _, v := range b {
		nb += v * v
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Similarity is the cosine similarity of a and b.
func (e *Engine) Similarity(a, b []float64) float64 { return Similarity(a, b) }

// FindSimilar embeds query once and ranks the chunks that carry an
// embedding by descending similarity. Ties keep input order.
func (e *Engine) FindSimilar(ctx context.Context, query string, chunks []domain.Chunk, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 || len(chunks) == 0 {
		return []domain.SearchResult{}, nil
	}
	qvec, err := e.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return Rank(qvec, chunks, topK), nil
}

// Rank scores chunks against an already embedded query.
func Rank(qvec []float64, chunks []domain.Chunk, topK int) []domain.SearchResult {
	if topK <= 0 {
		return []domain.SearchResult{}
	}
	results := make([]domain.SearchResult, 0, len(chunks))
	for _, ch := range chunks {
		if !ch.HasEmbedding() {
			continue
		}
		results = append(results, domain.SearchResult{Chunk: ch, Score: Similarity(qvec, ch.Embedding)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK < len(results) {
		results = results[:topK]
	}
	return results
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
