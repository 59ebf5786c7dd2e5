package vectorstore

import (
	"context"

	"arbitration-rag/internal/domain"
)

// Hit is a chunk id returned by an Index together with its similarity.
type Hit struct {
	ID    string
	Score float64
}

// Index is a similarity backend the in-memory store can delegate ranking to.
// Chunks passed to Upsert must carry an embedding.
type Index interface {
	Name() string
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk) error
	Search(ctx context.Context, vector []float64, topK int) ([]Hit, error)
	Clear(ctx context.Context) error
}
