package chromem

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/vectorstore"
)

var errZeroVector = errors.New("zero query vector")

// Index keeps chunk vectors in an in-process chromem-go collection.
type Index struct {
	mu         sync.RWMutex
	db         *chromem.DB
	name       string
	collection *chromem.Collection
	dimension  int
}

var _ vectorstore.Index = (*Index)(nil)

func NewIndex(collection string) *Index {
	if collection == "" {
		collection = "arbitration-chunks"
	}
	return &Index{db: chromem.NewDB(), name: collection}
}

func (ix *Index) Name() string { return "chromem" }

func (ix *Index) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	// Vectors are always supplied, so the collection never calls an embedding func.
	c, err := ix.db.GetOrCreateCollection(ix.name, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	ix.collection = c
	ix.dimension = dimension
	return nil
}

// Upsert adds the embedded chunks. Zero vectors are left out because
// chromem normalizes every stored vector.
func (ix *Index) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	ix.mu.RLock()
	c := ix.collection
	ix.mu.RUnlock()
	if c == nil {
		return errors.New("chromem index not initialized")
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) != ix.dimension {
			return fmt.Errorf("chunk %s: %w", ch.ID, domain.ErrDimensionMismatch)
		}
		vec, ok := narrow(ch.Embedding)
		if !ok {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:      ch.ID,
			Content: ch.Content,
			Metadata: map[string]string{
				"case_id":       ch.Metadata.CaseID,
				"document_type": ch.Metadata.DocumentType,
			},
			Embedding: vec,
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (ix *Index) Search(ctx context.Context, vector []float64, topK int) ([]vectorstore.Hit, error) {
	ix.mu.RLock()
	c := ix.collection
	ix.mu.RUnlock()
	if c == nil {
		return nil, errors.New("chromem index not initialized")
	}
	q, ok := narrow(vector)
	if !ok {
		return nil, errZeroVector
	}
	n := c.Count()
	if topK > n {
		topK = n
	}
	if topK <= 0 {
		return []vectorstore.Hit{}, nil
	}
	results, err := c.QueryEmbedding(ctx, q, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	hits := make([]vectorstore.Hit, len(results))
	for i, r := range results {
		hits[i] = vectorstore.Hit{ID: r.ID, Score: float64(r.Similarity)}
	}
	return hits, nil
}

func (ix *Index) Clear(_ context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.collection == nil {
		return nil
	}
	if err := ix.db.DeleteCollection(ix.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	ix.collection = nil
	return nil
}

// narrow converts to float32 and reports false for the zero vector.
func narrow(v []float64) ([]float32, bool) {
	out := make([]float32, len(v))
	nonZero := false
	for i, x := range v {
		out[i] = float32(x)
		if out[i] != 0 {
			nonZero = true
		}
	}
	return out, nonZero
}
