package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/embedding"
	"arbitration-rag/internal/vectorstore"
)

// Store keeps chunks and their vectors in memory. Ranking is a brute-force
// cosine scan unless an Index is attached.
type Store struct {
	mu         sync.RWMutex
	engine     *embedding.Engine
	index      vectorstore.Index
	indexReady bool
	dimension  int
	chunks     []domain.Chunk
	byID       map[string]int
	// storage positions of zero-vector chunks, which indexes do not hold
	zeroVec    []int
	logger     *zerolog.Logger
}

type Option func(*Store)

// WithIndex delegates similarity ranking to idx.
func WithIndex(idx vectorstore.Index) Option {
	return func(s *Store) { s.index = idx }
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewStore(engine *embedding.Engine, opts ...Option) *Store {
	nop := zerolog.Nop()
	s := &Store{engine: engine, byID: make(map[string]int), logger: &nop}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dimension returns the fixed vector dimension, 0 while the store is empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// AddChunks embeds the chunks that lack a vector and appends all of them in
// input order. The batch is rejected as a whole when embedding is
// unavailable or a vector does not match the store dimension.
func (s *Store) AddChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := make([]domain.Chunk, len(chunks))
	copy(batch, chunks)

	var pending []int
	var texts []string
	for i, ch := range batch {
		if !ch.HasEmbedding() {
			pending = append(pending, i)
			texts = append(texts, ch.Content)
		}
	}
	if len(pending) > 0 {
		vectors, err := s.engine.EmbedMany(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %d chunks: %w", len(pending), err)
		}
		for j, i := range pending {
			batch[i].Embedding = vectors[j]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	if dim == 0 {
		dim = len(batch[0].Embedding)
	}
	for _, ch := range batch {
		if len(ch.Embedding) != dim {
			return fmt.Errorf("chunk %s has %d dimensions, store has %d: %w",
				ch.ID, len(ch.Embedding), dim, domain.ErrDimensionMismatch)
		}
	}

	if s.index != nil {
		if !s.indexReady {
			if err := s.index.Init(ctx, dim); err != nil {
				return fmt.Errorf("init %s index: %w", s.index.Name(), err)
			}
			s.indexReady = true
		}
		if err := s.index.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("upsert into %s index: %w", s.index.Name(), err)
		}
	}

	s.dimension = dim
	for _, ch := range batch {
		if _, exists := s.byID[ch.ID]; !exists {
			s.byID[ch.ID] = len(s.chunks)
		}
		if embedding.IsZero(ch.Embedding) {
			s.zeroVec = append(s.zeroVec, len(s.chunks))
		}
		s.chunks = append(s.chunks, ch)
	}
	s.logger.Debug().Int("chunks", len(batch)).Int("total", len(s.chunks)).Msg("chunks added")
	return nil
}

// Search embeds query and returns up to topK results by descending score.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 || s.Len() == 0 {
		return []domain.SearchResult{}, nil
	}
	qvec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SearchVector(ctx, qvec, topK), nil
}

// SearchVector ranks stored chunks against an embedded query. If the
// attached index fails the store falls back to a linear scan.
func (s *Store) SearchVector(ctx context.Context, qvec []float64, topK int) []domain.SearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 || len(s.chunks) == 0 {
		return []domain.SearchResult{}
	}

	if s.index != nil && s.indexReady {
		results, err := s.searchIndex(ctx, qvec, topK)
		if err == nil {
			return results
		}
		s.logger.Warn().Err(err).Str("index", s.index.Name()).Msg("index search failed, scanning")
	}
	return embedding.Rank(qvec, s.chunks, topK)
}

// searchIndex uses the index to pick candidates and orders them the way the
// scan does: exact cosine score descending, then storage position. The
// request widens until no candidate tied with the topK-th score can be
// missing. Zero-vector chunks always join the candidates at score 0.
func (s *Store) searchIndex(ctx context.Context, qvec []float64, topK int) ([]domain.SearchResult, error) {
	total := len(s.chunks)
	want := topK
	var hits []vectorstore.Hit
	for {
		n := min(want, total)
		var err error
		hits, err = s.index.Search(ctx, qvec, n)
		if err != nil {
			return nil, err
		}
		if len(hits) < n || n >= total || !tiedAtCutoff(hits, topK) {
			break
		}
		want *= 2
	}

	seen := make(map[int]struct{}, len(hits)+len(s.zeroVec))
	positions := make([]int, 0, len(hits)+len(s.zeroVec))
	add := func(i int) {
		if _, dup := seen[i]; !dup {
			seen[i] = struct{}{}
			positions = append(positions, i)
		}
	}
	for _, h := range hits {
		if i, ok := s.byID[h.ID]; ok {
			add(i)
		}
	}
	for _, i := range s.zeroVec {
		add(i)
	}
	sort.Ints(positions)

	results := make([]domain.SearchResult, 0, len(positions))
	for _, i := range positions {
		ch := s.chunks[i]
		results = append(results, domain.SearchResult{Chunk: ch, Score: s.engine.Similarity(qvec, ch.Embedding)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// tiedAtCutoff reports whether the weakest hit still scores as high as the
// topK-th best, so equal-scoring chunks may lie beyond the returned set.
func tiedAtCutoff(hits []vectorstore.Hit, topK int) bool {
	if len(hits) < topK || topK <= 0 {
		return false
	}
	scores := make([]float64, len(hits))
	for i, h := range hits {
		scores[i] = h.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	return scores[len(scores)-1] >= scores[topK-1]
}

// SearchByMetadata returns up to topK chunks matching every set field of
// filter, in storage order.
func (s *Store) SearchByMetadata(filter domain.MetadataFilter, topK int) []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Chunk{}
	if topK <= 0 {
		return out
	}
	for _, ch := range s.chunks {
		if !filter.Matches(ch.Metadata) {
			continue
		}
		out = append(out, ch)
		if len(out) == topK {
			break
		}
	}
	return out
}

func (s *Store) GetChunkByID(id string) (domain.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return domain.Chunk{}, false
	}
	return s.chunks[i], true
}

// GetChunksByCase returns every chunk of the case in storage order.
func (s *Store) GetChunksByCase(caseID string) []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Chunk{}
	for _, ch := range s.chunks {
		if ch.Metadata.CaseID == caseID {
			out = append(out, ch)
		}
	}
	return out
}

func (s *Store) Stats() domain.StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := domain.StoreStats{TotalChunks: len(s.chunks), ChunksByType: map[string]int{}}
	cases := make(map[string]struct{})
	for _, ch := range s.chunks {
		if ch.HasEmbedding() {
			stats.ChunksWithEmbeddings++
		}
		cases[ch.Metadata.CaseID] = struct{}{}
		stats.ChunksByType[ch.Metadata.DocumentType]++
	}
	stats.UniqueCases = len(cases)
	return stats
}

// All returns a copy of the stored chunks.
func (s *Store) All() []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Clear empties the store and the attached index.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.byID = make(map[string]int)
	s.zeroVec = nil
	s.dimension = 0
	if s.index != nil && s.indexReady {
		s.indexReady = false
		if err := s.index.Clear(ctx); err != nil {
			return fmt.Errorf("clear %s index: %w", s.index.Name(), err)
		}
	}
	return nil
}
