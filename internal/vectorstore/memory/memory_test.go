package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/domain/mocks"
	"arbitration-rag/internal/embedding"
	"arbitration-rag/internal/vectorstore"
	"arbitration-rag/internal/vectorstore/chromem"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

type tableModel struct {
	vectors map[string][]float64
}

func (m *tableModel) Name() string   { return "table" }
func (m *tableModel) Dimension() int { return 2 }
func (m *tableModel) Embed(_ context.Context, text string) ([]float64, error) {
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return nil, errors.New("no vector for " + text)
}

func chunk(id, caseID, docType, content string) domain.Chunk {
	return domain.Chunk{
		ID:      id,
		Content: content,
		Metadata: domain.ChunkMetadata{
			CaseID:       caseID,
			CaseTitle:    "Case " + caseID,
			DocumentType: docType,
		},
	}
}

func newStore(vectors map[string][]float64, opts ...Option) *Store {
	engine := embedding.NewEngine(&tableModel{vectors: vectors}, newTestLogger())
	return NewStore(engine, append([]Option{WithLogger(newTestLogger())}, opts...)...)
}

func TestSearch_EmptyStore(t *testing.T) {
	s := newStore(nil)

	results, err := s.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil results, got %v", results)
	}
}

func TestSearch_ReturnsClosestChunk(t *testing.T) {
	s := newStore(map[string][]float64{
		"alpha": {1, 0},
		"beta":  {0, 1},
		"query": {0.9, 0.1},
	})
	ctx := context.Background()

	err := s.AddChunks(ctx, []domain.Chunk{
		chunk("A", "C1", domain.DocumentTypeDecision, "alpha"),
		chunk("B", "C2", domain.DocumentTypeDecision, "beta"),
	})
	if err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}

	results, err := s.Search(ctx, "query", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "A" {
		t.Errorf("expected chunk A, got %+v", results)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	results, _ = s.Search(ctx, "query", 5)
	if len(results) != 0 {
		t.Errorf("search after clear returned %d results", len(results))
	}
	if s.Dimension() != 0 {
		t.Errorf("dimension after clear = %d", s.Dimension())
	}
}

func TestAddChunks_EmbedsOnlyMissing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	model := mocks.NewMockEmbedder(ctrl)
	model.EXPECT().Name().Return("mock").AnyTimes()
	model.EXPECT().Dimension().Return(2).AnyTimes()
	model.EXPECT().Embed(gomock.Any(), "needs vector").Return([]float64{0, 1}, nil).Times(1)

	s := NewStore(embedding.NewEngine(model, newTestLogger()))
	pre := chunk("pre", "C1", domain.DocumentTypeDecision, "already embedded")
	pre.Embedding = []float64{1, 0}

	err := s.AddChunks(context.Background(), []domain.Chunk{pre, chunk("new", "C1", domain.DocumentTypeOpinion, "needs vector")})
	if err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}
	all := s.All()
	if len(all) != 2 || all[0].ID != "pre" || all[1].ID != "new" {
		t.Fatalf("insertion order not preserved: %+v", all)
	}
	if all[1].Embedding[1] != 1 {
		t.Errorf("embedding not attached: %v", all[1].Embedding)
	}
}

func TestAddChunks_FailedItemGetsZeroVector(t *testing.T) {
	s := newStore(map[string][]float64{"known": {1, 0}})

	err := s.AddChunks(context.Background(), []domain.Chunk{
		chunk("k", "C1", domain.DocumentTypeDecision, "known"),
		chunk("u", "C1", domain.DocumentTypeDecision, "unknown"),
	})
	if err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}
	c, ok := s.GetChunkByID("u")
	if !ok || len(c.Embedding) != 2 || !embedding.IsZero(c.Embedding) {
		t.Errorf("expected zero vector for failed item, got %+v", c)
	}
}

func TestAddChunks_DimensionMismatchRejectsBatch(t *testing.T) {
	s := newStore(map[string][]float64{"a": {1, 0}})
	ctx := context.Background()
	if err := s.AddChunks(ctx, []domain.Chunk{chunk("a", "C1", domain.DocumentTypeDecision, "a")}); err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}

	bad := chunk("bad", "C1", domain.DocumentTypeDecision, "three")
	bad.Embedding = []float64{1, 2, 3}
	err := s.AddChunks(ctx, []domain.Chunk{chunk("b", "C1", domain.DocumentTypeDecision, "a"), bad})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("partial batch accepted: %d chunks", s.Len())
	}
}

func TestSearchByMetadata(t *testing.T) {
	s := newStore(nil)
	chunks := []domain.Chunk{
		chunk("1", "C1", domain.DocumentTypeDecision, "x"),
		chunk("2", "C2", domain.DocumentTypeDecision, "x"),
		chunk("3", "C1", domain.DocumentTypeOpinion, "x"),
		chunk("4", "C1", domain.DocumentTypeDecision, "x"),
	}
	for i := range chunks {
		chunks[i].Embedding = []float64{1, 0}
	}
	chunks[3].Metadata.Date = "2020-01-01"
	if err := s.AddChunks(context.Background(), chunks); err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}

	tests := []struct {
		name   string
		filter domain.MetadataFilter
		topK   int
		want   []string
	}{
		{name: "by case", filter: domain.MetadataFilter{CaseID: "C1"}, topK: 10, want: []string{"1", "3", "4"}},
		{name: "case and type", filter: domain.MetadataFilter{CaseID: "C1", DocumentType: domain.DocumentTypeDecision}, topK: 10, want: []string{"1", "4"}},
		{name: "by date", filter: domain.MetadataFilter{Date: "2020-01-01"}, topK: 10, want: []string{"4"}},
		{name: "no filter truncated", filter: domain.MetadataFilter{}, topK: 2, want: []string{"1", "2"}},
		{name: "no match", filter: domain.MetadataFilter{CaseID: "C9"}, topK: 10, want: []string{}},
		{name: "zero topK", filter: domain.MetadataFilter{}, topK: 0, want: []string{}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := s.SearchByMetadata(test.filter, test.topK)
			if len(got) != len(test.want) {
				t.Fatalf("got %d chunks, want %d", len(got), len(test.want))
			}
			for i := range got {
				if got[i].ID != test.want[i] {
					t.Errorf("chunk %d = %s, want %s", i, got[i].ID, test.want[i])
				}
			}
		})
	}

	byCase := s.GetChunksByCase("C1")
	filtered := s.SearchByMetadata(domain.MetadataFilter{CaseID: "C1"}, 10)
	if len(byCase) != len(filtered) {
		t.Errorf("GetChunksByCase and SearchByMetadata disagree: %d vs %d", len(byCase), len(filtered))
	}
}

func TestStatsAndLookup(t *testing.T) {
	s := newStore(map[string][]float64{"a": {1, 0}, "b": {0, 1}})
	err := s.AddChunks(context.Background(), []domain.Chunk{
		chunk("1", "C1", domain.DocumentTypeDecision, "a"),
		chunk("2", "C2", domain.DocumentTypeOpinion, "b"),
		chunk("3", "C2", domain.DocumentTypeDecision, "a"),
	})
	if err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}

	stats := s.Stats()
	if stats.TotalChunks != 3 || stats.ChunksWithEmbeddings != 3 || stats.UniqueCases != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.ChunksByType[domain.DocumentTypeDecision] != 2 || stats.ChunksByType[domain.DocumentTypeOpinion] != 1 {
		t.Errorf("unexpected type counts %v", stats.ChunksByType)
	}

	if _, ok := s.GetChunkByID("2"); !ok {
		t.Error("chunk 2 not found")
	}
	if _, ok := s.GetChunkByID("missing"); ok {
		t.Error("missing chunk reported as found")
	}
}

type fakeIndex struct {
	dim      int
	upserted int
	hits     []vectorstore.Hit
	err      error
	cleared  bool
	requests []int
}

func (f *fakeIndex) Name() string { return "fake" }
func (f *fakeIndex) Init(_ context.Context, dim int) error {
	f.dim = dim
	return nil
}
func (f *fakeIndex) Upsert(_ context.Context, chunks []domain.Chunk) error {
	f.upserted += len(chunks)
	return nil
}
func (f *fakeIndex) Search(_ context.Context, _ []float64, n int) ([]vectorstore.Hit, error) {
	f.requests = append(f.requests, n)
	if n < len(f.hits) {
		return f.hits[:n], f.err
	}
	return f.hits, f.err
}
func (f *fakeIndex) Clear(_ context.Context) error {
	f.cleared = true
	return nil
}

func TestSearch_DelegatesToIndex(t *testing.T) {
	idx := &fakeIndex{hits: []vectorstore.Hit{{ID: "B", Score: 0.9}, {ID: "ghost", Score: 0.5}}}
	s := newStore(map[string][]float64{"alpha": {1, 0}, "beta": {0, 1}, "q": {1, 0}}, WithIndex(idx))
	ctx := context.Background()

	err := s.AddChunks(ctx, []domain.Chunk{
		chunk("A", "C1", domain.DocumentTypeDecision, "alpha"),
		chunk("B", "C2", domain.DocumentTypeDecision, "beta"),
	})
	if err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}
	if idx.dim != 2 || idx.upserted != 2 {
		t.Errorf("index init dim=%d upserted=%d", idx.dim, idx.upserted)
	}

	results, err := s.Search(ctx, "q", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "B" {
		t.Errorf("expected index hit B only, got %+v", results)
	}

	idx.err = errors.New("index offline")
	results, _ = s.Search(ctx, "q", 1)
	if len(results) != 1 || results[0].Chunk.ID != "A" {
		t.Errorf("expected scan fallback to return A, got %+v", results)
	}

	if err := s.Clear(ctx); err != nil || !idx.cleared {
		t.Errorf("index not cleared: %v", err)
	}
}

// tiedChunks returns 20 chunks sharing one vector followed by a zero-vector chunk.
func tiedChunks() []domain.Chunk {
	var chunks []domain.Chunk
	for i := 0; i < 20; i++ {
		c := chunk(fmt.Sprintf("c%02d", i), "C1", domain.DocumentTypeDecision, "tied")
		c.Embedding = []float64{1, 1}
		chunks = append(chunks, c)
	}
	zero := chunk("zero", "C2", domain.DocumentTypeDecision, "failed")
	zero.Embedding = []float64{0, 0}
	return append(chunks, zero)
}

func ids(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestSearch_IndexTiesKeepInsertionOrder(t *testing.T) {
	chunks := tiedChunks()
	idx := &fakeIndex{}
	for i := 19; i >= 0; i-- {
		idx.hits = append(idx.hits, vectorstore.Hit{ID: chunks[i].ID, Score: 1})
	}
	s := newStore(nil, WithIndex(idx))
	ctx := context.Background()
	if err := s.AddChunks(ctx, chunks); err != nil {
		t.Fatalf("AddChunks failed: %v", err)
	}

	got := ids(s.SearchVector(ctx, []float64{1, 1}, 3))
	want := []string{"c00", "c01", "c02"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(idx.requests) < 2 || idx.requests[0] != 3 {
		t.Errorf("expected widened index requests starting at 3, got %v", idx.requests)
	}

	all := s.SearchVector(ctx, []float64{1, 1}, 50)
	if len(all) != 21 || all[20].Chunk.ID != "zero" || all[20].Score != 0 {
		t.Errorf("zero-vector chunk missing from index results: %v", ids(all))
	}
}

func TestSearch_ChromemMatchesScan(t *testing.T) {
	ctx := context.Background()
	scan := newStore(nil)
	indexed := newStore(nil, WithIndex(chromem.NewIndex("ties")))
	for _, s := range []*Store{scan, indexed} {
		if err := s.AddChunks(ctx, tiedChunks()); err != nil {
			t.Fatalf("AddChunks failed: %v", err)
		}
	}

	for _, topK := range []int{1, 5, 20, 21, 30} {
		t.Run(fmt.Sprintf("top%d", topK), func(t *testing.T) {
			want := ids(scan.SearchVector(ctx, []float64{1, 1}, topK))
			got := ids(indexed.SearchVector(ctx, []float64{1, 1}, topK))
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("chromem order %v differs from scan %v", got, want)
			}
		})
	}
}
