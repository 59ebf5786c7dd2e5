package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"arbitration-rag/internal/chunker"
	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/domain/mocks"
	"arbitration-rag/internal/embedding"
	"arbitration-rag/internal/embedding/hash"
	"arbitration-rag/internal/embedding/tfidf"
	"arbitration-rag/internal/summarizer"
	"arbitration-rag/internal/vectorstore/memory"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func testCorpus() []domain.CaseDocument {
	return []domain.CaseDocument{
		{
			Identifier: "ICSID-1",
			Title:      "Alpha Mining v. Republic of Ruritania",
			Decisions: []domain.Decision{{
				Title:   "Award",
				Type:    "Award",
				Date:    "2019-05-02",
				Content: "The tribunal found that the revocation of the mining licence amounted to an indirect expropriation. Compensation was awarded at fair market value.",
				Opinions: []domain.Opinion{{
					Title:   "Dissent of Arbitrator Smith",
					Type:    "Dissenting Opinion",
					Content: "The dissent considered the licence revocation a legitimate regulatory measure.",
				}},
			}},
		},
		{
			Identifier: "ICSID-2",
			Title:      "Beta Energy v. Kingdom of Freedonia",
			Decisions: []domain.Decision{{
				Title:   "Decision on Jurisdiction",
				Type:    "Decision on Jurisdiction",
				Content: "The tribunal declined jurisdiction because the claimant was not a protected investor under the treaty.",
			}},
		},
	}
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.QueryResult
	sets    int
}

func (c *fakeCache) Get(_ context.Context, key string) (domain.QueryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

func (c *fakeCache) Set(_ context.Context, key string, r domain.QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]domain.QueryResult{}
	}
	c.entries[key] = r
	c.sets++
}

type fixture struct {
	svc       *Service
	loader    *mocks.MockCorpusLoader
	generator *mocks.MockTextGenerator
	store     *memory.Store
}

func newFixture(t *testing.T, model domain.Embedder, cache AnswerCache) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	engine := embedding.NewEngine(model, newTestLogger())
	store := memory.NewStore(engine, memory.WithLogger(newTestLogger()))
	loader := mocks.NewMockCorpusLoader(ctrl)
	generator := mocks.NewMockTextGenerator(ctrl)

	svc := New(Deps{
		Loader:     loader,
		Chunker:    chunker.NewWindowChunker(chunker.DefaultChunkSize, chunker.DefaultOverlap),
		Engine:     engine,
		Store:      store,
		Generator:  generator,
		Summarizer: summarizer.NewFrequencySummarizer(),
		Cache:      cache,
	}, Options{LexicalFallback: true}, newTestLogger())
	return fixture{svc: svc, loader: loader, generator: generator, store: store}
}

func TestQuery_BeforeInitialize(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(64), nil)

	if _, err := f.svc.Query(context.Background(), "expropriation", 3); !errors.Is(err, domain.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := f.svc.SearchByMetadata(domain.MetadataFilter{}, 0); !errors.Is(err, domain.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if f.svc.IsReady() || f.svc.GetStats().Ready {
		t.Error("service should not be ready")
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(64), nil)
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(testCorpus(), nil).Times(1)
	ctx := context.Background()

	if err := f.svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	before := f.svc.GetStats().TotalChunks
	if err := f.svc.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	stats := f.svc.GetStats()
	if stats.TotalChunks != before || before != 3 {
		t.Errorf("total chunks %d -> %d, want 3 both times", before, stats.TotalChunks)
	}
	if stats.UniqueCases != 2 || stats.ChunksByType[domain.DocumentTypeOpinion] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Chunking.TotalChunks != 3 || stats.Embedder != "hash" {
		t.Errorf("unexpected chunking stats %+v", stats.Chunking)
	}
	if f.svc.Summary() == "" {
		t.Error("corpus summary should be computed")
	}
}

func TestInitialize_ConcurrentCallsLoadOnce(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(64), nil)
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(testCorpus(), nil).Times(1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.Initialize(context.Background()); err != nil {
				t.Errorf("Initialize failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := f.store.Len(); got != 3 {
		t.Errorf("store holds %d chunks, want 3", got)
	}
}

func TestInitialize_FailureCanBeRetried(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(64), nil)
	gomock.InOrder(
		f.loader.EXPECT().LoadAll(gomock.Any()).Return(nil, errors.New("disk unavailable")),
		f.loader.EXPECT().LoadAll(gomock.Any()).Return(testCorpus(), nil),
	)
	ctx := context.Background()

	if err := f.svc.Initialize(ctx); err == nil {
		t.Fatal("expected error")
	}
	if f.svc.IsReady() {
		t.Fatal("failed initialize must leave service uninitialized")
	}
	if err := f.svc.Initialize(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !f.svc.IsReady() {
		t.Error("service should be ready after retry")
	}
}

func TestQuery_GroundedAnswer(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(256), nil)
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(testCorpus(), nil)
	ctx := context.Background()
	if err := f.svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	f.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.GenerationRequest) (string, error) {
			if req.Query != "indirect expropriation of the mining licence" {
				t.Errorf("query = %q", req.Query)
			}
			if !strings.Contains(req.Prompt, "[1] score") || !strings.Contains(req.Prompt, "Question: indirect expropriation") {
				t.Errorf("prompt missing context or question:\n%s", req.Prompt)
			}
			if len(req.Passages) != 2 {
				t.Errorf("passages = %d, want 2", len(req.Passages))
			}
			return "The revocation was an indirect expropriation [1].", nil
		})

	result, err := f.svc.Query(ctx, "  indirect expropriation of the mining licence ", 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Status != domain.StatusOK || result.Answer == "" {
		t.Errorf("unexpected result %+v", result)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(result.Sources))
	}
	if result.Sources[0].Chunk.ID != "ICSID-1-decision-0-0" {
		t.Errorf("top source = %s", result.Sources[0].Chunk.ID)
	}
	if result.Sources[0].Score < result.Sources[1].Score {
		t.Error("sources not sorted by score")
	}
}

func TestQuery_GenerationFailureKeepsSources(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(128), nil)
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(testCorpus(), nil)
	ctx := context.Background()
	_ = f.svc.Initialize(ctx)

	f.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("", errors.New("model throttled"))

	result, err := f.svc.Query(ctx, "jurisdiction protected investor", 0)
	if err != nil {
		t.Fatalf("generation failure must not fail the query: %v", err)
	}
	if result.Status != domain.StatusGenerationFailed || result.Answer != generationApology {
		t.Errorf("unexpected result %+v", result)
	}
	if len(result.Sources) == 0 {
		t.Error("sources should still be returned")
	}
}

func TestQuery_EmptyCorpus(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(32), nil)
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(nil, nil)
	f.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Times(0)
	ctx := context.Background()
	if err := f.svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	result, err := f.svc.Query(ctx, "anything", 5)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Status != domain.StatusNoRelevantSources || len(result.Sources) != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestQuery_EmptyText(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(32), nil)
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(testCorpus(), nil)
	_ = f.svc.Initialize(context.Background())

	if _, err := f.svc.Query(context.Background(), "   ", 5); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestQuery_LexicalFallback(t *testing.T) {
	// TF-IDF only knows letter tokens, so a numeric query embeds to zero.
	f := newFixture(t, tfidf.NewEmbedder(), nil)
	docs := testCorpus()
	docs[1].Decisions[0].Content += " The treaty was signed in 1994."
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(docs, nil)
	ctx := context.Background()
	if err := f.svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	f.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("Signed in 1994 [1].", nil)

	result, err := f.svc.Query(ctx, "1994", 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result.Sources) != 1 || result.Sources[0].Chunk.Metadata.CaseID != "ICSID-2" {
		t.Errorf("expected lexical hit in ICSID-2, got %+v", result.Sources)
	}
	if result.Sources[0].Score <= 0 {
		t.Error("lexical score should be positive")
	}
}

func TestQuery_CachesOKAnswers(t *testing.T) {
	cache := &fakeCache{}
	f := newFixture(t, hash.NewEmbedder(64), cache)
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(testCorpus(), nil)
	ctx := context.Background()
	_ = f.svc.Initialize(ctx)

	f.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("cached answer", nil).Times(1)

	first, err := f.svc.Query(ctx, "licence revocation", 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	second, err := f.svc.Query(ctx, "Licence Revocation", 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if second.Answer != first.Answer || cache.sets != 1 {
		t.Errorf("second query should be served from cache (sets=%d)", cache.sets)
	}
	if first.Query != "licence revocation" || second.Query != "Licence Revocation" {
		t.Errorf("cached result must carry the caller's query, got %q and %q", first.Query, second.Query)
	}
}

func TestCacheKey(t *testing.T) {
	base := cacheKey("hash", 10, "Expropriation", 5)
	if cacheKey("hash", 10, "expropriation", 5) != base {
		t.Error("case-only differences should share a key")
	}
	tests := []struct {
		name string
		key  string
	}{
		{"embedder", cacheKey("tfidf", 10, "Expropriation", 5)},
		{"corpus size", cacheKey("hash", 11, "Expropriation", 5)},
		{"topK", cacheKey("hash", 10, "Expropriation", 3)},
		{"query", cacheKey("hash", 10, "Expropriations", 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key == base {
				t.Errorf("changing %s must change the key", tt.name)
			}
		})
	}
}

type negativeStore struct {
	*memory.Store
	results []domain.SearchResult
}

func (s negativeStore) Search(context.Context, string, int) ([]domain.SearchResult, error) {
	return s.results, nil
}

func TestQuery_NegativeScoresStillAnswer(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(64), nil)
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(testCorpus(), nil)
	ctx := context.Background()
	if err := f.svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	all := f.store.All()
	f.svc.deps.Store = negativeStore{Store: f.store, results: []domain.SearchResult{
		{Chunk: all[0], Score: -0.743},
		{Chunk: all[1], Score: -0.981},
	}}
	f.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("Weak match [1].", nil)

	result, err := f.svc.Query(ctx, "zzz qqq", 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.Status != domain.StatusOK || len(result.Sources) != 2 {
		t.Fatalf("negative scores must keep ranked sources, got status=%s sources=%d", result.Status, len(result.Sources))
	}
	if result.Sources[0].Score != -0.743 {
		t.Errorf("ranking changed: %+v", result.Sources)
	}
}

func TestCaseAndChunkLookups(t *testing.T) {
	f := newFixture(t, hash.NewEmbedder(64), nil)
	f.loader.EXPECT().LoadAll(gomock.Any()).Return(testCorpus(), nil)
	_ = f.svc.Initialize(context.Background())

	chunks, err := f.svc.GetCaseChunks("ICSID-1")
	if err != nil || len(chunks) != 2 {
		t.Fatalf("GetCaseChunks = %d, %v", len(chunks), err)
	}
	unknown, err := f.svc.GetCaseChunks("nope")
	if err != nil || unknown == nil || len(unknown) != 0 {
		t.Errorf("unknown case should give an empty slice, got %v, %v", unknown, err)
	}
	if _, err := f.svc.SummarizeCase("nope"); !errors.Is(err, domain.ErrCaseNotFound) {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}

	ch, err := f.svc.GetChunk("ICSID-1-opinion-0-0-0")
	if err != nil || ch.Metadata.DocumentType != domain.DocumentTypeOpinion {
		t.Errorf("GetChunk = %+v, %v", ch, err)
	}
	if _, err := f.svc.GetChunk("missing"); !errors.Is(err, domain.ErrChunkNotFound) {
		t.Errorf("expected ErrChunkNotFound, got %v", err)
	}

	filtered, err := f.svc.SearchByMetadata(domain.MetadataFilter{CaseID: "ICSID-1", DocumentType: domain.DocumentTypeDecision}, 0)
	if err != nil || len(filtered) != 1 {
		t.Errorf("SearchByMetadata = %d, %v", len(filtered), err)
	}

	summary, err := f.svc.SummarizeCase("ICSID-2")
	if err != nil {
		t.Fatalf("SummarizeCase failed: %v", err)
	}
	if summary.CaseTitle != "Beta Energy v. Kingdom of Freedonia" || summary.Chunks != 1 || summary.Summary == "" {
		t.Errorf("unexpected summary %+v", summary)
	}
}
