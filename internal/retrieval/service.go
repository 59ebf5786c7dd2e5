// Package retrieval orchestrates corpus ingestion and grounded question
// answering over the vector store.
package retrieval

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"arbitration-rag/internal/chunker"
	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/embedding"
)

const (
	DefaultTopK         = 5
	DefaultMetadataTopK = 10
)

// VectorStore is the store the service populates and searches.
type VectorStore interface {
	AddChunks(ctx context.Context, chunks []domain.Chunk) error
	Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)
	SearchByMetadata(filter domain.MetadataFilter, topK int) []domain.Chunk
	GetChunkByID(id string) (domain.Chunk, bool)
	GetChunksByCase(caseID string) []domain.Chunk
	Stats() domain.StoreStats
	All() []domain.Chunk
	Clear(ctx context.Context) error
}

// AnswerCache stores answered queries. Implementations log their own errors.
type AnswerCache interface {
	Get(ctx context.Context, key string) (domain.QueryResult, bool)
	Set(ctx context.Context, key string, result domain.QueryResult)
}

type Deps struct {
	Loader     domain.CorpusLoader
	Chunker    domain.Chunker
	Engine     *embedding.Engine
	Store      VectorStore
	Generator  domain.TextGenerator
	Summarizer domain.Summarizer
	Cache      AnswerCache
}

type Options struct {
	TopK             int
	MetadataTopK     int
	LexicalFallback  bool
	SummarySentences int
}

// Stats describes the populated service.
type Stats struct {
	domain.StoreStats
	Chunking domain.ChunkStats `json:"chunking"`
	Embedder string            `json:"embedder"`
	Ready    bool              `json:"ready"`
}

// CaseSummary is an extractive summary of one case.
type CaseSummary struct {
	CaseID    string `json:"caseId"`
	CaseTitle string `json:"caseTitle"`
	Chunks    int    `json:"chunks"`
	Summary   string `json:"summary"`
}

// Service is constructed once at startup and shared by every entry point.
// It moves one way from uninitialized to ready.
type Service struct {
	deps   Deps
	opts   Options
	logger *zerolog.Logger

	initMu     sync.Mutex
	ready      atomic.Bool
	summary    string
	chunkStats domain.ChunkStats
}

func New(deps Deps, opts Options, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MetadataTopK <= 0 {
		opts.MetadataTopK = DefaultMetadataTopK
	}
	if opts.SummarySentences <= 0 {
		opts.SummarySentences = 5
	}
	return &Service{deps: deps, opts: opts, logger: logger}
}

// IsReady reports whether Initialize has completed.
func (s *Service) IsReady() bool { return s.ready.Load() }

// Initialize loads, chunks and embeds the corpus. Calling it again after a
// success logs and returns. A failed attempt leaves the service
// uninitialized and may be retried.
func (s *Service) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ready.Load() {
		s.logger.Info().Msg("retrieval service already initialized")
		return nil
	}
	start := time.Now()

	docs, err := s.deps.Loader.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	chunks := s.deps.Chunker.ChunkAll(docs)
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	if len(texts) > 0 {
		if err := s.deps.Engine.Prepare(texts); err != nil {
			return err
		}
	}

	if err := s.deps.Store.Clear(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if err := s.deps.Store.AddChunks(ctx, chunks); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}

	s.chunkStats = chunker.Stats(chunks)
	s.summary = s.summarize(corpusText(docs))
	s.ready.Store(true)

	s.logger.Info().
		Int("cases", len(docs)).
		Int("chunks", len(chunks)).
		Str("embedder", s.deps.Engine.Model().Name()).
		Dur("duration", time.Since(start)).
		Msg("retrieval service initialized")
	return nil
}

// Query retrieves the topK most similar chunks and asks the generator for a
// grounded answer. Retrieval errors fail the query. Generation errors yield
// an apology answer with the sources still attached.
func (s *Service) Query(ctx context.Context, text string, topK int) (domain.QueryResult, error) {
	if !s.ready.Load() {
		return domain.QueryResult{}, domain.ErrNotInitialized
	}
	query := strings.TrimSpace(text)
	if query == "" {
		return domain.QueryResult{}, domain.ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}

	key := cacheKey(s.deps.Engine.Model().Name(), s.chunkStats.TotalChunks, query, topK)
	if s.deps.Cache != nil {
		if cached, ok := s.deps.Cache.Get(ctx, key); ok {
			s.logger.Debug().Str("query", query).Msg("answer served from cache")
			cached.Query = query
			return cached, nil
		}
	}

	start := time.Now()
	results, err := s.deps.Store.Search(ctx, query, topK)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("search: %w", err)
	}
	if s.opts.LexicalFallback && len(results) > 0 && allScoresZero(results) {
		if lexical := lexicalSearch(query, s.deps.Store.All(), topK); len(lexical) > 0 {
			s.logger.Debug().Str("query", query).Msg("vector scores all zero, using lexical ranking")
			results = lexical
		}
	}

	result := domain.QueryResult{Query: query, Sources: results}
	if len(results) == 0 || allScoresZero(results) {
		result.Sources = []domain.SearchResult{}
		result.Answer = noSourcesAnswer
		result.Status = domain.StatusNoRelevantSources
		s.logQuery(result, topK, start)
		return result, nil
	}

	answer, err := s.generate(ctx, query, results)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.QueryResult{}, ctxErr
		}
		s.logger.Warn().Err(err).Str("query", query).Msg("generation failed, returning sources only")
		result.Answer = generationApology
		result.Status = domain.StatusGenerationFailed
		s.logQuery(result, topK, start)
		return result, nil
	}

	result.Answer = answer
	result.Status = domain.StatusOK
	if s.deps.Cache != nil {
		s.deps.Cache.Set(ctx, key, result)
	}
	s.logQuery(result, topK, start)
	return result, nil
}

func (s *Service) generate(ctx context.Context, query string, results []domain.SearchResult) (string, error) {
	if s.deps.Generator == nil {
		return "", errors.New("no text generator configured")
	}
	prompt, err := BuildPrompt(query, results)
	if err != nil {
		return "", err
	}
	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Chunk.Content
	}
	return s.deps.Generator.Generate(ctx, domain.GenerationRequest{Query: query, Prompt: prompt, Passages: passages})
}

func (s *Service) logQuery(r domain.QueryResult, topK int, start time.Time) {
	s.logger.Info().
		Str("query", r.Query).
		Int("top_k", topK).
		Int("sources", len(r.Sources)).
		Str("status", string(r.Status)).
		Dur("duration", time.Since(start)).
		Msg("query answered")
}

// GetStats reports store and chunking statistics. Before initialization it
// returns zero counts with Ready false.
func (s *Service) GetStats() Stats {
	st := Stats{
		StoreStats: domain.StoreStats{ChunksByType: map[string]int{}},
		Chunking:   domain.ChunkStats{ByDocumentType: map[string]int{}},
		Embedder:   s.deps.Engine.Model().Name(),
		Ready:      s.ready.Load(),
	}
	if !st.Ready {
		return st
	}
	st.StoreStats = s.deps.Store.Stats()
	st.Chunking = s.chunkStats
	return st
}

// SearchByMetadata returns up to topK chunks matching filter in storage order.
func (s *Service) SearchByMetadata(filter domain.MetadataFilter, topK int) ([]domain.Chunk, error) {
	if !s.ready.Load() {
		return nil, domain.ErrNotInitialized
	}
	if topK <= 0 {
		topK = s.opts.MetadataTopK
	}
	return s.deps.Store.SearchByMetadata(filter, topK), nil
}

// GetCaseChunks returns every chunk of a case in storage order. An unknown
// case yields an empty slice.
func (s *Service) GetCaseChunks(caseID string) ([]domain.Chunk, error) {
	if !s.ready.Load() {
		return nil, domain.ErrNotInitialized
	}
	return s.deps.Store.GetChunksByCase(caseID), nil
}

func (s *Service) GetChunk(id string) (domain.Chunk, error) {
	if !s.ready.Load() {
		return domain.Chunk{}, domain.ErrNotInitialized
	}
	ch, ok := s.deps.Store.GetChunkByID(id)
	if !ok {
		return domain.Chunk{}, fmt.Errorf("%s: %w", id, domain.ErrChunkNotFound)
	}
	return ch, nil
}

// SummarizeCase builds an extractive summary from a case's chunks. A case
// with no chunks is ErrCaseNotFound.
func (s *Service) SummarizeCase(caseID string) (CaseSummary, error) {
	chunks, err := s.GetCaseChunks(caseID)
	if err != nil {
		return CaseSummary{}, err
	}
	if len(chunks) == 0 {
		return CaseSummary{}, fmt.Errorf("%s: %w", caseID, domain.ErrCaseNotFound)
	}
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = ch.Content
	}
	return CaseSummary{
		CaseID:    caseID,
		CaseTitle: chunks[0].Metadata.CaseTitle,
		Chunks:    len(chunks),
		Summary:   s.summarize(strings.Join(parts, "\n")),
	}, nil
}

// Summary is the corpus summary computed during Initialize.
func (s *Service) Summary() string {
	if !s.ready.Load() {
		return ""
	}
	return s.summary
}

func (s *Service) summarize(text string) string {
	if s.deps.Summarizer == nil || strings.TrimSpace(text) == "" {
		return ""
	}
	out, err := s.deps.Summarizer.Summarize(text, s.opts.SummarySentences)
	if err != nil {
		s.logger.Warn().Err(err).Msg("summarization failed")
		return ""
	}
	return out
}

func corpusText(docs []domain.CaseDocument) string {
	var sb strings.Builder
	for _, d := range docs {
		for _, dec := range d.Decisions {
			sb.WriteString(dec.Content)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// cacheKey folds case so equivalent questions share an entry. The embedder
// and corpus size are part of the key so a reindexed corpus misses.
func cacheKey(embedder string, chunks int, query string, topK int) string {
	parts := []string{embedder, strconv.Itoa(chunks), strings.ToLower(query), strconv.Itoa(topK)}
	h := sha1.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}
