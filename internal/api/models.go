package api

import (
	"arbitration-rag/internal/api/middleware"
	"arbitration-rag/internal/domain"
)

const maxTopK = 50

type QueryRequest struct {
	Query string `json:"query" description:"Question about the case corpus"`
	TopK  int    `json:"topK,omitempty" description:"Number of sources to retrieve (default: 5, max: 50)"`
}

func (q *QueryRequest) Validate() error {
	if q.Query == "" {
		return domain.ErrEmptyQuery
	}
	if q.TopK < 0 || q.TopK > maxTopK {
		return middleware.ErrInvalidTopK
	}
	return nil
}

type QueryResponse struct {
	Query   string         `json:"query" description:"The query as answered"`
	Answer  string         `json:"answer" description:"Grounded answer"`
	Sources []SourceResult `json:"sources" description:"Ranked sources"`
	Status  string         `json:"status" description:"ok, no_relevant_sources or generation_failed"`
}

type SourceResult struct {
	Chunk domain.Chunk `json:"chunk"`
	Score float64      `json:"score" description:"Cosine similarity"`
}

type ChunksResponse struct {
	Chunks []domain.Chunk `json:"chunks"`
	Count  int            `json:"count"`
}

type HealthResponse struct {
	Status  string `json:"status" description:"ok or initializing"`
	Version string `json:"version" description:"API version"`
	Ready   bool   `json:"ready" description:"Whether the corpus has been indexed"`
}

func toQueryResponse(r domain.QueryResult) QueryResponse {
	sources := make([]SourceResult, len(r.Sources))
	for i, s := range r.Sources {
		sources[i] = SourceResult{Chunk: s.Chunk.WithoutEmbedding(), Score: s.Score}
	}
	return QueryResponse{Query: r.Query, Answer: r.Answer, Sources: sources, Status: string(r.Status)}
}

func toChunksResponse(chunks []domain.Chunk) ChunksResponse {
	out := make([]domain.Chunk, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.WithoutEmbedding()
	}
	return ChunksResponse{Chunks: out, Count: len(out)}
}
