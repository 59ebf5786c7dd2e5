package domain

import "context"

// Document types attached to chunk metadata.
const (
	DocumentTypeDecision = "Decision"
	DocumentTypeOpinion  = "Opinion"
)

// Opinion is a separate or dissenting opinion attached to a case or a decision.
type Opinion struct {
	Title   string `json:"Title"`
	Type    string `json:"Type"`
	Date    string `json:"Date"`
	Content string `json:"Content"`
}

// Decision is a single award or ruling issued in a case.
type Decision struct {
	Title    string    `json:"Title"`
	Type     string    `json:"Type"`
	Date     string    `json:"Date"`
	Opinions []Opinion `json:"Opinions"`
	Content  string    `json:"Content"`
}

// CaseDocument is one arbitration case as stored in the corpus directory.
type CaseDocument struct {
	Identifier         string     `json:"Identifier"`
	Title              string     `json:"Title"`
	CaseNumber         string     `json:"CaseNumber"`
	Industries         []string   `json:"Industries"`
	Status             string     `json:"Status"`
	PartyNationalities []string   `json:"PartyNationalities"`
	Institution        string     `json:"Institution"`
	RulesOfArbitration []string   `json:"RulesOfArbitration"`
	ApplicableTreaties []string   `json:"ApplicableTreaties"`
	Decisions          []Decision `json:"Decisions"`
	Opinions           []Opinion  `json:"Opinions"`
}

// ChunkMetadata records where a chunk came from. An empty Date means the
// source section had no date.
type ChunkMetadata struct {
	CaseID        string `json:"caseId"`
	CaseTitle     string `json:"caseTitle"`
	DocumentType  string `json:"documentType"`
	DocumentTitle string `json:"documentTitle"`
	Date          string `json:"date,omitempty"`
	ChunkIndex    int    `json:"chunkIndex"`
	TotalChunks   int    `json:"totalChunks"`
}

// Chunk is the atomic retrieval unit. Embedding stays nil until the chunk
// has been embedded.
type Chunk struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Metadata  ChunkMetadata `json:"metadata"`
	Embedding []float64     `json:"embedding,omitempty"`
}

// HasEmbedding reports whether the chunk carries a vector.
func (c Chunk) HasEmbedding() bool { return len(c.Embedding) > 0 }

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// MetadataFilter is a conjunctive filter. Empty fields are not constraints.
type MetadataFilter struct {
	CaseID       string `json:"caseId,omitempty"`
	DocumentType string `json:"documentType,omitempty"`
	Date         string `json:"date,omitempty"`
}

// Matches reports whether the metadata satisfies every set field of the filter.
func (f MetadataFilter) Matches(m ChunkMetadata) bool {
	if f.CaseID != "" && m.CaseID != f.CaseID {
		return false
	}
	if f.DocumentType != "" && m.DocumentType != f.DocumentType {
		return false
	}
	if f.Date != "" && m.Date != f.Date {
		return false
	}
	return true
}

// ChunkStats summarizes a set of chunks for diagnostics.
type ChunkStats struct {
	TotalChunks    int            `json:"totalChunks"`
	AverageLength  float64        `json:"averageLength"`
	MinLength      int            `json:"minLength"`
	MaxLength      int            `json:"maxLength"`
	ByDocumentType map[string]int `json:"byDocumentType"`
}

// StoreStats describes the contents of a vector store.
type StoreStats struct {
	TotalChunks          int            `json:"totalChunks"`
	ChunksWithEmbeddings int            `json:"chunksWithEmbeddings"`
	UniqueCases          int            `json:"uniqueCases"`
	ChunksByType         map[string]int `json:"chunksByType"`
}

// Chunker splits case documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document CaseDocument) []Chunk
	ChunkAll(documents []CaseDocument) []Chunk
}

// Preparer is implemented by embedders that must see the corpus before
// they can produce vectors.
type Preparer interface {
	Prepare(corpus []string) error
}

// BatchEmbedder is implemented by embedders that can embed many texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// WithoutEmbedding returns a copy of the chunk without its vector.
func (c Chunk) WithoutEmbedding() Chunk {
	c.Embedding = nil
	return c
}

// QueryStatus tells a caller how a query was answered.
type QueryStatus string

const (
	StatusOK                QueryStatus = "ok"
	StatusNoRelevantSources QueryStatus = "no_relevant_sources"
	StatusGenerationFailed  QueryStatus = "generation_failed"
)

// QueryResult is the answer to a query together with its ranked sources.
type QueryResult struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Sources []SearchResult `json:"sources"`
	Status  QueryStatus    `json:"status"`
}
