// Package mcpadapter exposes the retrieval service as MCP tools.
package mcpadapter

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/retrieval"
)

// RAG is the part of the retrieval service the tools call.
type RAG interface {
	Query(ctx context.Context, text string, topK int) (domain.QueryResult, error)
	GetStats() retrieval.Stats
	SearchByMetadata(filter domain.MetadataFilter, topK int) ([]domain.Chunk, error)
	GetCaseChunks(caseID string) ([]domain.Chunk, error)
	SummarizeCase(caseID string) (retrieval.CaseSummary, error)
}

// QueryCasesInput is the MCP tool input schema for grounded question answering.
type QueryCasesInput struct {
	Query string `json:"query" jsonschema:"question about the arbitration cases"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of sources to retrieve (default: 5)"`
}

// SearchChunksInput is the MCP tool input schema for metadata search.
type SearchChunksInput struct {
	CaseID       string `json:"case_id,omitempty" jsonschema:"case identifier"`
	DocumentType string `json:"document_type,omitempty" jsonschema:"Decision or Opinion"`
	Date         string `json:"date,omitempty" jsonschema:"section date as written in the corpus"`
	TopK         int    `json:"top_k,omitempty" jsonschema:"maximum chunks (default: 10)"`
}

type CaseInput struct {
	CaseID string `json:"case_id" jsonschema:"case identifier"`
}

type CorpusStatsInput struct{}

type Source struct {
	ChunkID       string  `json:"chunk_id"`
	CaseID        string  `json:"case_id"`
	CaseTitle     string  `json:"case_title"`
	DocumentType  string  `json:"document_type"`
	DocumentTitle string  `json:"document_title"`
	Score         float64 `json:"score"`
	Content       string  `json:"content"`
}

type QueryCasesOutput struct {
	Answer  string   `json:"answer"`
	Status  string   `json:"status"`
	Sources []Source `json:"sources"`
}

type SearchChunksOutput struct {
	Chunks []Source `json:"chunks"`
}

// NewQueryCasesHandler returns a tool handler for query_cases.
// Pass the returned function to mcp.AddTool.
func NewQueryCasesHandler(rag RAG) func(context.Context, *mcp.CallToolRequest, QueryCasesInput) (*mcp.CallToolResult, QueryCasesOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input QueryCasesInput) (*mcp.CallToolResult, QueryCasesOutput, error) {
		result, err := rag.Query(ctx, input.Query, input.TopK)
		if err != nil {
			return nil, QueryCasesOutput{}, err
		}
		out := QueryCasesOutput{Answer: result.Answer, Status: string(result.Status), Sources: make([]Source, len(result.Sources))}
		for i, s := range result.Sources {
			out.Sources[i] = toSource(s.Chunk, s.Score)
		}
		return nil, out, nil
	}
}

// NewSearchChunksHandler returns a tool handler for search_chunks.
func NewSearchChunksHandler(rag RAG) func(context.Context, *mcp.CallToolRequest, SearchChunksInput) (*mcp.CallToolResult, SearchChunksOutput, error) {
	return func(_ context.Context, _ *mcp.CallToolRequest, input SearchChunksInput) (*mcp.CallToolResult, SearchChunksOutput, error) {
		chunks, err := rag.SearchByMetadata(domain.MetadataFilter{
			CaseID:       strings.TrimSpace(input.CaseID),
			DocumentType: strings.TrimSpace(input.DocumentType),
			Date:         strings.TrimSpace(input.Date),
		}, input.TopK)
		if err != nil {
			return nil, SearchChunksOutput{}, err
		}
		out := SearchChunksOutput{Chunks: make([]Source, len(chunks))}
		for i, ch := range chunks {
			out.Chunks[i] = toSource(ch, 0)
		}
		return nil, out, nil
	}
}

// NewCaseChunksHandler returns a tool handler for case_chunks.
func NewCaseChunksHandler(rag RAG) func(context.Context, *mcp.CallToolRequest, CaseInput) (*mcp.CallToolResult, SearchChunksOutput, error) {
	return func(_ context.Context, _ *mcp.CallToolRequest, input CaseInput) (*mcp.CallToolResult, SearchChunksOutput, error) {
		chunks, err := rag.GetCaseChunks(strings.TrimSpace(input.CaseID))
		if err != nil {
			return nil, SearchChunksOutput{}, err
		}
		out := SearchChunksOutput{Chunks: make([]Source, len(chunks))}
		for i, ch := range chunks {
			out.Chunks[i] = toSource(ch, 0)
		}
		return nil, out, nil
	}
}

func NewCaseSummaryHandler(rag RAG) func(context.Context, *mcp.CallToolRequest, CaseInput) (*mcp.CallToolResult, retrieval.CaseSummary, error) {
	return func(_ context.Context, _ *mcp.CallToolRequest, input CaseInput) (*mcp.CallToolResult, retrieval.CaseSummary, error) {
		summary, err := rag.SummarizeCase(strings.TrimSpace(input.CaseID))
		return nil, summary, err
	}
}

func NewCorpusStatsHandler(rag RAG) func(context.Context, *mcp.CallToolRequest, CorpusStatsInput) (*mcp.CallToolResult, retrieval.Stats, error) {
	return func(context.Context, *mcp.CallToolRequest, CorpusStatsInput) (*mcp.CallToolResult, retrieval.Stats, error) {
		return nil, rag.GetStats(), nil
	}
}

func toSource(ch domain.Chunk, score float64) Source {
	return Source{
		ChunkID:       ch.ID,
		CaseID:        ch.Metadata.CaseID,
		CaseTitle:     ch.Metadata.CaseTitle,
		DocumentType:  ch.Metadata.DocumentType,
		DocumentTitle: ch.Metadata.DocumentTitle,
		Score:         score,
		Content:       ch.Content,
	}
}
