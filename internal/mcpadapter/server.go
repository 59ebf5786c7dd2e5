package mcpadapter

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ServerName    = "arbitration-rag"
	ServerVersion = "1.0.0"
)

// NewServer registers every retrieval tool on a fresh MCP server.
func NewServer(rag RAG) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		}, nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_cases",
		Description: "Answer a question about the arbitration case corpus, citing the retrieved passages",
	}, NewQueryCasesHandler(rag))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_chunks",
		Description: "List indexed chunks filtered by case id, document type or date",
	}, NewSearchChunksHandler(rag))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "case_chunks",
		Description: "Every chunk of one case in document order",
	}, NewCaseChunksHandler(rag))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "case_summary",
		Description: "Extractive summary of one case",
	}, NewCaseSummaryHandler(rag))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "corpus_stats",
		Description: "Chunk counts per document type and case, and the active embedder",
	}, NewCorpusStatsHandler(rag))
	return server
}
