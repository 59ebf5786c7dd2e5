package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emicklei/go-restful/v3"
	"github.com/rs/zerolog"

	"arbitration-rag/internal/api/middleware"
	"arbitration-rag/internal/chunker"
	"arbitration-rag/internal/corpus"
	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/embedding"
	"arbitration-rag/internal/embedding/hash"
	"arbitration-rag/internal/generator/extractive"
	"arbitration-rag/internal/retrieval"
	"arbitration-rag/internal/summarizer"
	"arbitration-rag/internal/vectorstore/memory"
)

func setupTestContainer(t *testing.T, initialize bool) *restful.Container {
	t.Helper()
	logger := zerolog.Nop()

	docs := corpus.StaticLoader{
		{
			Identifier: "ICSID-1",
			Title:      "Alpha Mining v. Republic of Ruritania",
			Decisions: []domain.Decision{{
				Title:   "Award",
				Type:    "Award",
				Date:    "2019-05-02",
				Content: "The tribunal found that the revocation of the mining licence amounted to an indirect expropriation.",
			}},
		},
		{
			Identifier: "ICSID-2",
			Title:      "Beta Energy v. Kingdom of Freedonia",
			Decisions: []domain.Decision{{
				Title:   "Decision on Jurisdiction",
				Type:    "Decision on Jurisdiction",
				Content: "The tribunal declined jurisdiction because the claimant was not a protected investor.",
			}},
		},
	}

	engine := embedding.NewEngine(hash.NewEmbedder(128), &logger)
	sum := summarizer.NewFrequencySummarizer()
	svc := retrieval.New(retrieval.Deps{
		Loader:     docs,
		Chunker:    chunker.NewWindowChunker(chunker.DefaultChunkSize, chunker.DefaultOverlap),
		Engine:     engine,
		Store:      memory.NewStore(engine),
		Generator:  extractive.New(sum, 2),
		Summarizer: sum,
	}, retrieval.Options{}, &logger)

	if initialize {
		if err := svc.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
	}
	return NewContainer(NewHandler(svc, &logger), &logger)
}

func doRequest(container *restful.Container, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	container.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		initialize bool
		wantStatus string
	}{
		{"ready", true, "ok"},
		{"not indexed", false, "initializing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container := setupTestContainer(t, tt.initialize)
			recorder := doRequest(container, http.MethodGet, "/api/v1/health", nil)
			if recorder.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", recorder.Code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Status != tt.wantStatus || resp.Ready != tt.initialize {
				t.Errorf("unexpected health response %+v", resp)
			}
			if recorder.Header().Get(middleware.RequestIDHeader) == "" {
				t.Error("expected request id header")
			}
		})
	}
}

func TestQueryEndpoint(t *testing.T) {
	container := setupTestContainer(t, true)

	body, _ := json.Marshal(QueryRequest{Query: "indirect expropriation of the mining licence", TopK: 2})
	recorder := doRequest(container, http.MethodPost, "/api/v1/query", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp QueryResponse
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != string(domain.StatusOK) {
		t.Errorf("Expected status ok, got %q", resp.Status)
	}
	if len(resp.Sources) == 0 || len(resp.Sources) > 2 {
		t.Fatalf("Expected 1-2 sources, got %d", len(resp.Sources))
	}
	if resp.Sources[0].Chunk.Metadata.CaseID != "ICSID-1" {
		t.Errorf("Expected top source from ICSID-1, got %s", resp.Sources[0].Chunk.Metadata.CaseID)
	}
	for _, s := range resp.Sources {
		if len(s.Chunk.Embedding) != 0 {
			t.Error("embeddings must not be serialized")
		}
	}
	if resp.Answer == "" {
		t.Error("Expected an answer")
	}
}

func TestQueryEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name       string
		initialize bool
		body       string
		wantCode   int
	}{
		{"blank query", true, `{"query":"   "}`, http.StatusBadRequest},
		{"topK too large", true, `{"query":"award","topK":500}`, http.StatusBadRequest},
		{"malformed json", true, `{"query":`, http.StatusBadRequest},
		{"not indexed", false, `{"query":"award"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container := setupTestContainer(t, tt.initialize)
			recorder := doRequest(container, http.MethodPost, "/api/v1/query", []byte(tt.body))
			if recorder.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, recorder.Code)
			}
			var resp middleware.ErrorResponse
			if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Expected code %d in body, got %d", tt.wantCode, resp.Code)
			}
		})
	}
}

func TestChunkEndpoints(t *testing.T) {
	container := setupTestContainer(t, true)

	recorder := doRequest(container, http.MethodGet, "/api/v1/chunks?caseId=ICSID-2", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}
	var list ChunksResponse
	if err := json.NewDecoder(recorder.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if list.Count != 1 || list.Chunks[0].ID != "ICSID-2-decision-0-0" {
		t.Fatalf("unexpected chunks %+v", list)
	}

	recorder = doRequest(container, http.MethodGet, "/api/v1/chunks/ICSID-2-decision-0-0", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}
	var ch domain.Chunk
	if err := json.NewDecoder(recorder.Body).Decode(&ch); err != nil {
		t.Fatalf("Failed to decode chunk: %v", err)
	}
	if ch.Metadata.DocumentType != domain.DocumentTypeDecision || ch.HasEmbedding() {
		t.Errorf("unexpected chunk %+v", ch)
	}

	recorder = doRequest(container, http.MethodGet, "/api/v1/chunks/missing", nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", recorder.Code)
	}

	recorder = doRequest(container, http.MethodGet, "/api/v1/chunks?topK=abc", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", recorder.Code)
	}
}

func TestCaseEndpoints(t *testing.T) {
	container := setupTestContainer(t, true)

	recorder := doRequest(container, http.MethodGet, "/api/v1/cases/ICSID-1/summary", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}
	var summary retrieval.CaseSummary
	if err := json.NewDecoder(recorder.Body).Decode(&summary); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if summary.CaseTitle != "Alpha Mining v. Republic of Ruritania" || !strings.Contains(summary.Summary, "expropriation") {
		t.Errorf("unexpected summary %+v", summary)
	}

	recorder = doRequest(container, http.MethodGet, "/api/v1/cases/UNKNOWN/chunks", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}
	var empty ChunksResponse
	if err := json.NewDecoder(recorder.Body).Decode(&empty); err != nil {
		t.Fatalf("Failed to decode chunks: %v", err)
	}
	if empty.Count != 0 || len(empty.Chunks) != 0 {
		t.Errorf("expected no chunks for unknown case, got %+v", empty)
	}

	recorder = doRequest(container, http.MethodGet, "/api/v1/cases/UNKNOWN/summary", nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", recorder.Code)
	}
}

func TestStatsAndOpenAPI(t *testing.T) {
	container := setupTestContainer(t, true)

	recorder := doRequest(container, http.MethodGet, "/api/v1/stats", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}
	var stats retrieval.Stats
	if err := json.NewDecoder(recorder.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.TotalChunks != 2 || stats.UniqueCases != 2 || !stats.Ready || stats.Embedder != "hash" {
		t.Errorf("unexpected stats %+v", stats)
	}

	recorder = doRequest(container, http.MethodGet, "/api/v1/openapi.json", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "Arbitration RAG API") {
		t.Error("OpenAPI document missing title")
	}
}
