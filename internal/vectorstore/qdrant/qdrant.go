package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/vectorstore"
)

// Index is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Index struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

var _ vectorstore.Index = (*Index)(nil)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewIndex(cfg Config) *Index {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "arbitration_chunks"
	}
	return &Index{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *Index) Name() string { return "qdrant" }

func (s *Index) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", s.url, s.collection)
	err := s.do(ctx, http.MethodPut, url, body, nil)
	var se *statusError
	if !errors.As(err, &se) || se.code != http.StatusConflict {
		return err
	}
	// A collection left by an earlier run is recreated empty.
	if err := s.Clear(ctx); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, url, body, nil)
}

// PointID maps a chunk id to the UUID Qdrant stores it under.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (s *Index) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	points := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		if len(ch.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s: %w", ch.ID, domain.ErrDimensionMismatch)
		}
		points[i] = map[string]any{
			"id":     PointID(ch.ID),
			"vector": ch.Embedding,
			"payload": map[string]any{
				"chunk_id":      ch.ID,
				"case_id":       ch.Metadata.CaseID,
				"document_type": ch.Metadata.DocumentType,
				"chunk_index":   ch.Metadata.ChunkIndex,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection), body, nil)
}

func (s *Index) Search(ctx context.Context, vector []float64, topK int) ([]vectorstore.Hit, error) {
	if topK <= 0 {
		return []vectorstore.Hit{}, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": []string{"chunk_id"},
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				ChunkID string `json:"chunk_id"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection), req, &resp); err != nil {
		return nil, err
	}
	hits := make([]vectorstore.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		if r.Payload.ChunkID == "" {
			continue
		}
		hits = append(hits, vectorstore.Hit{ID: r.Payload.ChunkID, Score: r.Score})
	}
	return hits, nil
}

// Clear drops the collection.
func (s *Index) Clear(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, fmt.Sprintf("%s/collections/%s", s.url, s.collection), nil, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return nil
	}
	return err
}

type statusError struct {
	method, url string
	code        int
	status      string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.url, e.status)
}

func (s *Index) do(ctx context.Context, method, url string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{method: method, url: url, code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
