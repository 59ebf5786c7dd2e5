package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"arbitration-rag/internal/bedrock"
)

const DefaultModelID = "amazon.titan-embed-text-v2:0"

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embedder produces Amazon Titan text embeddings through Bedrock.
type Embedder struct {
	client    *bedrock.Client
	modelID   string
	dimension int
}

// NewEmbedder creates a Titan embedder. dimension must be one the model
// supports (256, 512 or 1024 for v2); 0 leaves the model default.
func NewEmbedder(client *bedrock.Client, modelID string, dimension int) *Embedder {
	if modelID == "" {
		modelID = DefaultModelID
	}
	return &Embedder{client: client, modelID: modelID, dimension: dimension}
}

func (e *Embedder) Name() string { return "bedrock" }

// Dimension is 0 when the model default is used.
func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(titanRequest{InputText: text, Dimensions: e.dimension, Normalize: true})
	if err != nil {
		return nil, fmt.Errorf("serialize titan request: %w", err)
	}
	out, err := e.client.Invoke(ctx, e.modelID, body)
	if err != nil {
		return nil, err
	}
	var resp titanResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal titan response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("titan returned an empty embedding")
	}
	return resp.Embedding, nil
}
