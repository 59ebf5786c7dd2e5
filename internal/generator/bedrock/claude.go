package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"arbitration-rag/internal/bedrock"
	"arbitration-rag/internal/domain"
)

const DefaultModelID = "anthropic.claude-3-haiku-20240307-v1:0"

var anthropicVersion = "bedrock-2023-05-31"

type claudeMessageRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeMessageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Generator answers grounded prompts with an Anthropic model on Bedrock.
type Generator struct {
	client      *bedrock.Client
	modelID     string
	maxTokens   int
	temperature float64
	system      string
}

type Options struct {
	ModelID     string
	MaxTokens   int
	Temperature float64
	System      string
}

func New(client *bedrock.Client, opts Options) *Generator {
	if opts.ModelID == "" {
		opts.ModelID = DefaultModelID
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &Generator{
		client:      client,
		modelID:     opts.ModelID,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		system:      opts.System,
	}
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	payload := claudeMessageRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        g.maxTokens,
		Temperature:      g.temperature,
		System:           g.system,
		Messages:         []claudeMessage{{Role: "user", Content: req.Prompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize claude request: %w", err)
	}

	out, err := g.client.Invoke(ctx, g.modelID, body)
	if err != nil {
		return "", err
	}

	var response claudeMessageResponse
	if err := json.Unmarshal(out, &response); err != nil {
		return "", fmt.Errorf("unmarshal bedrock response: %w", err)
	}
	var sb strings.Builder
	for _, c := range response.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("claude returned no text content")
	}
	return sb.String(), nil
}
