// Package bedrock wraps the Bedrock runtime client shared by the Titan
// embedder and the Claude generator.
package bedrock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"
)

// Invoker is the subset of *bedrockruntime.Client used here.
type Invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type Client struct {
	Runtime      Invoker
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	logger       *zerolog.Logger
}

func NewClient(ctx context.Context, region string, logger *zerolog.Logger) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return NewWithInvoker(bedrockruntime.NewFromConfig(cfg), logger), nil
}

// NewWithInvoker builds a Client around an existing runtime, e.g. a fake in tests.
func NewWithInvoker(runtime Invoker, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		Runtime:      runtime,
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		logger:       logger,
	}
}

// Invoke sends a JSON body to modelID and returns the raw response body,
// retrying throttling and transient service errors with jittered backoff.
func (c *Client) Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	attempts := c.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		output, err := c.Runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(modelID),
			Body:        body,
			Accept:      aws.String("application/json"),
			ContentType: aws.String("application/json"),
		})
		if err == nil {
			return output.Body, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return nil, fmt.Errorf("invoke %s: %w", modelID, err)
		}

		delay := calculateBackoff(attempt, c.InitialDelay, c.MaxDelay)
		c.logger.Warn().Err(err).Str("model", modelID).Int("attempt", attempt+1).Dur("delay", delay).Msg("Bedrock call failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("max retries %d exceeded: %w", attempts, lastErr)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()

	for _, marker := range []string{
		// throttling
		"ThrottlingException", "TooManyRequestsException", "Rate exceeded",
		// service side
		"InternalServerException", "ServiceUnavailableException", "ModelNotReadyException",
		// network
		"connection reset", "EOF", "timeout",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

func calculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	backoff := float64(initialDelay) * math.Pow(2, float64(attempt))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	jitter := backoff * 0.2 * (2*rand.Float64() - 1) // +/-20%
	return time.Duration(backoff + jitter)
}
