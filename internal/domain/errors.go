package domain

import "errors"

var (
	ErrNotInitialized       = errors.New("retrieval service not initialized")
	ErrEmptyQuery           = errors.New("query must not be empty")
	ErrChunkNotFound        = errors.New("chunk not found")
	ErrCaseNotFound         = errors.New("case not found")
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrEmbeddingUnavailable = errors.New("embedding dimension unknown and every item failed")
)
