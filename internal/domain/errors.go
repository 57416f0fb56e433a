package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Stores and services return these (wrapped) rather than
// propagating library-specific errors.
var (
	// ErrInvalidContent: content too short after normalization, or empty.
	ErrInvalidContent = errors.New("invalid content")

	// ErrInvalidQuery: empty query or out-of-range recall parameters.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidImportance: importance outside [0,1].
	ErrInvalidImportance = errors.New("importance must be in [0,1]")

	// ErrTenantRequired: missing company_id, app_id or user_id.
	ErrTenantRequired = errors.New("tenant context requires company_id, app_id and user_id")

	// ErrNotFound: record absent under the caller's tenant. Cross-tenant
	// reads surface as this, never as a permission error.
	ErrNotFound = errors.New("not found")

	// ErrEmbeddingUnavailable: embedder failed after all attempts.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrInvalidEmbedding: embedder returned a vector of the wrong shape
	// or with non-finite values.
	ErrInvalidEmbedding = errors.New("invalid embedding vector")

	// ErrExtractionFailed: LLM output was malformed and the regex fallback
	// was disabled. Never fatal when the fallback is on.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrStoreUnavailable: a backing store call failed or timed out.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)

// StorageError preserves the saga id and failed step alongside the cause,
// so callers can report exactly where a multi-store write died.
type StorageError struct {
	SagaID     string
	FailedStep string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("saga %s failed at step %q: %v", e.SagaID, e.FailedStep, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigError is a fail-fast startup error for missing or malformed
// credentials.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}
