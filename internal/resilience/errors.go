package resilience

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError is returned when a wrapped operation exceeds its deadline.
type TimeoutError struct {
	Operation string
	Limit     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Operation, e.Limit)
}

// ExternalServiceError covers failures of external collaborators (HTTP
// downloads, embedding service, completion model). It is also the error a
// fallback failure surfaces as, so callers can always tell "degraded output"
// apart from "both primary and fallback failed".
type ExternalServiceError struct {
	Service string
	Detail  string
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %q error: %s", e.Service, e.Detail)
}

// ResourceInitError is returned when long-lived resources are unavailable,
// either because startup initialization failed or because a handle was
// requested before the registry reached Ready.
type ResourceInitError struct {
	Resource string
	Detail   string
}

func (e *ResourceInitError) Error() string {
	return fmt.Sprintf("failed to initialize resource %q: %s", e.Resource, e.Detail)
}

// DocumentError covers document acquisition and extraction failures.
type DocumentError struct {
	Operation string
	Detail    string
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document processing error in %q: %s", e.Operation, e.Detail)
}

// VectorStoreError covers embedding, upsert and similarity-search failures.
type VectorStoreError struct {
	Operation string
	Detail    string
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("vector store error in %q: %s", e.Operation, e.Detail)
}

// IsExternal reports whether err is classified as an external-service failure.
// Timeouts count: they are almost always a remote dependency being slow.
func IsExternal(err error) bool {
	var se *ExternalServiceError
	var te *TimeoutError
	return errors.As(err, &se) || errors.As(err, &te)
}

// Always treats every failure as retryable.
func Always(error) bool { return true }
