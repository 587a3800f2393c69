package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrObjectIDMismatch is reported when the index acknowledges a different objectID
// than the one submitted.
var ErrObjectIDMismatch = errors.New("object id mismatch")

// TransportError wraps DNS, connection and timeout failures for one URL.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-200 response that is not a 404 or redirect.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP error %d %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is eligible for the single retry.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode != http.StatusNotFound && (e.StatusCode < 300 || e.StatusCode >= 400)
}

// ExtractionError aborts field extraction for one URL.
type ExtractionError struct {
	Key string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %q: %v", e.Key, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IndexSyncError is reported when the index rejects an operation.
type IndexSyncError struct {
	Op       string
	ObjectID string
	Err      error
}

func (e *IndexSyncError) Error() string {
	return fmt.Sprintf("index %s %s: %v", e.Op, e.ObjectID, e.Err)
}

func (e *IndexSyncError) Unwrap() error { return e.Err }
