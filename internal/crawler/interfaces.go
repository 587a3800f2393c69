package crawler

import (
	"context"
	"io"
	"time"
)

// Index is the search index the crawl synchronizes into.
type Index interface {
	// Configure applies index settings (ranking, searchable attributes, ...).
	Configure(ctx context.Context, settings map[string]any) error
	// Upsert stores the record and returns the objectID the index acknowledged.
	Upsert(ctx context.Context, record Record) (string, error)
	// Delete removes one record.
	Delete(ctx context.Context, objectID string) error
	// DeleteOlderThan removes records whose timestamp is before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Transport performs a single HTTP GET.
type Transport interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests used to name archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now in UTC.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
