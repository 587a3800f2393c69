// Package memory implements crawler.Index in process memory.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Index stores records keyed by objectID.
type Index struct {
	mu       sync.RWMutex
	records  map[string]crawler.Record
	settings map[string]any

	// AckID overrides the acknowledged objectID when set. Tests use it to
	// simulate an index that reports a different identity.
	AckID func(objectID string) string
	// Err, when set, is returned by every mutating call.
	Err error
}

var _ crawler.Index = (*Index)(nil)

// New returns an empty index.
func New() *Index {
	return &Index{records: make(map[string]crawler.Record)}
}

// Configure stores the settings.
func (i *Index) Configure(_ context.Context, settings map[string]any) error {
	if i.Err != nil {
		return i.Err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.settings = make(map[string]any, len(settings))
	for k, v := range settings {
		i.settings[k] = v
	}
	return nil
}

// Upsert stores a copy of record.
func (i *Index) Upsert(_ context.Context, record crawler.Record) (string, error) {
	if i.Err != nil {
		return "", i.Err
	}
	id := record.ObjectID()
	if id == "" {
		return "", errors.New("record has no objectID")
	}
	i.mu.Lock()
	i.records[id] = record.Clone()
	i.mu.Unlock()
	if i.AckID != nil {
		return i.AckID(id), nil
	}
	return id, nil
}

// Delete removes a record if present.
func (i *Index) Delete(_ context.Context, objectID string) error {
	if i.Err != nil {
		return i.Err
	}
	i.mu.Lock()
	delete(i.records, objectID)
	i.mu.Unlock()
	return nil
}

// DeleteOlderThan removes records whose timestamp is before cutoff.
func (i *Index) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	if i.Err != nil {
		return 0, i.Err
	}
	limit := cutoff.UnixMilli()
	i.mu.Lock()
	defer i.mu.Unlock()
	var n int64
	for id, rec := range i.records {
		ts, ok := rec[crawler.FieldTimestamp].(int64)
		if ok && ts < limit {
			delete(i.records, id)
			n++
		}
	}
	return n, nil
}

// Get returns the stored record.
func (i *Index) Get(objectID string) (crawler.Record, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	rec, ok := i.records[objectID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Put stores a record without acknowledgement handling. Tests use it to seed
// stale entries.
func (i *Index) Put(record crawler.Record) {
	i.mu.Lock()
	i.records[record.ObjectID()] = record.Clone()
	i.mu.Unlock()
}

// Len reports the number of stored records.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.records)
}

// Settings returns the last configured settings.
func (i *Index) Settings() map[string]any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]any, len(i.settings))
	for k, v := range i.settings {
		out[k] = v
	}
	return out
}
