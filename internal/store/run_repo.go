package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the crawl_runs.status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// CrawlRun models one row of crawl_runs.
type CrawlRun struct {
	ID           uuid.UUID  `json:"id"`
	App          string     `json:"app"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// SiteStats aggregates per-host page outcomes for a run.
type SiteStats struct {
	RunID      uuid.UUID `json:"run_id"`
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Pages      int64     `json:"pages"`
	BytesTotal int64     `json:"bytes_total"`
	Fetched    int64     `json:"fetched"`
	Deleted    int64     `json:"deleted"`
	Redirected int64     `json:"redirected"`
	Errors     int64     `json:"errors"`
}

// Outcome buckets stored per site.
const (
	BucketFetched    = "fetched"
	BucketDeleted    = "deleted"
	BucketRedirected = "redirected"
	BucketErrors     = "errors"
)

// BucketFor maps a fetch outcome name onto a SiteStats column.
func BucketFor(outcome string) string {
	switch outcome {
	case "fetched":
		return BucketFetched
	case "delete", "page_not_found":
		return BucketDeleted
	case "page_redirected":
		return BucketRedirected
	default:
		return BucketErrors
	}
}

// RunRepository persists crawl runs and their per-site statistics.
type RunRepository interface {
	// UpsertRunStart records a run as running. Repeated calls are idempotent.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, app string, startedAt time.Time) error
	// CompleteRun marks the run finished.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertSiteStats adds page and byte deltas to one outcome bucket.
	UpsertSiteStats(ctx context.Context, runID uuid.UUID, site, bucket string, deltaPages, deltaBytes int64, at time.Time) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (CrawlRun, error)
	// ListRunSites returns site statistics for one run.
	ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SiteStats, error)
}
