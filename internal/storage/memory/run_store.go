package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitemap-crawler/internal/store"
)

// RunStore is an in-memory store.RunRepository used when no ledger DSN is configured.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.CrawlRun
	sites map[uuid.UUID]map[string]*store.SiteStats
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore returns an empty run ledger.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[uuid.UUID]store.CrawlRun),
		sites: make(map[uuid.UUID]map[string]*store.SiteStats),
	}
}

// UpsertRunStart records a running run; an existing row keeps its start time.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, app string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.CrawlRun{ID: runID, StartedAt: startedAt}
	}
	run.App = app
	run.Status = store.RunRunning
	s.runs[runID] = run
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(_ context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// UpsertSiteStats adds deltas to the bucket for site.
func (s *RunStore) UpsertSiteStats(
	_ context.Context,
	runID uuid.UUID,
	site, bucket string,
	deltaPages, deltaBytes int64,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySite, ok := s.sites[runID]
	if !ok {
		bySite = make(map[string]*store.SiteStats)
		s.sites[runID] = bySite
	}
	stats, ok := bySite[site]
	if !ok {
		stats = &store.SiteStats{RunID: runID, Site: site}
		bySite[site] = stats
	}
	stats.Pages += deltaPages
	stats.BytesTotal += deltaBytes
	switch bucket {
	case store.BucketFetched:
		stats.Fetched += deltaPages
	case store.BucketDeleted:
		stats.Deleted += deltaPages
	case store.BucketRedirected:
		stats.Redirected += deltaPages
	default:
		stats.Errors += deltaPages
	}
	if at.After(stats.LastUpdate) {
		stats.LastUpdate = at
	}
	return nil
}

// GetRun returns a copy of the run.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.CrawlRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRunSites returns site stats ordered by site name.
func (s *RunStore) ListRunSites(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.SiteStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySite := s.sites[runID]
	out := make([]store.SiteStats, 0, len(bySite))
	for _, stats := range bySite {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	if offset > len(out) {
		return []store.SiteStats{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
