package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	"github.com/JakeFAU/sitemap-crawler/internal/store"
)

// StoreSink writes progress into a store.RunRepository. Page events are
// summed per (run, site, bucket) before each write.
type StoreSink struct {
	repo   store.RunRepository
	app    string
	logger *zap.Logger
}

// NewStoreSink builds a StoreSink that labels runs with app.
func NewStoreSink(repo store.RunRepository, app string, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, app: app, logger: logger}
}

type statsKey struct {
	runID  uuid.UUID
	site   string
	bucket string
}

type statsDelta struct {
	pages int64
	bytes int64
	at    time.Time
}

// Consume persists run transitions in order and flushes site deltas last.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)
	var completions []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageCrawlStart:
			if err := s.repo.UpsertRunStart(ctx, runID, s.app, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageCrawlDone, progress.StageCrawlError:
			completions = append(completions, evt)
		case progress.StageFetchDone:
			key := statsKey{runID: runID, site: evt.Site, bucket: store.BucketFor(evt.Outcome)}
			d := stats[key]
			if d == nil {
				d = &statsDelta{}
				stats[key] = d
			}
			d.pages++
			d.bytes += evt.Bytes
			if evt.TS.After(d.at) {
				d.at = evt.TS
			}
		}
	}

	for key, d := range stats {
		if err := s.repo.UpsertSiteStats(ctx, key.runID, key.site, key.bucket, d.pages, d.bytes, d.at); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}

	for _, evt := range completions {
		status := store.RunSuccess
		var note *string
		if evt.Stage == progress.StageCrawlError {
			status = store.RunError
			if evt.Note != "" {
				msg := evt.Note
				note = &msg
			}
		}
		if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
