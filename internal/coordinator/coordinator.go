// Package coordinator drives one crawl: it reads every sitemap, feeds the
// fetch queue, synchronizes each outcome into the index, detects when the
// batch is complete and purges stale records.
package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/filter"
	sha "github.com/JakeFAU/sitemap-crawler/internal/hash/sha256"
	idgen "github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitemap-crawler/internal/page"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	"github.com/JakeFAU/sitemap-crawler/internal/queue"
	"github.com/JakeFAU/sitemap-crawler/internal/trimmer"
)

var (
	// ErrEmptyCrawl is returned when no sitemap produced a usable URL.
	ErrEmptyCrawl = errors.New("all sitemaps are empty")
	// ErrRunning is returned when Run is called while a crawl is in progress.
	ErrRunning = errors.New("crawl already running")
)

// SitemapReader lists the URLs of one sitemap.
type SitemapReader interface {
	Read(ctx context.Context, spec crawler.SitemapSpec) []crawler.URLEntry
}

// PageFetcher fetches and classifies one URL.
type PageFetcher interface {
	Fetch(ctx context.Context, entry crawler.URLEntry) page.Result
}

// Extractor fills record fields from a page body.
type Extractor interface {
	Extract(record crawler.Record, body []byte, contentType string) error
}

// RunIDGenerator names each crawl.
type RunIDGenerator interface {
	NewRunID() uuid.UUID
}

// Deps are the collaborators of a Coordinator. Archive, Hasher, Events,
// Clock, IDs and Logger are optional.
type Deps struct {
	Sitemaps  SitemapReader
	Pages     PageFetcher
	Extractor Extractor
	Index     crawler.Index
	Archive   crawler.BlobStore
	Hasher    crawler.Hasher
	Events    progress.Emitter
	Clock     crawler.Clock
	IDs       RunIDGenerator
	Logger    *zap.Logger
}

// Options hold the crawl configuration.
type Options struct {
	Sitemaps        []crawler.SitemapSpec
	Blacklist       []string
	IndexSettings   map[string]any
	MaxRecordSize   int
	OverflowField   string
	Concurrency     int
	Delay           time.Duration
	OldEntries      time.Duration
	RetryHTTPErrors bool
	ArchivePrefix   string
}

// Summary describes a finished crawl.
type Summary struct {
	RunID     uuid.UUID     `json:"run_id"`
	Sitemaps  int           `json:"sitemaps"`
	Accepted  int           `json:"accepted"`
	Filtered  int           `json:"filtered"`
	Resolved  int           `json:"resolved"`
	Upserted  int           `json:"upserted"`
	Deleted   int           `json:"deleted"`
	Warnings  int           `json:"warnings"`
	Errors    int           `json:"errors"`
	Purged    int64         `json:"purged"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Snapshot is the live state of the current or last crawl.
type Snapshot struct {
	Summary
	Running      bool `json:"running"`
	SitemapsDone int  `json:"sitemaps_done"`
	Queued       int  `json:"queued"`
	InFlight     int  `json:"in_flight"`
}

// Coordinator runs crawls. One crawl runs at a time; Run may be called again
// once the previous crawl returned.
type Coordinator struct {
	deps Deps
	opts Options

	mu           sync.Mutex
	running      bool
	summary      Summary
	sitemapsDone int
	queue        *queue.Queue
	completed    bool
	completeOnce *sync.Once
}

// New validates deps and returns a Coordinator.
func New(deps Deps, opts Options) (*Coordinator, error) {
	switch {
	case deps.Sitemaps == nil:
		return nil, errors.New("sitemap reader is required")
	case deps.Pages == nil:
		return nil, errors.New("page fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Index == nil:
		return nil, errors.New("index is required")
	}
	if deps.Archive != nil && deps.Hasher == nil {
		deps.Hasher = sha.New()
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.OverflowField == "" {
		opts.OverflowField = trimmer.DefaultField
	}
	return &Coordinator{deps: deps, opts: opts}, nil
}

// Run performs one crawl and returns its summary. It returns ErrEmptyCrawl
// when no sitemap yielded a URL, and the context error when ctx ends first.
// Per-URL failures are counted in the summary, not returned.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	runID := c.deps.IDs.NewRunID()
	start := c.deps.Clock.Now()
	q := queue.New(queue.Options{Concurrency: c.opts.Concurrency, Delay: c.opts.Delay})

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return Summary{}, ErrRunning
	}
	c.running = true
	c.summary = Summary{RunID: runID, Sitemaps: len(c.opts.Sitemaps), StartedAt: start}
	c.sitemapsDone = 0
	c.queue = q
	c.completed = false
	c.completeOnce = &sync.Once{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	logger := c.deps.Logger.With(zap.String("run_id", runID.String()))
	logger.Info("crawl started", zap.Int("sitemaps", len(c.opts.Sitemaps)))
	c.emit(progress.Event{Stage: progress.StageCrawlStart})

	c.configureIndex(ctx, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.Run(gctx)
	})
	for _, spec := range c.opts.Sitemaps {
		g.Go(func() error {
			c.readSitemap(gctx, spec, logger)
			return nil
		})
	}
	runErr := g.Wait()

	if runErr == nil && c.isCompleted() && c.accepted() > 0 && c.opts.OldEntries > 0 {
		c.purge(ctx, logger)
	}

	summary := c.finish(start)
	switch {
	case runErr != nil:
	case summary.Accepted == 0:
		runErr = ErrEmptyCrawl
	}

	if runErr != nil {
		logger.Error("crawl failed", zap.Error(runErr), zap.Duration("duration", summary.Duration))
		c.emit(progress.Event{Stage: progress.StageCrawlError, Dur: summary.Duration, Note: runErr.Error()})
		return summary, runErr
	}
	logger.Info("crawl finished",
		zap.Int("accepted", summary.Accepted),
		zap.Int("filtered", summary.Filtered),
		zap.Int("upserted", summary.Upserted),
		zap.Int("deleted", summary.Deleted),
		zap.Int("warnings", summary.Warnings),
		zap.Int("errors", summary.Errors),
		zap.Int64("purged", summary.Purged),
		zap.Duration("duration", summary.Duration),
	)
	c.emit(progress.Event{Stage: progress.StageCrawlDone, Count: int64(summary.Resolved), Dur: summary.Duration})
	return summary, nil
}

// Snapshot returns the live counters.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{Summary: c.summary, Running: c.running, SitemapsDone: c.sitemapsDone}
	if c.running && c.queue != nil {
		snap.Queued = c.queue.Len()
		snap.InFlight = c.queue.InFlight()
		snap.Duration = c.deps.Clock.Now().Sub(c.summary.StartedAt)
	}
	return snap
}

func (c *Coordinator) configureIndex(ctx context.Context, logger *zap.Logger) {
	if len(c.opts.IndexSettings) == 0 {
		return
	}
	if err := c.deps.Index.Configure(ctx, c.opts.IndexSettings); err != nil {
		logger.Error("configuring index failed", zap.Error(err))
		return
	}
	logger.Info("index configured")
}

func (c *Coordinator) readSitemap(ctx context.Context, spec crawler.SitemapSpec, logger *zap.Logger) {
	started := c.deps.Clock.Now()
	entries := c.deps.Sitemaps.Read(ctx, spec)
	kept, removed := filter.Apply(entries, c.opts.Blacklist)

	c.mu.Lock()
	c.summary.Accepted += len(kept)
	c.summary.Filtered += removed
	c.sitemapsDone++
	c.mu.Unlock()

	if len(kept) == 0 {
		logger.Warn("sitemap has no usable urls", zap.String("sitemap", spec.URL), zap.Int("filtered", removed))
	} else {
		logger.Info("sitemap registered",
			zap.String("sitemap", spec.URL),
			zap.Int("accepted", len(kept)),
			zap.Int("found", len(entries)),
		)
	}
	c.emit(progress.Event{
		Stage:    progress.StageSitemapDone,
		Site:     progress.SiteOf(spec.URL),
		URL:      spec.URL,
		Count:    int64(len(kept)),
		Filtered: int64(removed),
		Dur:      c.deps.Clock.Now().Sub(started),
	})

	for _, entry := range kept {
		c.enqueue(entry, 0, logger)
	}
	c.checkCompletion()
}

func (c *Coordinator) enqueue(entry crawler.URLEntry, attempt int, logger *zap.Logger) bool {
	q := c.currentQueue()
	err := q.Enqueue(func(ctx context.Context) {
		c.process(ctx, entry, attempt, logger)
	})
	if err == nil {
		return true
	}
	if attempt == 0 {
		// The entry was counted as accepted; it must still resolve.
		logger.Error("enqueue failed", zap.String("url", entry.URL), zap.Error(err))
		c.resolve(page.Result{Entry: entry, Outcome: page.OutcomeTransportError, Err: err}, err, 0)
	}
	return false
}

func (c *Coordinator) process(ctx context.Context, entry crawler.URLEntry, attempt int, logger *zap.Logger) {
	started := c.deps.Clock.Now()
	res := c.deps.Pages.Fetch(ctx, entry)

	fields := []zap.Field{
		zap.String("url", entry.URL),
		zap.String("object_id", crawler.ObjectID(entry.URL)),
		zap.String("lang", entry.Lang),
		zap.Int("status", res.StatusCode),
	}

	if res.Outcome.IsWarning() {
		if res.Location != "" {
			fields = append(fields, zap.String("location", res.Location))
		}
		logger.Warn("page not indexable", append(fields, zap.Stringer("outcome", res.Outcome))...)
	}

	var err error
	switch res.Outcome {
	case page.OutcomeFetched:
		err = c.sync(ctx, res, logger.With(fields...))
	case page.OutcomeDelete, page.OutcomeNotFound:
		err = c.remove(ctx, res.Record, logger.With(fields...))
	case page.OutcomeRedirected:
		// Logged above; the index is left untouched.
	case page.OutcomeHTTPError:
		var statusErr *crawler.HTTPStatusError
		if c.opts.RetryHTTPErrors && attempt == 0 && errors.As(res.Err, &statusErr) && statusErr.Retryable() {
			logger.Warn("retrying page", append(fields, zap.Error(res.Err))...)
			if c.enqueue(entry, attempt+1, logger) {
				return
			}
		}
		err = res.Err
	default:
		err = res.Err
	}

	if err != nil {
		logger.Error("page failed", append(fields, zap.Stringer("outcome", res.Outcome), zap.Error(err))...)
	}
	c.resolve(res, err, c.deps.Clock.Now().Sub(started))
}

// sync extracts, trims, archives and upserts a fetched page.
func (c *Coordinator) sync(ctx context.Context, res page.Result, logger *zap.Logger) error {
	record := res.Record
	if err := c.deps.Extractor.Extract(record, res.Body, res.ContentType); err != nil {
		return err
	}
	if removed := trimmer.Trim(record, c.opts.MaxRecordSize, c.opts.OverflowField); removed > 0 {
		logger.Warn("record trimmed", zap.Int("removed", removed), zap.String("field", c.opts.OverflowField))
	}
	if c.deps.Archive != nil {
		c.archive(ctx, res, logger)
	}

	objectID := record.ObjectID()
	ack, err := c.deps.Index.Upsert(ctx, record)
	if err != nil {
		return &crawler.IndexSyncError{Op: "upsert", ObjectID: objectID, Err: err}
	}
	if ack != objectID {
		return &crawler.IndexSyncError{
			Op:       "upsert",
			ObjectID: objectID,
			Err:      fmt.Errorf("%w: index returned %q", crawler.ErrObjectIDMismatch, ack),
		}
	}
	logger.Info("record saved")
	return nil
}

func (c *Coordinator) archive(ctx context.Context, res page.Result, logger *zap.Logger) {
	digest, err := c.deps.Hasher.Hash(res.Body)
	if err != nil {
		logger.Warn("hashing page failed", zap.Error(err))
		return
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = "text/html"
	}
	uri, err := c.deps.Archive.PutObject(ctx, sha.ObjectPath(c.opts.ArchivePrefix, digest), contentType, bytes.NewReader(res.Body))
	if err != nil {
		logger.Warn("archiving page failed", zap.Error(err))
		return
	}
	logger.Debug("page archived", zap.String("uri", uri))
}

func (c *Coordinator) remove(ctx context.Context, record crawler.Record, logger *zap.Logger) error {
	objectID := record.ObjectID()
	if err := c.deps.Index.Delete(ctx, objectID); err != nil {
		return &crawler.IndexSyncError{Op: "delete", ObjectID: objectID, Err: err}
	}
	logger.Info("record deleted")
	return nil
}

// resolve records the terminal outcome of one accepted URL.
func (c *Coordinator) resolve(res page.Result, err error, dur time.Duration) {
	outcome := res.Outcome.String()
	if err != nil && !res.Outcome.IsError() {
		outcome = syncFailureLabel(err)
	}

	c.mu.Lock()
	c.summary.Resolved++
	switch {
	case err != nil:
		c.summary.Errors++
	case res.Outcome == page.OutcomeFetched:
		c.summary.Upserted++
	case res.Outcome == page.OutcomeDelete:
		c.summary.Deleted++
	case res.Outcome == page.OutcomeNotFound:
		c.summary.Deleted++
		c.summary.Warnings++
	case res.Outcome == page.OutcomeRedirected:
		c.summary.Warnings++
	}
	c.mu.Unlock()

	evt := progress.Event{
		Stage:       progress.StageFetchDone,
		Site:        progress.SiteOf(res.Entry.URL),
		URL:         res.Entry.URL,
		Outcome:     outcome,
		StatusClass: progress.ClassifyStatus(res.StatusCode),
		Bytes:       int64(len(res.Body)),
		Dur:         dur,
	}
	if err != nil {
		evt.Note = err.Error()
	}
	c.emit(evt)
	c.checkCompletion()
}

func syncFailureLabel(err error) string {
	var extractErr *crawler.ExtractionError
	if errors.As(err, &extractErr) {
		return "extraction_error"
	}
	return "index_error"
}

// checkCompletion stops the queue once every sitemap reported and every
// accepted URL resolved.
func (c *Coordinator) checkCompletion() {
	c.mu.Lock()
	done := c.sitemapsDone == len(c.opts.Sitemaps) && c.summary.Resolved == c.summary.Accepted
	once, q := c.completeOnce, c.queue
	c.mu.Unlock()
	if !done {
		return
	}
	once.Do(func() {
		c.mu.Lock()
		c.completed = true
		c.mu.Unlock()
		q.Stop()
	})
}

func (c *Coordinator) purge(ctx context.Context, logger *zap.Logger) {
	cutoff := c.deps.Clock.Now().Add(-c.opts.OldEntries)
	started := c.deps.Clock.Now()
	n, err := c.deps.Index.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error("purging old records failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return
	}
	c.mu.Lock()
	c.summary.Purged = n
	c.mu.Unlock()
	logger.Info("old records purged", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	c.emit(progress.Event{Stage: progress.StagePurgeDone, Count: n, Dur: c.deps.Clock.Now().Sub(started)})
}

func (c *Coordinator) finish(start time.Time) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Duration = c.deps.Clock.Now().Sub(start)
	return c.summary
}

func (c *Coordinator) emit(evt progress.Event) {
	c.mu.Lock()
	evt.RunID = progress.UUIDToBytes(c.summary.RunID)
	c.mu.Unlock()
	if evt.TS.IsZero() {
		evt.TS = c.deps.Clock.Now()
	}
	c.deps.Events.Emit(evt)
}

func (c *Coordinator) currentQueue() *queue.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

func (c *Coordinator) isCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

func (c *Coordinator) accepted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary.Accepted
}
