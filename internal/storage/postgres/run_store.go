// Package postgres provides the Postgres-backed crawl run ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitemap-crawler/internal/store"
)

// Schema creates the ledger tables when they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id            UUID PRIMARY KEY,
	app           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS crawl_site_stats (
	run_id      UUID NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
	site        TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	pages       BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0,
	fetched     BIGINT NOT NULL DEFAULT 0,
	deleted     BIGINT NOT NULL DEFAULT 0,
	redirected  BIGINT NOT NULL DEFAULT 0,
	errors      BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, site)
);`

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository.
type RunStore struct {
	pool pool
}

var _ store.RunRepository = (*RunStore)(nil)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// NewRunStore connects to Postgres and ensures the schema exists.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("ledger.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &RunStore{pool: p}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool wraps an existing pool (used by tests).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close closes the underlying pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the ledger tables.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts a running row for runID.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, app string, startedAt time.Time) error {
	const query = `
		INSERT INTO crawl_runs (id, app, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;`
	if _, err := s.pool.Exec(ctx, query, runID, app, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun records the final status of runID.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	const query = `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

var bucketColumns = map[string]string{
	store.BucketFetched:    "fetched",
	store.BucketDeleted:    "deleted",
	store.BucketRedirected: "redirected",
	store.BucketErrors:     "errors",
}

// UpsertSiteStats adds deltas to the (run, site) row, creating it if needed.
func (s *RunStore) UpsertSiteStats(
	ctx context.Context,
	runID uuid.UUID,
	site, bucket string,
	deltaPages, deltaBytes int64,
	at time.Time,
) error {
	column, ok := bucketColumns[bucket]
	if !ok {
		return fmt.Errorf("unknown outcome bucket: %s", bucket)
	}
	query := fmt.Sprintf(`
		INSERT INTO crawl_site_stats (run_id, site, last_update, pages, bytes_total, %[1]s)
		VALUES ($1, $2, $3, $4, $5, $4)
		ON CONFLICT (run_id, site) DO UPDATE SET
			last_update = GREATEST(crawl_site_stats.last_update, EXCLUDED.last_update),
			pages = crawl_site_stats.pages + EXCLUDED.pages,
			bytes_total = crawl_site_stats.bytes_total + EXCLUDED.bytes_total,
			%[1]s = crawl_site_stats.%[1]s + EXCLUDED.%[1]s;`, column)
	if _, err := s.pool.Exec(ctx, query, runID, site, at, deltaPages, deltaBytes); err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}

// GetRun loads one run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.CrawlRun, error) {
	const query = `
		SELECT id, app, started_at, finished_at, status, error_message
		FROM crawl_runs
		WHERE id = $1;`
	var run store.CrawlRun
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.App,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CrawlRun{}, store.ErrNotFound
		}
		return store.CrawlRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRunSites returns the per-site statistics of one run, busiest first.
func (s *RunStore) ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.SiteStats, error) {
	const query = `
		SELECT run_id, site, last_update, pages, bytes_total, fetched, deleted, redirected, errors
		FROM crawl_site_stats
		WHERE run_id = $1
		ORDER BY pages DESC, site
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	defer rows.Close()

	var stats []store.SiteStats
	for rows.Next() {
		var st store.SiteStats
		if err := rows.Scan(
			&st.RunID,
			&st.Site,
			&st.LastUpdate,
			&st.Pages,
			&st.BytesTotal,
			&st.Fetched,
			&st.Deleted,
			&st.Redirected,
			&st.Errors,
		); err != nil {
			return nil, fmt.Errorf("scan site stats row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site stats: %w", err)
	}
	return stats, nil
}
