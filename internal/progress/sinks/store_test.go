package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	"github.com/JakeFAU/sitemap-crawler/internal/store"
)

func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, "docs", nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageCrawlStart},
		{RunID: runID, TS: now, Stage: progress.StageFetchDone, Site: "example.com", Outcome: "fetched", Bytes: 100},
		{RunID: runID, TS: now.Add(time.Second), Stage: progress.StageFetchDone, Site: "example.com", Outcome: "fetched", Bytes: 50},
		{RunID: runID, TS: now, Stage: progress.StageFetchDone, Site: "example.com", Outcome: "page_not_found"},
		{RunID: runID, TS: now.Add(2 * time.Second), Stage: progress.StageCrawlError, Note: "boom"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	assert.Equal(t, "docs", repo.app)
	require.Len(t, repo.siteStats, 2)

	byBucket := map[string]siteCall{}
	for _, c := range repo.siteStats {
		byBucket[c.bucket] = c
	}
	assert.Equal(t, int64(2), byBucket[store.BucketFetched].pages)
	assert.Equal(t, int64(150), byBucket[store.BucketFetched].bytes)
	assert.Equal(t, int64(1), byBucket[store.BucketDeleted].pages)

	require.Len(t, repo.completes, 1)
	assert.Equal(t, store.RunError, repo.completes[0].status)
	require.NotNil(t, repo.completes[0].note)
	assert.Equal(t, "boom", *repo.completes[0].note)
}

func TestStoreSinkPropagatesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeRunRepo{fail: true}, "docs", zap.NewNop())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageCrawlStart},
	})
	require.Error(t, err)
}

func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	var sink *StoreSink
	require.NoError(t, sink.Consume(context.Background(), nil))
}

type siteCall struct {
	runID  uuid.UUID
	site   string
	bucket string
	pages  int64
	bytes  int64
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
	note   *string
}

type fakeRunRepo struct {
	fail      bool
	app       string
	starts    []uuid.UUID
	completes []completeCall
	siteStats []siteCall
}

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, runID uuid.UUID, app string, _ time.Time) error {
	if f.fail {
		return errors.New("start")
	}
	f.app = app
	f.starts = append(f.starts, runID)
	return nil
}

func (f *fakeRunRepo) CompleteRun(_ context.Context, runID uuid.UUID, _ time.Time, status store.RunStatus, errMsg *string) error {
	if f.fail {
		return errors.New("complete")
	}
	f.completes = append(f.completes, completeCall{runID: runID, status: status, note: errMsg})
	return nil
}

func (f *fakeRunRepo) UpsertSiteStats(_ context.Context, runID uuid.UUID, site, bucket string, pages, bytes int64, _ time.Time) error {
	if f.fail {
		return errors.New("site")
	}
	f.siteStats = append(f.siteStats, siteCall{runID: runID, site: site, bucket: bucket, pages: pages, bytes: bytes})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.CrawlRun, error) {
	return store.CrawlRun{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRunSites(context.Context, uuid.UUID, int, int) ([]store.SiteStats, error) {
	return nil, nil
}
