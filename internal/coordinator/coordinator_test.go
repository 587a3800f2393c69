package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/extract"
	sha "github.com/JakeFAU/sitemap-crawler/internal/hash/sha256"
	idgen "github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
	memindex "github.com/JakeFAU/sitemap-crawler/internal/index/memory"
	"github.com/JakeFAU/sitemap-crawler/internal/page"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	"github.com/JakeFAU/sitemap-crawler/internal/sitemap"
	memstore "github.com/JakeFAU/sitemap-crawler/internal/storage/memory"
)

const sitemapURL = "https://example.com/sitemap.xml"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeTransport serves canned responses per URL. Successive calls for the
// same URL walk through its response list and then repeat the last one.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string][]crawler.FetchResponse
	calls     map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string][]crawler.FetchResponse),
		calls:     make(map[string]int),
	}
}

func (f *fakeTransport) add(url string, status int, body string) {
	resp := crawler.FetchResponse{URL: url, StatusCode: status, Body: []byte(body), Headers: map[string][]string{}}
	if status == 200 {
		resp.Headers["Content-Type"] = []string{"text/html; charset=utf-8"}
	}
	f.responses[url] = append(f.responses[url], resp)
}

func (f *fakeTransport) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, ok := f.responses[req.URL]
	if !ok {
		return crawler.FetchResponse{}, fmt.Errorf("dial %s: connection refused", req.URL)
	}
	n := f.calls[req.URL]
	f.calls[req.URL] = n + 1
	if n >= len(list) {
		n = len(list) - 1
	}
	return list[n], nil
}

func (f *fakeTransport) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

func (r *recordingEmitter) all() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func sitemapBody(urls ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset>`)
	for _, u := range urls {
		b.WriteString("<url><loc>" + u + "</loc></url>")
	}
	b.WriteString("</urlset>")
	return b.String()
}

func pageBody(title string) string {
	return "<html><head><title>" + title + "</title></head><body></body></html>"
}

type harness struct {
	transport *fakeTransport
	index     *memindex.Index
	events    *recordingEmitter
	rules     []extract.Rule
	deps      Deps
	opts      Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		index:     memindex.New(),
		events:    &recordingEmitter{},
		rules:     []extract.Rule{{Selector: crawler.SelectorSpec{Key: "title", Selector: "title"}}},
	}
	h.opts = Options{
		Sitemaps: []crawler.SitemapSpec{{URL: sitemapURL, Lang: "en", Action: crawler.ActionFetch}},
	}
	return h
}

func (h *harness) run(t *testing.T) (Summary, error) {
	t.Helper()
	engine, err := extract.New(h.rules)
	require.NoError(t, err)
	clock := fixedClock{now: testNow}
	deps := h.deps
	deps.Sitemaps = sitemap.NewReader(h.transport)
	deps.Pages = page.NewFetcher(h.transport, page.Config{}, clock, nil)
	deps.Extractor = engine
	deps.Index = h.index
	deps.Events = h.events
	deps.Clock = clock
	c, err := New(deps, h.opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Run(ctx)
}

func TestRunRoutesNotFoundToDelete(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b, c := "https://example.com/a", "https://example.com/b", "https://example.com/c"
	h.transport.add(sitemapURL, 200, sitemapBody(a, b, c))
	h.transport.add(a, 200, pageBody("A"))
	h.transport.add(b, 404, "")
	h.transport.add(c, 200, pageBody("C"))
	h.index.Put(crawler.NewRecord(crawler.URLEntry{URL: b, Lang: "en"}, testNow.Add(-time.Hour)))

	summary, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Accepted)
	assert.Equal(t, 3, summary.Resolved)
	assert.Equal(t, 2, summary.Upserted)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 1, summary.Warnings)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, int64(0), summary.Purged)

	_, ok := h.index.Get(crawler.ObjectID(b))
	assert.False(t, ok, "404 page must be removed from the index")
	rec, ok := h.index.Get(crawler.ObjectID(a))
	require.True(t, ok)
	assert.Equal(t, "A", rec["title"])
	assert.Equal(t, "en", rec[crawler.FieldLang])
	assert.Equal(t, testNow.UnixMilli(), rec[crawler.FieldTimestamp])

	stages := h.events.stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageCrawlStart, stages[0])
	assert.Equal(t, progress.StageCrawlDone, stages[len(stages)-1])
	fetchDone := 0
	for _, s := range stages {
		if s == progress.StageFetchDone {
			fetchDone++
		}
	}
	assert.Equal(t, 3, fetchDone)
}

func TestRunUsesGeneratedRunID(t *testing.T) {
	t.Parallel()

	want := uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")
	h := newHarness(t)
	h.deps.IDs = &idgen.Generator{Source: func() (uuid.UUID, error) { return want, nil }}
	h.transport.add(sitemapURL, 200, sitemapBody("https://example.com/a"))
	h.transport.add("https://example.com/a", 200, pageBody("A"))

	summary, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, want, summary.RunID)
	for _, evt := range h.events.all() {
		assert.Equal(t, want, evt.RunUUID())
	}
}

func TestRunEmptyCrawlFailsWithoutPurge(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.transport.add(sitemapURL, 200, sitemapBody())
	h.opts.OldEntries = time.Hour
	h.index.Put(crawler.NewRecord(crawler.URLEntry{URL: "https://example.com/stale"}, testNow.Add(-48*time.Hour)))

	summary, err := h.run(t)
	require.ErrorIs(t, err, ErrEmptyCrawl)
	assert.Equal(t, 0, summary.Accepted)
	assert.Equal(t, int64(0), summary.Purged)
	assert.Equal(t, 1, h.index.Len())

	stages := h.events.stages()
	assert.Equal(t, progress.StageCrawlError, stages[len(stages)-1])
}

func TestRunEmptyWhenSitemapUnreachable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.opts.Sitemaps = append(h.opts.Sitemaps, crawler.SitemapSpec{URL: "https://example.com/other.xml", Action: crawler.ActionFetch})
	h.transport.add(sitemapURL, 500, "")

	_, err := h.run(t)
	require.ErrorIs(t, err, ErrEmptyCrawl)
}

func TestRunPurgesOldEntriesAfterCompletion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := "https://example.com/a"
	h.transport.add(sitemapURL, 200, sitemapBody(a))
	h.transport.add(a, 200, pageBody("A"))
	h.index.Put(crawler.NewRecord(crawler.URLEntry{URL: "https://example.com/stale"}, testNow.Add(-48*time.Hour)))
	h.opts.OldEntries = 24 * time.Hour

	summary, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Purged)
	assert.Equal(t, 1, h.index.Len())
	assert.Contains(t, h.events.stages(), progress.StagePurgeDone)
}

func TestRunRetriesHTTPErrorOnce(t *testing.T) {
	t.Parallel()

	a := "https://example.com/a"

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.transport.add(sitemapURL, 200, sitemapBody(a))
		h.transport.add(a, 503, "")
		h.transport.add(a, 200, pageBody("A"))
		h.opts.RetryHTTPErrors = true

		summary, err := h.run(t)
		require.NoError(t, err)
		assert.Equal(t, 2, h.transport.callCount(a))
		assert.Equal(t, 1, summary.Resolved)
		assert.Equal(t, 1, summary.Upserted)
		assert.Equal(t, 0, summary.Errors)
	})

	t.Run("gives up after one retry", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.transport.add(sitemapURL, 200, sitemapBody(a))
		h.transport.add(a, 500, "")
		h.opts.RetryHTTPErrors = true

		summary, err := h.run(t)
		require.NoError(t, err)
		assert.Equal(t, 2, h.transport.callCount(a))
		assert.Equal(t, 1, summary.Resolved)
		assert.Equal(t, 1, summary.Errors)
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.transport.add(sitemapURL, 200, sitemapBody(a))
		h.transport.add(a, 503, "")
		h.transport.add(a, 200, pageBody("A"))

		summary, err := h.run(t)
		require.NoError(t, err)
		assert.Equal(t, 1, h.transport.callCount(a))
		assert.Equal(t, 1, summary.Errors)
		assert.Equal(t, 0, h.index.Len())
	})
}

func TestRunCountsTransportErrorsAndRedirects(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	down, moved := "https://down.example.com/", "https://example.com/moved"
	h.transport.add(sitemapURL, 200, sitemapBody(down, moved))
	h.transport.responses[moved] = []crawler.FetchResponse{{
		StatusCode: 301,
		Headers:    map[string][]string{"Location": {"https://example.com/new"}},
	}}

	summary, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Resolved)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Warnings)
	assert.Equal(t, 0, h.index.Len())
}

func TestRunObjectIDMismatchIsAnError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := "https://example.com/a"
	h.transport.add(sitemapURL, 200, sitemapBody(a))
	h.transport.add(a, 200, pageBody("A"))
	h.index.AckID = func(string) string { return "something-else" }

	summary, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 0, summary.Upserted)
}

func TestRunIndexFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b := "https://example.com/a", "https://example.com/b"
	h.transport.add(sitemapURL, 200, sitemapBody(a, b))
	h.transport.add(a, 200, pageBody("A"))
	h.transport.add(b, 200, pageBody("B"))
	h.index.Err = errors.New("cluster unavailable")
	h.opts.IndexSettings = map[string]any{"refresh_interval": "1s"}

	summary, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Resolved)
	assert.Equal(t, 2, summary.Errors)
}

func TestRunExtractionErrorSkipsUpsert(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := "https://example.com/a"
	h.transport.add(sitemapURL, 200, sitemapBody(a))
	h.transport.add(a, 200, pageBody("A"))
	h.rules = append(h.rules, extract.Rule{Selector: crawler.SelectorSpec{Key: "title", Selector: "h1"}})

	summary, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 0, h.index.Len())
}

func TestRunDeleteSitemapSkipsNetwork(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	gone := "https://example.com/gone"
	h.opts.Sitemaps[0].Action = crawler.ActionDelete
	h.transport.add(sitemapURL, 200, sitemapBody(gone))
	h.index.Put(crawler.NewRecord(crawler.URLEntry{URL: gone}, testNow))

	summary, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 0, summary.Warnings)
	assert.Equal(t, 0, h.transport.callCount(gone))
	assert.Equal(t, 0, h.index.Len())
}

func TestRunFiltersBlacklistAndArchivesPages(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, private := "https://example.com/a", "https://example.com/private?session=1"
	h.transport.add(sitemapURL, 200, sitemapBody(a, private))
	h.transport.add(a, 200, pageBody("A"))
	h.opts.Blacklist = []string{"/private"}
	h.opts.ArchivePrefix = "pages"
	archive := memstore.NewBlobStore()
	h.deps.Archive = archive

	summary, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)
	assert.Equal(t, 1, summary.Filtered)
	assert.Equal(t, 0, h.transport.callCount(private))

	digest, err := sha.New().Hash([]byte(pageBody("A")))
	require.NoError(t, err)
	body, contentType, ok := archive.Get("pages/" + digest + ".html")
	require.True(t, ok)
	assert.Equal(t, pageBody("A"), string(body))
	assert.Equal(t, "text/html; charset=utf-8", contentType)
}

func TestRunTrimsOversizedRecords(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := "https://example.com/a"
	var paragraphs strings.Builder
	for i := 0; i < 50; i++ {
		paragraphs.WriteString("<p>paragraph text</p>")
	}
	h.transport.add(sitemapURL, 200, sitemapBody(a))
	h.transport.add(a, 200, "<html><body>"+paragraphs.String()+"</body></html>")
	h.rules = []extract.Rule{{Selector: crawler.SelectorSpec{Key: "text", Selector: "p"}}}
	h.opts.MaxRecordSize = 400

	summary, err := h.run(t)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Upserted)

	rec, ok := h.index.Get(crawler.ObjectID(a))
	require.True(t, ok)
	text, ok := rec["text"].([]any)
	require.True(t, ok)
	assert.Less(t, len(text), 50)
	assert.NotEmpty(t, text)
}

func TestRunCanBeRepeated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := "https://example.com/a"
	h.transport.add(sitemapURL, 200, sitemapBody(a))
	h.transport.add(a, 200, pageBody("A"))

	engine, err := extract.New(h.rules)
	require.NoError(t, err)
	c, err := New(Deps{
		Sitemaps:  sitemap.NewReader(h.transport),
		Pages:     page.NewFetcher(h.transport, page.Config{}, nil, nil),
		Extractor: engine,
		Index:     h.index,
	}, h.opts)
	require.NoError(t, err)

	first, err := c.Run(context.Background())
	require.NoError(t, err)
	second, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 1, second.Resolved)

	snap := c.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, second.RunID, snap.RunID)
	assert.Equal(t, 1, snap.SitemapsDone)
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.transport.add(sitemapURL, 200, sitemapBody("https://example.com/a"))
	h.opts.Delay = time.Hour
	h.opts.Sitemaps = append(h.opts.Sitemaps, crawler.SitemapSpec{URL: sitemapURL, Action: crawler.ActionFetch})

	engine, err := extract.New(h.rules)
	require.NoError(t, err)
	c, err := New(Deps{
		Sitemaps:  sitemap.NewReader(h.transport),
		Pages:     page.NewFetcher(h.transport, page.Config{}, nil, nil),
		Extractor: engine,
		Index:     h.index,
	}, h.opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = c.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Options{})
	require.Error(t, err)
}
