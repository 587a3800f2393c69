package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/coordinator"
)

type fakeApp struct {
	cfg config.Config

	mu      sync.Mutex
	crawls  int
	closed  int
	served  bool
	summary coordinator.Summary
	err     error
	onCrawl func()
}

func (f *fakeApp) Crawl(context.Context) (coordinator.Summary, error) {
	f.mu.Lock()
	f.crawls++
	hook := f.onCrawl
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.summary, f.err
}

func (f *fakeApp) Serve(ctx context.Context) error {
	f.mu.Lock()
	f.served = true
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakeApp) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeApp) GetConfig() config.Config { return f.cfg }
func (f *fakeApp) GetLogger() *zap.Logger   { return zap.NewNop() }

func (f *fakeApp) counts() (crawls, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.crawls, f.closed
}

// withFakes swaps the config loader and app factory for the duration of a
// test. Tests using it cannot run in parallel.
func withFakes(t *testing.T, cfgErr error, fake *fakeApp) {
	t.Helper()
	origLoad, origNew := loadConfig, newApp
	t.Cleanup(func() { loadConfig, newApp = origLoad, origNew })

	loadConfig = func(string) (config.Config, error) {
		if cfgErr != nil {
			return config.Config{}, cfgErr
		}
		return fake.cfg, nil
	}
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		return fake, nil
	}
}

func execute(ctx context.Context, args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, config.ExitOK},
		{"runtime", errors.New("boom"), config.ExitFailure},
		{"empty crawl", fmt.Errorf("crawl: %w", coordinator.ErrEmptyCrawl), config.ExitEmptyCrawl},
		{"credentials", &config.Error{Category: config.CategoryCredentials, Err: errors.New("x")}, config.ExitMissingCredential},
		{"index", &config.Error{Category: config.CategoryIndex, Err: errors.New("x")}, config.ExitMissingIndex},
		{"sitemaps", &config.Error{Category: config.CategorySitemaps, Err: errors.New("x")}, config.ExitMissingSitemaps},
		{"selectors", &config.Error{Category: config.CategorySelectors, Err: errors.New("x")}, config.ExitMissingSelectors},
		{"wrapped invalid", fmt.Errorf("init: %w", &config.Error{Category: config.CategoryInvalid, Err: errors.New("x")}), config.ExitInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestCrawlCommandRunsOnceAndCloses(t *testing.T) {
	fake := &fakeApp{}
	withFakes(t, nil, fake)

	_, err := execute(context.Background(), "crawl")
	require.NoError(t, err)

	crawls, closed := fake.counts()
	assert.Equal(t, 1, crawls)
	assert.Equal(t, 1, closed)
	assert.True(t, fake.served)
}

func TestCrawlCommandEmptyCrawl(t *testing.T) {
	fake := &fakeApp{err: coordinator.ErrEmptyCrawl}
	withFakes(t, nil, fake)

	_, err := execute(context.Background(), "crawl")
	require.ErrorIs(t, err, coordinator.ErrEmptyCrawl)
	assert.Equal(t, config.ExitEmptyCrawl, exitCode(err))

	_, closed := fake.counts()
	assert.Equal(t, 1, closed)
}

func TestConfigErrorsKeepTheirExitCode(t *testing.T) {
	fake := &fakeApp{}
	withFakes(t, &config.Error{Category: config.CategorySitemaps, Err: errors.New("at least one sitemap is required")}, fake)

	_, err := execute(context.Background(), "crawl", "--config", "missing.yaml")
	require.Error(t, err)
	assert.Equal(t, config.ExitMissingSitemaps, exitCode(err))

	crawls, _ := fake.counts()
	assert.Zero(t, crawls)
}

func TestVersionSkipsInitialization(t *testing.T) {
	fake := &fakeApp{}
	withFakes(t, errors.New("config must not be loaded"), fake)

	out, err := execute(context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sitemap-crawler dev")
}

func TestScheduleRequiresExpression(t *testing.T) {
	fake := &fakeApp{}
	withFakes(t, nil, fake)

	_, err := execute(context.Background(), "schedule")
	require.Error(t, err)
	assert.Equal(t, config.ExitInvalidConfig, exitCode(err))
}

func TestScheduleRejectsBadExpression(t *testing.T) {
	fake := &fakeApp{cfg: config.Config{Schedule: "every tuesday"}}
	withFakes(t, nil, fake)

	_, err := execute(context.Background(), "schedule")
	require.Error(t, err)
	assert.Equal(t, config.ExitInvalidConfig, exitCode(err))
}

func TestScheduleRunNowUntilInterrupted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fake := &fakeApp{cfg: config.Config{Schedule: "@hourly"}, err: coordinator.ErrEmptyCrawl}
	fake.onCrawl = cancel
	withFakes(t, nil, fake)

	_, err := execute(ctx, "schedule", "--run-now")
	require.NoError(t, err)

	crawls, closed := fake.counts()
	assert.Equal(t, 1, crawls)
	assert.Equal(t, 1, closed)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
