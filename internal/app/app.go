// Package app builds the long-lived services of a crawler process from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/api"
	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/coordinator"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/dnscache"
	"github.com/JakeFAU/sitemap-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/sitemap-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/sitemap-crawler/internal/hash/sha256"
	esindex "github.com/JakeFAU/sitemap-crawler/internal/index/elasticsearch"
	memindex "github.com/JakeFAU/sitemap-crawler/internal/index/memory"
	idgen "github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitemap-crawler/internal/page"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	"github.com/JakeFAU/sitemap-crawler/internal/progress/sinks"
	"github.com/JakeFAU/sitemap-crawler/internal/sitemap"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/gcs"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/local"
	memstore "github.com/JakeFAU/sitemap-crawler/internal/storage/memory"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/postgres"
	"github.com/JakeFAU/sitemap-crawler/internal/store"
)

const dnsCacheTTL = 5 * time.Minute

// App holds the services shared by every crawl of the process.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Index       crawler.Index
	Archive     crawler.BlobStore
	Runs        store.RunRepository
	Registry    *prometheus.Registry
	Hub         *progress.Hub
	Coordinator *coordinator.Coordinator
	Server      *api.Server

	closers []func() error
}

// NewApp wires every service described by cfg. It fails fast: a service that
// cannot be initialized aborts startup and releases what was already built.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.closeResources()
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	engine, err := extract.New(rules)
	if err != nil {
		return nil, &config.Error{Category: config.CategoryInvalid, Err: err}
	}

	if a.Index, err = buildIndex(cfg, logger.Named("index")); err != nil {
		return nil, err
	}
	if err = a.buildArchive(ctx); err != nil {
		return nil, err
	}
	if err = a.buildLedger(ctx); err != nil {
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics sink: %w", err)
	}
	a.Hub = progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(a.Runs, cfg.App, logger.Named("ledger")),
	)

	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
		DialContext:   a.buildDialer(cfg.HTTP.DNSCache),
		MaxBodySize:   cfg.HTTP.MaxBodySize,
	})
	headers := http.Header(cfg.HTTP.HeaderMap())
	reader := sitemap.NewReader(transport,
		sitemap.WithAuth(cfg.HTTP.Auth),
		sitemap.WithHeaders(headers),
		sitemap.WithLogger(logger.Named("sitemap")),
	)
	pages := page.NewFetcher(transport, page.Config{Auth: cfg.HTTP.Auth, Headers: headers}, crawler.SystemClock{}, logger.Named("page"))

	deps := coordinator.Deps{
		Sitemaps:  reader,
		Pages:     pages,
		Extractor: engine,
		Index:     a.Index,
		Events:    a.Hub,
		IDs:       idgen.New(),
		Logger:    logger.Named("coordinator"),
	}
	if a.Archive != nil {
		deps.Archive = a.Archive
		deps.Hasher = sha256.New()
	}
	a.Coordinator, err = coordinator.New(deps, coordinator.Options{
		Sitemaps:        cfg.Sitemaps,
		Blacklist:       cfg.Blacklist,
		IndexSettings:   cfg.Index.Settings,
		MaxRecordSize:   cfg.MaxRecordSize,
		OverflowField:   cfg.OverflowField,
		Concurrency:     cfg.Concurrency,
		Delay:           cfg.DelayBetweenRequests,
		OldEntries:      cfg.OldEntries,
		RetryHTTPErrors: cfg.HTTP.RetryHTTPErrors,
		ArchivePrefix:   cfg.Archive.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init coordinator: %w", err)
	}

	if cfg.Server.Addr != "" {
		if a.Server, err = api.NewServer(a.Coordinator, a.Runs, a.Registry, logger.Named("api")); err != nil {
			return nil, fmt.Errorf("init status server: %w", err)
		}
	}

	logger.Info("application services initialized",
		zap.String("app", cfg.App),
		zap.String("index", cfg.Index.Name),
		zap.String("index_provider", cfg.Index.Provider),
		zap.String("archive_provider", cfg.Archive.Provider),
		zap.Bool("ledger", cfg.Ledger.DSN != ""),
	)
	return a, nil
}

func buildIndex(cfg config.Config, logger *zap.Logger) (crawler.Index, error) {
	switch cfg.Index.Provider {
	case config.IndexProviderMemory:
		logger.Warn("using in-memory index; records are discarded on exit")
		return memindex.New(), nil
	case config.IndexProviderElasticsearch:
		idx, err := esindex.New(esindex.Config{
			Addresses: cfg.Cred.Addresses,
			Username:  cfg.Cred.Username,
			Password:  cfg.Cred.Password,
			APIKey:    cfg.Cred.APIKey,
			Index:     cfg.Index.Name,
			Timeout:   cfg.HTTP.Timeout,
		}, logger)
		if err != nil {
			return nil, &config.Error{Category: config.CategoryCredentials, Err: err}
		}
		return idx, nil
	default:
		return nil, &config.Error{Category: config.CategoryIndex, Err: fmt.Errorf("unknown index provider %q", cfg.Index.Provider)}
	}
}

func (a *App) buildArchive(ctx context.Context) error {
	switch a.Config.Archive.Provider {
	case "":
		return nil
	case config.ArchiveProviderLocal:
		blob, err := local.New(local.Config{BaseDir: a.Config.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.Archive = blob
	case config.ArchiveProviderGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		blob, err := gcs.New(client, gcs.Config{Bucket: a.Config.Archive.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.Archive = blob
	default:
		return fmt.Errorf("unknown archive provider %q", a.Config.Archive.Provider)
	}
	return nil
}

func (a *App) buildLedger(ctx context.Context) error {
	if a.Config.Ledger.DSN == "" {
		a.Runs = memstore.NewRunStore()
		return nil
	}
	runs, err := postgres.NewRunStore(ctx, postgres.Config{DSN: a.Config.Ledger.DSN})
	if err != nil {
		return fmt.Errorf("init run ledger: %w", err)
	}
	a.closers = append(a.closers, func() error {
		runs.Close()
		return nil
	})
	a.Runs = runs
	return nil
}

func (a *App) buildDialer(useCache bool) collyfetcher.DialFunc {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if !useCache {
		return dialer.DialContext
	}
	resolver := dnscache.New(net.DefaultResolver, dnsCacheTTL)
	ctx, cancel := context.WithCancel(context.Background())
	go resolver.Run(ctx)
	a.closers = append(a.closers, func() error {
		cancel()
		return nil
	})
	return resolver.DialContext(dialer)
}

// Crawl runs one crawl with the configured coordinator.
func (a *App) Crawl(ctx context.Context) (coordinator.Summary, error) {
	return a.Coordinator.Run(ctx)
}

// GetConfig returns the configuration the services were built from.
func (a *App) GetConfig() config.Config {
	return a.Config
}

// GetLogger returns the process logger.
func (a *App) GetLogger() *zap.Logger {
	return a.Logger
}

// Serve runs the status server until ctx ends. It returns immediately when no
// server address is configured.
func (a *App) Serve(ctx context.Context) error {
	if a.Server == nil {
		return nil
	}
	return a.Server.Serve(ctx, a.Config.Server.Addr)
}

// Close flushes progress events and releases every service. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.Hub = nil
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
