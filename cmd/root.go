// Package cmd defines and implements the CLI commands for the sitemap-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/app"
	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/coordinator"
	"github.com/JakeFAU/sitemap-crawler/internal/logging"
)

const closeTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use.
// Tests inject a fake through newApp.
type App interface {
	Crawl(ctx context.Context) (coordinator.Summary, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
	GetConfig() config.Config
	GetLogger() *zap.Logger
}

// loadConfig and newApp are variables so tests can replace them.
var (
	loadConfig = config.Load

	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		a, err := app.NewApp(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
)

type rootOptions struct {
	configFile string
	logDev     bool
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sitemap-crawler",
		Short: "Crawls sitemaps and keeps a search index in sync with them.",
		Long: `sitemap-crawler reads one or more XML sitemaps, fetches every listed page,
extracts configured fields with CSS selectors and upserts one record per page
into a search index. Pages that disappear are removed from the index, and
records older than the retention window are purged after a complete crawl.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Configuration is loaded and services are built before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configFile)
			if err != nil {
				return err
			}
			if opts.logDev {
				cfg.Logging.Development = true
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return &config.Error{Category: config.CategoryInvalid, Err: err}
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML or JSON)")
	cmd.PersistentFlags().BoolVar(&opts.logDev, "log-dev", false, "use the development log encoder")

	cmd.AddCommand(newCrawlCmd(), newScheduleCmd(), newVersionCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// closeApp flushes and releases the app. It runs on a fresh context so an
// interrupted command still drains its progress events.
func closeApp(appInstance App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	logger := appInstance.GetLogger()
	if err := appInstance.Close(ctx); err != nil {
		logger.Warn("failed to close application services", zap.Error(err))
	}
	_ = logger.Sync()
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	var cfgErr *config.Error
	switch {
	case err == nil:
		return config.ExitOK
	case errors.As(err, &cfgErr):
		return cfgErr.Category.ExitCode()
	case errors.Is(err, coordinator.ErrEmptyCrawl):
		return config.ExitEmptyCrawl
	default:
		return config.ExitFailure
	}
}

// Execute runs the root command until it finishes or the process is
// interrupted, and returns the exit status.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitemap-crawler: %v\n", err)
	}
	return exitCode(err)
}
