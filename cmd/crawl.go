package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-crawler/internal/coordinator"
)

// newCrawlCmd creates the 'crawl' subcommand, which performs a single crawl.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl of the configured sitemaps",
		Long: `Reads every configured sitemap, fetches the accepted pages and syncs the
index. The status server, when configured, runs for the duration of the crawl.
Exits with status 7 when no sitemap yielded a usable URL.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(appInstance)
	logger := appInstance.GetLogger()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return appInstance.Serve(gctx)
	})

	var summary coordinator.Summary
	g.Go(func() error {
		// The server only lives as long as the crawl.
		defer cancel()
		var crawlErr error
		summary, crawlErr = appInstance.Crawl(gctx)
		return crawlErr
	})

	err = g.Wait()
	if err != nil {
		if errors.Is(err, context.Canceled) && cmd.Context().Err() != nil {
			logger.Warn("crawl interrupted", zap.Stringer("run_id", summary.RunID))
			return nil
		}
		return fmt.Errorf("crawl: %w", err)
	}

	logger.Info("crawl command finished",
		zap.Stringer("run_id", summary.RunID),
		zap.Int("resolved", summary.Resolved),
		zap.Int("errors", summary.Errors),
	)
	return nil
}
