package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/coordinator"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type scheduleOptions struct {
	expr   string
	runNow bool
}

// newScheduleCmd creates the 'schedule' subcommand, which repeats the crawl
// on a cron expression until interrupted.
func newScheduleCmd() *cobra.Command {
	opts := &scheduleOptions{}
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs the crawl on a cron schedule",
		Long: `Runs the crawl every time the cron expression fires, until the process is
interrupted. A crawl that is still running when the next tick fires is not
overlapped; that tick is skipped. The expression comes from --cron or the
"schedule" configuration key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleCommand(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.expr, "cron", "", "cron expression, overrides the schedule config key")
	cmd.Flags().BoolVar(&opts.runNow, "run-now", false, "also crawl once immediately on start")
	return cmd
}

func runScheduleCommand(cmd *cobra.Command, opts *scheduleOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(appInstance)
	logger := appInstance.GetLogger().Named("scheduler")

	expr := strings.TrimSpace(opts.expr)
	if expr == "" {
		expr = strings.TrimSpace(appInstance.GetConfig().Schedule)
	}
	if expr == "" {
		return &config.Error{Category: config.CategoryInvalid, Err: errors.New("schedule requires a cron expression")}
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return &config.Error{Category: config.CategoryInvalid, Err: fmt.Errorf("parse schedule %q: %w", expr, err)}
	}

	ctx := cmd.Context()
	job := crawlJob{ctx: ctx, app: appInstance, logger: logger}
	cronLog := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	c.Schedule(schedule, job)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return appInstance.Serve(gctx)
	})

	if opts.runNow {
		job.Run()
	}
	c.Start()
	logger.Info("scheduler started", zap.String("schedule", expr), zap.Time("next", schedule.Next(time.Now())))

	<-gctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	logger.Info("scheduler stopped")

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// crawlJob runs one crawl per cron tick. Failures are logged; the schedule
// keeps going.
type crawlJob struct {
	ctx    context.Context
	app    App
	logger *zap.Logger
}

func (j crawlJob) Run() {
	if j.ctx.Err() != nil {
		return
	}
	summary, err := j.app.Crawl(j.ctx)
	switch {
	case err == nil:
		j.logger.Info("scheduled crawl finished",
			zap.Stringer("run_id", summary.RunID),
			zap.Int("resolved", summary.Resolved),
			zap.Int("errors", summary.Errors),
		)
	case errors.Is(err, coordinator.ErrEmptyCrawl):
		j.logger.Warn("scheduled crawl found no urls", zap.Stringer("run_id", summary.RunID))
	case errors.Is(err, context.Canceled):
		j.logger.Info("scheduled crawl interrupted", zap.Stringer("run_id", summary.RunID))
	default:
		j.logger.Error("scheduled crawl failed", zap.Stringer("run_id", summary.RunID), zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
