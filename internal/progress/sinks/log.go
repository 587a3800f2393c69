package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/progress"
)

// LogSink writes run-level progress events at info level and per-page events
// at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", uuid.UUID(evt.RunID)),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			s.logger.Debug("progress event", append(fields,
				zap.String("site", evt.Site),
				zap.String("url", evt.URL),
				zap.String("outcome", evt.Outcome),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageSitemapDone:
			s.logger.Info("progress event", append(fields,
				zap.String("sitemap", evt.URL),
				zap.Int64("accepted", evt.Count),
				zap.Int64("filtered", evt.Filtered),
			)...)
		default:
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("progress event", append(fields,
				zap.Int64("count", evt.Count),
				zap.Duration("dur", evt.Dur),
			)...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
