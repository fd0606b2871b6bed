package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

func (i *Indexer) startGapAudit(ctx context.Context) (*cron.Cron, error) {
	logger := cronLogger{logger: i.logger.With("job", "gap-audit")}

	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	_, err := c.AddFunc(i.gapAuditSchedule, func() {
		if err := i.auditGaps(ctx); err != nil {
			i.logger.Error("gap audit failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule gap audit: %w", err)
	}

	c.Start()
	i.logger.Info("gap audit scheduled", "schedule", i.gapAuditSchedule)
	return c, nil
}

// auditGaps checks that stored heights are contiguous and start no lower
// than the configured lowest height. Gaps are reported, never repaired.
func (i *Indexer) auditGaps(ctx context.Context) error {
	c, err := i.database.Continuity(ctx)
	if err != nil {
		return fmt.Errorf("failed to read continuity: %w", err)
	}

	missing := c.Missing()
	i.metrics.missingHeights.Set(float64(missing))

	if missing > 0 {
		i.logger.Warn("indexed heights are not contiguous",
			"missing", missing,
			"stored", c.Count,
			"lowest", c.Min,
			"highest", c.Max)
	}
	if c.Count > 0 && c.Min < i.lowestHeight {
		i.logger.Warn("store contains heights below the configured lowest height",
			"lowest", c.Min,
			"configuredLowest", i.lowestHeight)
	}

	return nil
}
