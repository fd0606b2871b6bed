package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOpts bounds how long Connect waits for the store to come up.
type RetryOpts struct {
	Attempts int
	Delay    time.Duration
}

// Connect opens the database, retrying with a fixed delay because the store
// may still be starting when the indexer does (e.g. under docker compose).
// Once all attempts fail it returns ErrStoreUnavailable.
func Connect(ctx context.Context, opts DatabaseOpts, retry RetryOpts) (Database, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return connectWithRetry(ctx, retry, opts.Logger, func(ctx context.Context) (Database, error) {
		return NewDatabase(ctx, opts)
	})
}

func connectWithRetry(
	ctx context.Context,
	retry RetryOpts,
	logger *slog.Logger,
	dial func(context.Context) (Database, error),
) (Database, error) {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retry.Delay), uint64(retry.Attempts-1)),
		ctx,
	)

	var (
		db      Database
		attempt int
	)
	err := backoff.Retry(func() error {
		attempt++
		d, err := dial(ctx)
		if err != nil {
			// Waiting will not change the driver or the server topology.
			if errors.Is(err, ErrUnknownDriver) || errors.Is(err, ErrTransactionsUnsupported) {
				return backoff.Permanent(err)
			}
			logger.Warn("database not reachable",
				"attempt", attempt,
				"maxAttempts", retry.Attempts,
				"error", err)
			return err
		}
		db = d
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrStoreUnavailable, attempt, err)
	}

	logger.Info("connected to database", "attempts", attempt)
	return db, nil
}
