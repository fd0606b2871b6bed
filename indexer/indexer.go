package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lightlink-network/proposer-indexer/database"
	"github.com/lightlink-network/proposer-indexer/database/models"
	"github.com/lightlink-network/proposer-indexer/types"
)

var (
	// ErrFetchBatch is returned when any fetch in a batch fails. Nothing from
	// the batch is written.
	ErrFetchBatch = errors.New("could not process responses in parallel")
	// ErrInsertedIncorrectNumberOfRows is returned when the batch insert
	// affected fewer rows than records were fetched.
	ErrInsertedIncorrectNumberOfRows = errors.New("inserted incorrect number of rows")
)

// BlockSource is the upstream RPC the indexer reads from.
type BlockSource interface {
	FetchBlockAt(ctx context.Context, height int64) (models.ProposerHeight, error)
	FetchLatestHeight(ctx context.Context) (int64, error)
}

// Store is the part of database.Database the indexer writes through.
type Store interface {
	LastIndexedHeight(ctx context.Context) (int64, error)
	InsertBatch(ctx context.Context, records []models.ProposerHeight) (int64, error)
	Continuity(ctx context.Context) (models.Continuity, error)
}

type Indexer struct {
	source   BlockSource
	database Store
	metrics  *Metrics
	logger   *slog.Logger

	batchSize        int64
	interval         time.Duration
	lowestHeight     int64
	gapAuditSchedule string

	state atomic.Value
}

type IndexerOpts struct {
	Source   BlockSource
	Database Store
	Metrics  *Metrics
	Logger   *slog.Logger

	// BatchSize bounds both the heights fetched per batch and the fetches in
	// flight at once.
	BatchSize    int64
	Interval     time.Duration
	LowestHeight int64
	// GapAuditSchedule is a cron spec for the contiguity check; empty
	// disables it.
	GapAuditSchedule string
}

func NewIndexer(opts IndexerOpts) (*Indexer, error) {
	if opts.Source == nil {
		return nil, errors.New("block source is required")
	}
	if opts.Database == nil {
		return nil, errors.New("database is required")
	}
	if opts.BatchSize < 1 || opts.BatchSize > database.MaxBatchSize {
		return nil, fmt.Errorf("batch size must be between 1 and %d, got %d", database.MaxBatchSize, opts.BatchSize)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	if opts.GapAuditSchedule != "" {
		if _, err := cron.ParseStandard(opts.GapAuditSchedule); err != nil {
			return nil, fmt.Errorf("invalid gap audit schedule %q: %w", opts.GapAuditSchedule, err)
		}
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}

	i := &Indexer{
		source:           opts.Source,
		database:         opts.Database,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
		batchSize:        opts.BatchSize,
		interval:         opts.Interval,
		lowestHeight:     opts.LowestHeight,
		gapAuditSchedule: opts.GapAuditSchedule,
	}
	i.state.Store(types.IndexerStateIdle)

	return i, nil
}

// State reports whether a cycle is currently running.
func (i *Indexer) State() types.IndexerState {
	return i.state.Load().(types.IndexerState)
}

// Run indexes once immediately and then once per interval until ctx is
// cancelled. Cycles never overlap: the next tick is only read after the
// previous cycle returns. Cycle errors are logged and never stop the loop.
func (i *Indexer) Run(ctx context.Context) error {
	if i.gapAuditSchedule != "" {
		c, err := i.startGapAudit(ctx)
		if err != nil {
			return err
		}
		defer func() { <-c.Stop().Done() }()
	}

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	i.logger.Info("starting indexer",
		"interval", i.interval,
		"batchSize", i.batchSize,
		"lowestHeight", i.lowestHeight)

	for {
		i.cycle(ctx)

		select {
		case <-ctx.Done():
			i.logger.Info("shutting down indexer")
			return nil
		case <-ticker.C:
		}
	}
}

func (i *Indexer) cycle(ctx context.Context) {
	i.state.Store(types.IndexerStateIndexing)
	defer i.state.Store(types.IndexerStateIdle)

	// A started cycle runs to completion even during shutdown.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	err := i.Index(ctx)
	i.metrics.observeCycle(err, time.Since(start))
	if err != nil {
		i.logger.Error("indexing cycle failed", "error", err, "duration", time.Since(start))
	}
}
