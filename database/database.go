package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightlink-network/proposer-indexer/database/models"
)

const (
	// DriverPostgres selects the PostgreSQL backend.
	DriverPostgres = "postgres"
	// DriverMongo selects the MongoDB backend.
	DriverMongo = "mongo"

	proposerHeightTable = "proposer_to_height"

	defaultTimeout = 10 * time.Second

	// MaxBatchSize keeps a batch insert within Postgres's 65535 bind
	// parameters at two parameters per record.
	MaxBatchSize = 32767
)

var (
	// ErrStoreQuery is returned when a read or write against the store fails.
	ErrStoreQuery = errors.New("store query failed")
	// ErrStoreUnavailable is returned by Connect once every attempt has failed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnknownDriver is returned for a driver name other than postgres or mongo.
	ErrUnknownDriver = errors.New("unknown database driver")
	// ErrTransactionsUnsupported is returned when a Mongo server is neither a
	// replica set member nor a mongos router.
	ErrTransactionsUnsupported = errors.New("mongo server does not support transactions, a replica set is required")
)

// Database is the checkpoint store and read model shared by the indexer and
// the statistics API.
type Database interface {
	// LastIndexedHeight returns max(height), or LowestHeight-1 when nothing
	// has been indexed yet.
	LastIndexedHeight(ctx context.Context) (int64, error)

	// InsertBatch writes all records in a single statement and reports how
	// many rows it inserted. The write is only committed when every record
	// was inserted; a short count means nothing from this batch was kept.
	InsertBatch(ctx context.Context, records []models.ProposerHeight) (int64, error)

	// HeightsByProposer lists, in ascending order, every height proposed by
	// the given validator.
	HeightsByProposer(ctx context.Context, proposer string) ([]int64, error)

	// Continuity summarises the stored heights for gap detection.
	Continuity(ctx context.Context) (models.Continuity, error)

	Close()
}

type DatabaseOpts struct {
	Driver       string
	URI          string
	DatabaseName string
	LowestHeight int64
	Logger       *slog.Logger
}

// NewDatabase opens the configured backend and verifies it is reachable.
func NewDatabase(ctx context.Context, opts DatabaseOpts) (Database, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		db  Database
		err error
	)
	switch opts.Driver {
	case DriverPostgres, "":
		db, err = newPostgres(ctx, opts)
	case DriverMongo:
		db, err = newMongo(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}
