package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/lightlink-network/proposer-indexer/database/models"
)

type postgresDatabase struct {
	pool         *pgxpool.Pool
	lowestHeight int64
	logger       *slog.Logger
}

// pgxLogger forwards pgx trace output to slog.
type pgxLogger struct {
	logger *slog.Logger
}

func (l *pgxLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	args := make([]any, 0, len(data)*2)
	for k, v := range data {
		args = append(args, k, v)
	}
	l.logger.Log(ctx, slogLevel(level), msg, args...)
}

func slogLevel(level tracelog.LogLevel) slog.Level {
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		return slog.LevelDebug
	case tracelog.LogLevelInfo:
		return slog.LevelInfo
	case tracelog.LogLevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func newPostgres(ctx context.Context, opts DatabaseOpts) (*postgresDatabase, error) {
	config, err := pgxpool.ParseConfig(opts.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database uri: %w", err)
	}

	// "Info" would log every statement.
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		LogLevel: tracelog.LogLevelWarn,
		Logger:   &pgxLogger{logger: opts.Logger.With("db", config.ConnConfig.Database)},
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// The pool connects lazily, so ping to find out whether the server is up.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &postgresDatabase{
		pool:         pool,
		lowestHeight: opts.LowestHeight,
		logger:       opts.Logger,
	}, nil
}

func (db *postgresDatabase) LastIndexedHeight(ctx context.Context) (int64, error) {
	var height *int64
	err := db.pool.QueryRow(ctx, "SELECT max(height) FROM "+proposerHeightTable).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("%w: last indexed height: %w", ErrStoreQuery, err)
	}
	if height == nil {
		return db.lowestHeight - 1, nil
	}
	return *height, nil
}

func (db *postgresDatabase) InsertBatch(ctx context.Context, records []models.ProposerHeight) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query, args := buildInsertBatch(records)

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin batch insert: %w", ErrStoreQuery, err)
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: batch insert: %w", ErrStoreQuery, err)
	}

	inserted := tag.RowsAffected()
	if inserted != int64(len(records)) {
		db.logger.Warn("batch insert affected fewer rows than requested, rolling back",
			"requested", len(records),
			"inserted", inserted)
		return inserted, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit batch insert: %w", ErrStoreQuery, err)
	}

	return inserted, nil
}

// buildInsertBatch renders one multi-row insert with a placeholder pair per
// record. Heights that already exist are skipped so the affected-row count
// exposes the conflict instead of failing the statement.
func buildInsertBatch(records []models.ProposerHeight) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(records)*2)

	sb.WriteString("INSERT INTO " + proposerHeightTable + " (height, proposer) VALUES ")
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($" + strconv.Itoa(2*i+1) + ", $" + strconv.Itoa(2*i+2) + ")")
		args = append(args, r.Height, r.Proposer)
	}
	sb.WriteString(" ON CONFLICT (height) DO NOTHING")

	return sb.String(), args
}

func (db *postgresDatabase) HeightsByProposer(ctx context.Context, proposer string) ([]int64, error) {
	rows, err := db.pool.Query(ctx,
		"SELECT height FROM "+proposerHeightTable+" WHERE proposer = $1 ORDER BY height",
		proposer)
	if err != nil {
		return nil, fmt.Errorf("%w: heights by proposer: %w", ErrStoreQuery, err)
	}
	defer rows.Close()

	heights := []int64{}
	for rows.Next() {
		var height int64
		if err := rows.Scan(&height); err != nil {
			return nil, fmt.Errorf("%w: scan height: %w", ErrStoreQuery, err)
		}
		heights = append(heights, height)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: heights by proposer: %w", ErrStoreQuery, err)
	}

	return heights, nil
}

func (db *postgresDatabase) Continuity(ctx context.Context) (models.Continuity, error) {
	var c models.Continuity
	err := db.pool.QueryRow(ctx,
		"SELECT count(*), coalesce(min(height), 0), coalesce(max(height), 0) FROM "+proposerHeightTable,
	).Scan(&c.Count, &c.Min, &c.Max)
	if err != nil {
		return models.Continuity{}, fmt.Errorf("%w: continuity: %w", ErrStoreQuery, err)
	}
	return c, nil
}

func (db *postgresDatabase) Close() {
	db.pool.Close()
}
