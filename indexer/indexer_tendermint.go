package indexer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lightlink-network/proposer-indexer/database/models"
)

// Index runs one indexing cycle. The starting height is always derived from
// the store, so a crashed or failed cycle is simply retried from the same
// checkpoint. Batches of up to batchSize heights are fetched in parallel and
// written with one insert each until the upstream latest height is reached.
func (i *Indexer) Index(ctx context.Context) error {
	lastIndexed, err := i.database.LastIndexedHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to find indexed height: %w", err)
	}
	next := lastIndexed + 1

	latest, err := i.source.FetchLatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest height: %w", err)
	}

	if next > latest {
		i.logger.Info("nothing to index", "nextHeight", next, "chainHead", latest)
		return nil
	}

	for next < latest {
		end := min(next+i.batchSize, latest)

		i.logger.Info("processing blocks",
			"startBlock", next,
			"endBlock", end-1,
			"batchSize", end-next,
			"chainHead", latest)

		records, err := i.fetchBatch(ctx, next, end)
		if err != nil {
			return err
		}

		inserted, err := i.database.InsertBatch(ctx, records)
		if err != nil {
			return fmt.Errorf("failed to insert heights [%d, %d): %w", next, end, err)
		}
		if inserted != int64(len(records)) {
			return fmt.Errorf("%w: heights [%d, %d) inserted %d of %d",
				ErrInsertedIncorrectNumberOfRows, next, end, inserted, len(records))
		}

		i.metrics.observeBatch(records)
		i.logger.Debug("batch complete", "blocksProcessed", inserted, "lastIndexedHeight", end-1)

		next = end
	}

	return nil
}

// fetchBatch fetches [start, end) with at most batchSize requests in flight.
// Results are placed by height, so completion order does not matter. The
// first failure cancels the remaining requests and fails the whole batch.
func (i *Indexer) fetchBatch(ctx context.Context, start, end int64) ([]models.ProposerHeight, error) {
	records := make([]models.ProposerHeight, end-start)

	g, fetchCtx := errgroup.WithContext(ctx)
	g.SetLimit(int(i.batchSize))

	for height := start; height < end; height++ {
		g.Go(func() error {
			record, err := i.source.FetchBlockAt(fetchCtx, height)
			if err != nil {
				return err
			}
			records[height-start] = record
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: heights [%d, %d): %w", ErrFetchBatch, start, end, err)
	}

	return records, nil
}
