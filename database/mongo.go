package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lightlink-network/proposer-indexer/database/models"
)

// errShortBatch aborts the insert transaction when a height already exists.
var errShortBatch = errors.New("batch inserted fewer documents than requested")

// mongoDatabase stores heights in a single collection. Batch inserts run in a
// transaction, so the server must be a replica set (a single-node one is fine).
type mongoDatabase struct {
	client       *mongo.Client
	databaseName string
	lowestHeight int64
	logger       *slog.Logger
}

func newMongo(ctx context.Context, opts DatabaseOpts) (*mongoDatabase, error) {
	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetMaxPoolSize(100).
		SetMinPoolSize(1).
		SetMaxConnecting(10).
		SetServerSelectionTimeout(5 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Batch inserts need transactions, which a standalone server rejects.
	if err := requireTransactions(ctx, client); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := &mongoDatabase{
		client:       client,
		databaseName: opts.DatabaseName,
		lowestHeight: opts.LowestHeight,
		logger:       opts.Logger,
	}

	if err := db.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return db, nil
}

func requireTransactions(ctx context.Context, client *mongo.Client) error {
	var reply bson.M
	err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&reply)
	if err != nil {
		return fmt.Errorf("failed to read server topology: %w", err)
	}
	return checkTopology(reply)
}

// checkTopology accepts replica set members and mongos routers.
func checkTopology(hello bson.M) error {
	if name, ok := hello["setName"].(string); ok && name != "" {
		return nil
	}
	if msg, _ := hello["msg"].(string); msg == "isdbgrid" {
		return nil
	}
	return ErrTransactionsUnsupported
}

func (db *mongoDatabase) collection() *mongo.Collection {
	return db.client.Database(db.databaseName).Collection(proposerHeightTable)
}

func (db *mongoDatabase) createIndexes(ctx context.Context) error {
	_, err := db.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "height", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "proposer", Value: 1}, {Key: "height", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", proposerHeightTable, err)
	}
	return nil
}

func (db *mongoDatabase) LastIndexedHeight(ctx context.Context) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "height", Value: -1}})

	var result models.ProposerHeight
	err := db.collection().FindOne(ctx, bson.D{}, opts).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return db.lowestHeight - 1, nil
		}
		return 0, fmt.Errorf("%w: last indexed height: %w", ErrStoreQuery, err)
	}

	return result.Height, nil
}

func (db *mongoDatabase) InsertBatch(ctx context.Context, records []models.ProposerHeight) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	documents := make([]interface{}, len(records))
	for i, record := range records {
		documents[i] = record
	}

	session, err := db.client.StartSession()
	if err != nil {
		return 0, fmt.Errorf("%w: start session: %w", ErrStoreQuery, err)
	}
	defer session.EndSession(ctx)

	var inserted int64
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		result, err := db.collection().InsertMany(sc, documents, options.InsertMany().SetOrdered(true))
		if err != nil {
			var writeErr mongo.BulkWriteException
			if errors.As(err, &writeErr) && mongo.IsDuplicateKeyError(err) && len(writeErr.WriteErrors) > 0 {
				// Ordered inserts stop at the first failing document.
				inserted = int64(writeErr.WriteErrors[0].Index)
				return nil, errShortBatch
			}
			return nil, err
		}
		inserted = int64(len(result.InsertedIDs))
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, errShortBatch) {
			db.logger.Warn("batch insert hit an existing height, transaction aborted",
				"requested", len(records),
				"inserted", inserted)
			return inserted, nil
		}
		return 0, fmt.Errorf("%w: batch insert: %w", ErrStoreQuery, err)
	}

	return inserted, nil
}

func (db *mongoDatabase) HeightsByProposer(ctx context.Context, proposer string) ([]int64, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "height", Value: 1}}).
		SetProjection(bson.D{{Key: "height", Value: 1}, {Key: "_id", Value: 0}}).
		SetBatchSize(1000)

	cursor, err := db.collection().Find(ctx, bson.D{{Key: "proposer", Value: proposer}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: heights by proposer: %w", ErrStoreQuery, err)
	}
	defer cursor.Close(ctx)

	var results []models.ProposerHeight
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("%w: decode heights: %w", ErrStoreQuery, err)
	}

	heights := make([]int64, len(results))
	for i, r := range results {
		heights[i] = r.Height
	}
	return heights, nil
}

func (db *mongoDatabase) Continuity(ctx context.Context) (models.Continuity, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "min", Value: bson.D{{Key: "$min", Value: "$height"}}},
			{Key: "max", Value: bson.D{{Key: "$max", Value: "$height"}}},
		}}},
	}

	cursor, err := db.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return models.Continuity{}, fmt.Errorf("%w: continuity: %w", ErrStoreQuery, err)
	}
	defer cursor.Close(ctx)

	var results []models.Continuity
	if err := cursor.All(ctx, &results); err != nil {
		return models.Continuity{}, fmt.Errorf("%w: decode continuity: %w", ErrStoreQuery, err)
	}
	if len(results) == 0 {
		return models.Continuity{}, nil
	}
	return results[0], nil
}

func (db *mongoDatabase) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := db.client.Disconnect(ctx); err != nil {
		db.logger.Error("failed to disconnect from database", "error", err)
	}
}
