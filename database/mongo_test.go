package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightlink-network/proposer-indexer/database/models"
)

func TestCheckTopology(t *testing.T) {
	tests := []struct {
		name  string
		hello bson.M
		err   error
	}{
		{name: "replica set member", hello: bson.M{"isWritablePrimary": true, "setName": "rs0"}},
		{name: "mongos", hello: bson.M{"isWritablePrimary": true, "msg": "isdbgrid"}},
		{name: "standalone", hello: bson.M{"isWritablePrimary": true}, err: ErrTransactionsUnsupported},
		{name: "empty set name", hello: bson.M{"setName": ""}, err: ErrTransactionsUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTopology(tt.hello)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
}

// newTestMongo connects to the replica set in CI_TEST_MONGO_URI and drops the
// collection so every test starts empty.
func newTestMongo(t *testing.T, lowest int64) Database {
	uri := os.Getenv("CI_TEST_MONGO_URI")
	if testing.Short() || uri == "" {
		t.Skip("skipping mongo test: CI_TEST_MONGO_URI not set")
	}

	db, err := NewDatabase(context.Background(), DatabaseOpts{
		Driver:       DriverMongo,
		URI:          uri,
		DatabaseName: "proposer_indexer_test",
		LowestHeight: lowest,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)

	mdb := db.(*mongoDatabase)
	_, err = mdb.collection().DeleteMany(context.Background(), bson.D{})
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return db
}

func TestMongoLastIndexedHeightEmpty(t *testing.T) {
	db := newTestMongo(t, 100)

	height, err := db.LastIndexedHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(99), height)

	c, err := db.Continuity(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.Continuity{}, c)
}

func TestMongoInsertBatch(t *testing.T) {
	ctx := context.Background()
	db := newTestMongo(t, 100)

	inserted, err := db.InsertBatch(ctx, []models.ProposerHeight{
		{Height: 100, Proposer: "AA"},
		{Height: 101, Proposer: "BB"},
		{Height: 102, Proposer: "AA"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), inserted)

	height, err := db.LastIndexedHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(102), height)

	heights, err := db.HeightsByProposer(ctx, "AA")
	require.NoError(t, err)
	require.Equal(t, []int64{100, 102}, heights)

	heights, err = db.HeightsByProposer(ctx, "ZZ")
	require.NoError(t, err)
	require.Empty(t, heights)

	c, err := db.Continuity(ctx)
	require.NoError(t, err)
	require.Equal(t, models.Continuity{Count: 3, Min: 100, Max: 102}, c)
}

func TestMongoInsertBatchConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestMongo(t, 100)

	_, err := db.InsertBatch(ctx, []models.ProposerHeight{{Height: 102, Proposer: "AA"}})
	require.NoError(t, err)

	inserted, err := db.InsertBatch(ctx, []models.ProposerHeight{
		{Height: 100, Proposer: "AA"},
		{Height: 101, Proposer: "BB"},
		{Height: 102, Proposer: "CC"},
		{Height: 103, Proposer: "DD"},
		{Height: 104, Proposer: "EE"},
	})
	require.NoError(t, err)
	// Ordered inserts stop at the duplicate, so the count is its position.
	require.Equal(t, int64(2), inserted)

	c, err := db.Continuity(ctx)
	require.NoError(t, err)
	require.Equal(t, models.Continuity{Count: 1, Min: 102, Max: 102}, c, "short batch must not leave documents behind")

	height, err := db.LastIndexedHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(102), height)
}
