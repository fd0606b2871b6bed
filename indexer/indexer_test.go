package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightlink-network/proposer-indexer/database"
	"github.com/lightlink-network/proposer-indexer/database/models"
	"github.com/lightlink-network/proposer-indexer/types"
)

var errUpstream = errors.New("upstream unavailable")

func proposerFor(height int64) string {
	return fmt.Sprintf("P%d", height)
}

// fakeSource serves proposerFor(height) for every height and records what was
// requested.
type fakeSource struct {
	mu          sync.Mutex
	latest      int64
	latestErr   error
	failAt      map[int64]error
	delay       func(height int64) time.Duration
	requested   []int64
	completed   []int64
	inFlight    int
	maxInFlight int
	latestCalls int
}

func (s *fakeSource) FetchLatestHeight(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestCalls++
	return s.latest, s.latestErr
}

func (s *fakeSource) FetchBlockAt(ctx context.Context, height int64) (models.ProposerHeight, error) {
	s.mu.Lock()
	s.requested = append(s.requested, height)
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.completed = append(s.completed, height)
		s.mu.Unlock()
	}()

	if s.delay != nil {
		time.Sleep(s.delay(height))
	}
	if err, ok := s.failAt[height]; ok {
		return models.ProposerHeight{}, err
	}
	return models.ProposerHeight{Height: height, Proposer: proposerFor(height)}, nil
}

func (s *fakeSource) requestedSorted() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]int64(nil), s.requested...)
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// memStore keeps rows in memory and mimics the transactional batch insert:
// a batch touching an existing or conflicting height keeps nothing.
type memStore struct {
	mu        sync.Mutex
	lowest    int64
	rows      map[int64]string
	conflicts map[int64]bool
	batches   [][]models.ProposerHeight
	queryErr  error
	insertErr error
}

func newMemStore(lowest int64) *memStore {
	return &memStore{lowest: lowest, rows: map[int64]string{}, conflicts: map[int64]bool{}}
}

func (m *memStore) seed(from, to int64) {
	for h := from; h <= to; h++ {
		m.rows[h] = proposerFor(h)
	}
}

func (m *memStore) LastIndexedHeight(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return 0, m.queryErr
	}
	last := m.lowest - 1
	for h := range m.rows {
		last = max(last, h)
	}
	return last, nil
}

func (m *memStore) InsertBatch(_ context.Context, records []models.ProposerHeight) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	var inserted int64
	for _, r := range records {
		if _, exists := m.rows[r.Height]; !exists && !m.conflicts[r.Height] {
			inserted++
		}
	}
	if inserted != int64(len(records)) {
		return inserted, nil
	}
	for _, r := range records {
		m.rows[r.Height] = r.Proposer
	}
	m.batches = append(m.batches, records)
	return inserted, nil
}

func (m *memStore) Continuity(context.Context) (models.Continuity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return models.Continuity{}, m.queryErr
	}
	var c models.Continuity
	for h := range m.rows {
		if c.Count == 0 || h < c.Min {
			c.Min = h
		}
		if c.Count == 0 || h > c.Max {
			c.Max = h
		}
		c.Count++
	}
	return c, nil
}

func (m *memStore) heights() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.rows))
	for h := range m.rows {
		out = append(out, h)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func span(from, to int64) []int64 {
	out := []int64{}
	for h := from; h <= to; h++ {
		out = append(out, h)
	}
	return out
}

func newTestIndexer(t *testing.T, source BlockSource, store Store, batchSize int64) *Indexer {
	t.Helper()
	i, err := NewIndexer(IndexerOpts{
		Source:       source,
		Database:     store,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		BatchSize:    batchSize,
		Interval:     time.Minute,
		LowestHeight: 100,
	})
	require.NoError(t, err)
	return i
}

func TestIndexResumesFromCheckpoint(t *testing.T) {
	store := newMemStore(100)
	store.seed(100, 150)
	source := &fakeSource{latest: 154}

	i := newTestIndexer(t, source, store, 5)
	require.NoError(t, i.Index(context.Background()))

	require.Equal(t, span(151, 153), source.requestedSorted())
	require.Equal(t, span(100, 153), store.heights())
}

func TestIndexStartsAtLowestHeightWhenEmpty(t *testing.T) {
	store := newMemStore(100)
	source := &fakeSource{latest: 103}

	i := newTestIndexer(t, source, store, 5)
	require.NoError(t, i.Index(context.Background()))

	require.Equal(t, span(100, 102), store.heights())
}

func TestIndexBatchCompleteness(t *testing.T) {
	store := newMemStore(100)
	source := &fakeSource{latest: 107}

	i := newTestIndexer(t, source, store, 5)
	require.NoError(t, i.Index(context.Background()))

	require.Len(t, store.batches, 2)
	require.Len(t, store.batches[0], 5)
	require.Equal(t, int64(100), store.batches[0][0].Height)
	require.Len(t, store.batches[1], 2)
	require.Equal(t, int64(105), store.batches[1][0].Height)
	require.Equal(t, span(100, 106), store.heights())

	assert.Equal(t, 2.0, testutil.ToFloat64(i.metrics.batches))
	assert.Equal(t, 7.0, testutil.ToFloat64(i.metrics.recordsIndexed))
	assert.Equal(t, 106.0, testutil.ToFloat64(i.metrics.lastIndexedHeight))
}

func TestIndexInsertedIncorrectNumberOfRows(t *testing.T) {
	store := newMemStore(100)
	store.conflicts[107] = true
	source := &fakeSource{latest: 120}

	i := newTestIndexer(t, source, store, 5)
	err := i.Index(context.Background())

	require.ErrorIs(t, err, ErrInsertedIncorrectNumberOfRows)
	require.Equal(t, span(100, 104), store.heights(), "checkpoint stays at the last fully committed batch")

	last, err := store.LastIndexedHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(104), last)
	require.NotContains(t, source.requestedSorted(), int64(110), "cycle aborts after the short batch")
}

func TestIndexNoOpWhenCaughtUp(t *testing.T) {
	store := newMemStore(100)
	store.seed(100, 200)
	source := &fakeSource{latest: 199}

	i := newTestIndexer(t, source, store, 5)
	require.NoError(t, i.Index(context.Background()))

	require.Empty(t, source.requested)
	require.Empty(t, store.batches)
}

func TestIndexOrderIndependence(t *testing.T) {
	store := newMemStore(10)
	source := &fakeSource{
		latest: 13,
		// 12 finishes first, 10 last.
		delay: func(height int64) time.Duration {
			return time.Duration(13-height) * 20 * time.Millisecond
		},
	}

	i := newTestIndexer(t, source, store, 5)
	require.NoError(t, i.Index(context.Background()))

	require.Equal(t, []int64{12, 11, 10}, source.completed)
	require.Len(t, store.batches, 1)
	for idx, r := range store.batches[0] {
		require.Equal(t, int64(10+idx), r.Height)
		require.Equal(t, proposerFor(r.Height), r.Proposer)
	}
}

func TestIndexFetchFailureAbortsBatch(t *testing.T) {
	store := newMemStore(100)
	source := &fakeSource{latest: 120, failAt: map[int64]error{107: errUpstream}}

	i := newTestIndexer(t, source, store, 5)
	err := i.Index(context.Background())

	require.ErrorIs(t, err, ErrFetchBatch)
	require.ErrorIs(t, err, errUpstream)
	require.Equal(t, span(100, 104), store.heights())
	require.Len(t, store.batches, 1)
}

func TestIndexBoundsConcurrency(t *testing.T) {
	store := newMemStore(0)
	source := &fakeSource{
		latest: 40,
		delay:  func(int64) time.Duration { return 5 * time.Millisecond },
	}

	i := newTestIndexer(t, source, store, 3)
	require.NoError(t, i.Index(context.Background()))

	require.LessOrEqual(t, source.maxInFlight, 3)
	require.Equal(t, span(0, 39), store.heights())
}

func TestIndexStoreErrors(t *testing.T) {
	t.Run("checkpoint query", func(t *testing.T) {
		store := newMemStore(100)
		store.queryErr = errors.New("connection reset")
		source := &fakeSource{latest: 120}

		err := newTestIndexer(t, source, store, 5).Index(context.Background())
		require.ErrorIs(t, err, store.queryErr)
		require.Zero(t, source.latestCalls)
	})

	t.Run("insert", func(t *testing.T) {
		store := newMemStore(100)
		store.insertErr = errors.New("disk full")
		source := &fakeSource{latest: 120}

		err := newTestIndexer(t, source, store, 5).Index(context.Background())
		require.ErrorIs(t, err, store.insertErr)
		require.Empty(t, store.heights())
	})

	t.Run("latest height", func(t *testing.T) {
		store := newMemStore(100)
		source := &fakeSource{latestErr: errUpstream}

		err := newTestIndexer(t, source, store, 5).Index(context.Background())
		require.ErrorIs(t, err, errUpstream)
		require.Empty(t, source.requested)
	})
}

func TestNewIndexerValidatesOpts(t *testing.T) {
	base := IndexerOpts{Source: &fakeSource{}, Database: newMemStore(0), BatchSize: 5, Interval: time.Second}

	opts := base
	opts.BatchSize = 0
	_, err := NewIndexer(opts)
	require.Error(t, err)

	opts = base
	opts.BatchSize = database.MaxBatchSize + 1
	_, err = NewIndexer(opts)
	require.Error(t, err)

	opts = base
	opts.Interval = 0
	_, err = NewIndexer(opts)
	require.Error(t, err)

	opts = base
	opts.GapAuditSchedule = "every now and then"
	_, err = NewIndexer(opts)
	require.Error(t, err)

	opts = base
	opts.Source = nil
	_, err = NewIndexer(opts)
	require.Error(t, err)

	i, err := NewIndexer(base)
	require.NoError(t, err)
	require.Equal(t, types.IndexerStateIdle, i.State())
}
