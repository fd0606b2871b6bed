package types

// IndexerState is the state of the periodic driver.
type IndexerState string

const (
	// IndexerStateIdle - waiting for the next tick
	IndexerStateIdle IndexerState = "IDLE"

	// IndexerStateIndexing - a cycle is in flight
	IndexerStateIndexing IndexerState = "INDEXING"
)
