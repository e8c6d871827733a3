package internal

import "github.com/cachekit/stripekv/lib/store"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTLoad     QueryType = iota // Retrieve an entry by key.
	QueryTLoadAll                   // Retrieve all entries.
	QueryTLoadN                     // Retrieve up to N entries.
	QueryTLoadKeys                  // Retrieve all keys, minus an exclusion set.
	QueryTInfo                      // Retrieve metadata about the store behind the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTLoad:
		return "Load"
	case QueryTLoadAll:
		return "LoadAll"
	case QueryTLoadN:
		return "LoadN"
	case QueryTLoadKeys:
		return "LoadKeys"
	case QueryTInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or ReadStale
type Query struct {
	Type       QueryType           // The type of Query to perform.
	Key        string              // The key for the Query (empty for aggregate queries).
	MaxEntries int                 // Entry bound for LoadN (negative means no bound).
	Exclude    map[string]struct{} // Keys to omit for LoadKeys.
}

// LoadResult is the result of a QueryTLoad operation.
type LoadResult struct {
	Entry store.Entry
	Found bool
}

// InfoResult is the result of a QueryTInfo operation.
type InfoResult struct {
	TotalLockCount int
}
