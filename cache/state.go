package cache

import "time"

// Status classifies a query's lifecycle position.
type Status int

const (
	// StatusIdle is a query that has never fetched and holds no data.
	StatusIdle Status = iota

	// StatusLoading is a first fetch in flight, no prior data to show.
	StatusLoading

	// StatusSuccess is a query holding committed data.
	StatusSuccess

	// StatusError is a query whose last fetch failed terminally.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a snapshot of a query's data and bookkeeping. Snapshots are
// values; Data is shared with the cache and must be treated as immutable.
//
// Status transitions are idle -> loading -> {success, error}. A refetch of
// a query that already holds data keeps the prior status and raises
// IsFetching until settlement; only a fetch with no prior data moves the
// status to loading.
type State struct {
	// Status is the lifecycle position.
	Status Status

	// Data is the last committed value. A terminal error does not clear
	// it; stale data stays readable until the next success replaces it.
	Data any

	// Err is the last terminal fetch error, nil after any later success.
	Err error

	// DataUpdateCount counts successful commits, including SetData.
	DataUpdateCount int

	// ErrorUpdateCount counts terminal error commits.
	ErrorUpdateCount int

	// FetchFailureCount counts failed attempts within the current fetch.
	// It resets to zero when a fetch starts and on success.
	FetchFailureCount int

	// IsFetching reports an execution in flight, including retries and
	// pauses.
	IsFetching bool

	// IsInvalidated marks the entry stale regardless of age until the
	// next successful commit.
	IsInvalidated bool

	// DataUpdatedAt is the time of the last successful commit; the zero
	// time means no data has ever been committed. Staleness is measured
	// from it.
	DataUpdatedAt time.Time

	// ErrorUpdatedAt is the time of the last terminal error commit.
	ErrorUpdatedAt time.Time
}

// HasData reports whether the query has ever committed data.
func (s State) HasData() bool {
	return !s.DataUpdatedAt.IsZero()
}
