package search

// State is the orchestrator's position in the query lifecycle.
type State int

const (
	// Idle: the query is below the minimum length; no results.
	Idle State = iota
	// Debouncing: waiting out the quiet period after the last change.
	Debouncing
	// Fetching: the search request for the current query is in flight.
	Fetching
	// Settled: results for the current query are available.
	Settled
	// Errored: the last search for the current query failed.
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Fetching:
		return "fetching"
	case Settled:
		return "settled"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// terminal reports whether no further transition happens without a new query.
func (s State) terminal() bool {
	return s == Idle || s == Settled || s == Errored
}
