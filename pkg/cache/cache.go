// Package cache provides the tri-state memoization cell used by backends
// that fetch data asynchronously.
//
// A cell is in one of three states: uncached (no fetch outstanding), waiting
// (exactly one fetch outstanding) and filled. The uncached and waiting states
// retain the last known-good value so that callers always have something to
// display while fresh data is in flight.
package cache

type state uint8

const (
	uncached state = iota
	waiting
	filled
)

// Cell memoizes a value of type T that must be fetched asynchronously.
// The zero value is an empty, uncached cell.
//
// A Cell is not safe for concurrent use; every backend owns its cells and
// accesses them from a single goroutine.
type Cell[T any] struct {
	state state
	// Last known-good value while not filled.
	prev *T
	val  *T
}

// Filled returns a cell that already holds v.
func Filled[T any](v T) Cell[T] {
	return Cell[T]{state: filled, val: &v}
}

// FetchIfNeeded returns the best available value. If the cell is uncached,
// it calls issue, which must eventually lead to Fill being called, and
// transitions to the waiting state; in the waiting state further calls return
// the previous value without issuing another fetch. It never blocks.
//
// The boolean is false if there is no value to return at all.
func (c *Cell[T]) FetchIfNeeded(issue func()) (T, bool) {
	switch c.state {
	case uncached:
		issue()
		c.state = waiting
		return deref(c.prev)
	case waiting:
		return deref(c.prev)
	default:
		return deref(c.val)
	}
}

// Get returns the best available value without triggering a fetch.
func (c *Cell[T]) Get() (T, bool) {
	if c.state == filled {
		return deref(c.val)
	}
	return deref(c.prev)
}

// Fill stores a fresh value, unconditionally moving the cell to the filled
// state. It is called by the code path that handles the matching fetch
// result.
func (c *Cell[T]) Fill(v T) {
	c.val = &v
	c.prev = nil
	c.state = filled
}

// Invalidate collapses any state to uncached, keeping the best available
// value for transient display. Invalidating an uncached cell is a no-op.
func (c *Cell[T]) Invalidate() {
	if c.state == filled {
		c.prev = c.val
		c.val = nil
	}
	c.state = uncached
}

func deref[T any](p *T) (T, bool) {
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
