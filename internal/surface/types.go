// Package surface contains the list rendering surface driven by the sequencer.
package surface

import "fmt"

// Range is an inclusive index range. An empty range has Last < First.
type Range struct {
	First int
	Last  int
}

// EmptyRange returns a range that contains nothing.
func EmptyRange() Range { return Range{First: 0, Last: -1} }

// Empty reports whether the range contains no index.
func (r Range) Empty() bool { return r.Last < r.First }

// Len returns the number of indices in the range.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return r.Last - r.First + 1
}

// Contains reports whether i lies in the range.
func (r Range) Contains(i int) bool { return !r.Empty() && i >= r.First && i <= r.Last }

func (r Range) String() string {
	if r.Empty() {
		return "[]"
	}
	return fmt.Sprintf("[%d..%d]", r.First, r.Last)
}

// VisibleRange is reported by the surface after every layout pass. Indices
// are positions in the applied entry sequence.
type VisibleRange struct {
	Loaded  Range
	Visible Range
}
