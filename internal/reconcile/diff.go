package reconcile

import (
	"fmt"
	"sort"

	"github.com/tOgg1/chathistory/internal/entries"
)

// Diff computes the transition from previous to next by stable identity.
// A nil previous marks the first transition: every entry is an insertion.
// Duplicate stable ids in either sequence panic.
func Diff(previous, next []entries.Entry, forceUpdateAll bool) Transition {
	t := Transition{Entries: next}
	posInNext := indexByID(next, "next")

	if previous == nil {
		t.Reason = Reason{Kind: ReasonInitial}
		t.Initial = true
		t.Insertions = make([]Insertion, 0, len(next))
		for j, entry := range next {
			t.Insertions = append(t.Insertions, Insertion{Index: j, PreviousIndex: NoPreviousIndex, Entry: entry})
		}
		return t
	}

	posInPrev := indexByID(previous, "previous")

	// previous indices of entries present in both, in next order
	commonPrev := make([]int, 0, len(next))
	commonNext := make([]int, 0, len(next))
	for j, entry := range next {
		if i, ok := posInPrev[entry.ID]; ok {
			commonPrev = append(commonPrev, i)
			commonNext = append(commonNext, j)
		}
	}

	stable := stableSubset(commonPrev)
	moved := make(map[int]bool)
	present := make([]bool, len(next))
	for k, keep := range stable {
		if keep {
			present[commonNext[k]] = true
		} else {
			moved[commonPrev[k]] = true
		}
	}

	for i, entry := range previous {
		if _, ok := posInNext[entry.ID]; !ok || moved[i] {
			t.Deletions = append(t.Deletions, i)
		}
	}

	hints := insertionHints(next, present)
	for j, entry := range next {
		i, inPrev := posInPrev[entry.ID]
		switch {
		case !inPrev:
			t.Insertions = append(t.Insertions, Insertion{Index: j, PreviousIndex: NoPreviousIndex, Entry: entry, Hint: hints[j]})
		case !present[j]:
			t.Insertions = append(t.Insertions, Insertion{Index: j, PreviousIndex: i, Entry: entry, Hint: hints[j]})
		case forceUpdateAll || !previous[i].Equal(entry):
			t.Updates = append(t.Updates, Update{Index: j, PreviousIndex: i, Entry: entry})
		}
	}
	return t
}

// Apply replays a transition against previous and returns the resulting sequence.
func Apply(previous []entries.Entry, t Transition) []entries.Entry {
	deleted := make(map[int]struct{}, len(t.Deletions))
	for _, i := range t.Deletions {
		deleted[i] = struct{}{}
	}
	out := make([]entries.Entry, 0, len(previous)-len(t.Deletions)+len(t.Insertions))
	for i, entry := range previous {
		if _, ok := deleted[i]; !ok {
			out = append(out, entry)
		}
	}
	for _, ins := range t.Insertions {
		if ins.Index > len(out) {
			panic(fmt.Sprintf("reconcile: insertion index %d out of range %d", ins.Index, len(out)))
		}
		out = append(out, entries.Entry{})
		copy(out[ins.Index+1:], out[ins.Index:])
		out[ins.Index] = ins.Entry
	}
	for _, up := range t.Updates {
		out[up.Index] = up.Entry
	}
	return out
}

func indexByID(list []entries.Entry, which string) map[entries.StableID]int {
	pos := make(map[entries.StableID]int, len(list))
	for i, entry := range list {
		if prev, ok := pos[entry.ID]; ok {
			panic(fmt.Sprintf("reconcile: duplicate stable id %s in %s sequence at %d and %d", entry.ID, which, prev, i))
		}
		pos[entry.ID] = i
	}
	return pos
}

// stableSubset marks the entries that keep their relative order. The common
// case is an already increasing sequence; otherwise the longest increasing
// subsequence stays in place and everything else moves.
func stableSubset(seq []int) []bool {
	keep := make([]bool, len(seq))
	increasing := true
	for k := 1; k < len(seq); k++ {
		if seq[k] < seq[k-1] {
			increasing = false
			break
		}
	}
	if increasing {
		for k := range keep {
			keep[k] = true
		}
		return keep
	}

	tails := make([]int, 0, len(seq))
	parent := make([]int, len(seq))
	for k, v := range seq {
		pos := sort.Search(len(tails), func(p int) bool { return seq[tails[p]] >= v })
		if pos > 0 {
			parent[k] = tails[pos-1]
		} else {
			parent[k] = -1
		}
		if pos == len(tails) {
			tails = append(tails, k)
		} else {
			tails[pos] = k
		}
	}
	if len(tails) == 0 {
		return keep
	}
	for k := tails[len(tails)-1]; k >= 0; k = parent[k] {
		keep[k] = true
	}
	return keep
}

// insertionHints compares each entry with its nearest still-present neighbour,
// preferring the preceding one.
func insertionHints(next []entries.Entry, present []bool) []DirectionHint {
	hints := make([]DirectionHint, len(next))
	before := make([]int, len(next))
	last := -1
	for j := range next {
		before[j] = last
		if present[j] {
			last = j
		}
	}
	after := -1
	for j := len(next) - 1; j >= 0; j-- {
		neighbour := before[j]
		if neighbour < 0 {
			neighbour = after
		}
		if present[j] {
			after = j
		}
		if neighbour < 0 || present[j] {
			continue
		}
		if next[j].Index.Less(next[neighbour].Index) {
			hints[j] = HintUp
		} else {
			hints[j] = HintDown
		}
	}
	return hints
}
