package reconcile

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/models"
)

func entry(id int64, ts int64) entries.Entry {
	idx := models.MessageIndex{Timestamp: ts, Namespace: 1, ID: id}
	return entries.Entry{
		Kind:  entries.KindMessage,
		ID:    entries.StableID{Kind: entries.KindMessage, Namespace: 1, ID: id},
		Index: idx,
		Items: []entries.Item{{Message: &models.Message{Index: idx, Author: "alice", Text: "hi"}}},
	}
}

func ids(list []entries.Entry) []entries.StableID {
	out := make([]entries.StableID, 0, len(list))
	for _, e := range list {
		out = append(out, e.ID)
	}
	return out
}

func TestDiffIdempotent(t *testing.T) {
	a := []entries.Entry{entry(1, 10), entry(2, 20), entry(3, 30)}

	tr := Diff(a, a, false)

	require.Empty(t, tr.Deletions)
	require.Empty(t, tr.Insertions)
	require.Empty(t, tr.Updates)
}

func TestDiffScenarioA(t *testing.T) {
	prev := []entries.Entry{entry(1, 10), entry(2, 20), entry(3, 30)}
	next := []entries.Entry{entry(1, 10), entry(3, 30), entry(4, 25)}

	tr := Diff(prev, next, false)

	require.Equal(t, []int{1}, tr.Deletions)
	require.Len(t, tr.Insertions, 1)
	require.Equal(t, 2, tr.Insertions[0].Index)
	require.Equal(t, NoPreviousIndex, tr.Insertions[0].PreviousIndex)
	require.Equal(t, int64(4), tr.Insertions[0].Entry.ID.ID)
	require.Equal(t, HintUp, tr.Insertions[0].Hint)
	require.Empty(t, tr.Updates)
	require.Equal(t, ids(next), ids(Apply(prev, tr)))
}

func TestDiffForceUpdateAll(t *testing.T) {
	a := []entries.Entry{entry(1, 10), entry(2, 20), entry(3, 30)}

	tr := Diff(a, a, true)

	require.Empty(t, tr.Deletions)
	require.Empty(t, tr.Insertions)
	require.Len(t, tr.Updates, 3)
	for i, up := range tr.Updates {
		require.Equal(t, i, up.Index)
		require.Equal(t, i, up.PreviousIndex)
		require.Equal(t, a[i].ID, up.Entry.ID)
	}
}

func TestDiffUpdateOnContentChange(t *testing.T) {
	prev := []entries.Entry{entry(1, 10), entry(2, 20)}
	edited := entry(2, 20)
	edited.Items[0].Message.Revision = 1
	next := []entries.Entry{entry(1, 10), edited}

	tr := Diff(prev, next, false)

	require.Empty(t, tr.Deletions)
	require.Empty(t, tr.Insertions)
	require.Len(t, tr.Updates, 1)
	require.Equal(t, 1, tr.Updates[0].Index)
	require.Equal(t, 1, tr.Updates[0].PreviousIndex)
}

func TestDiffInitialHasOnlyInsertions(t *testing.T) {
	next := []entries.Entry{entry(1, 10), entry(2, 20)}

	tr := Diff(nil, next, false)

	require.True(t, tr.Initial)
	require.Equal(t, ReasonInitial, tr.Reason.Kind)
	require.Empty(t, tr.Deletions)
	require.Len(t, tr.Insertions, 2)
	require.Equal(t, ids(next), ids(Apply(nil, tr)))
}

func TestDiffInsertionHints(t *testing.T) {
	prev := []entries.Entry{entry(2, 20), entry(3, 30)}
	next := []entries.Entry{entry(1, 10), entry(2, 20), entry(3, 30), entry(4, 40)}

	tr := Diff(prev, next, false)

	require.Len(t, tr.Insertions, 2)
	require.Equal(t, HintUp, tr.Insertions[0].Hint)
	require.Equal(t, HintDown, tr.Insertions[1].Hint)
}

func TestDiffMovedEntryCarriesPreviousIndex(t *testing.T) {
	prev := []entries.Entry{entry(1, 10), entry(2, 20), entry(3, 30)}
	next := []entries.Entry{entry(2, 20), entry(3, 30), entry(1, 10)}

	tr := Diff(prev, next, false)

	require.Equal(t, []int{0}, tr.Deletions)
	require.Len(t, tr.Insertions, 1)
	require.Equal(t, 2, tr.Insertions[0].Index)
	require.Equal(t, 0, tr.Insertions[0].PreviousIndex)
	require.Equal(t, ids(next), ids(Apply(prev, tr)))
}

func TestDiffDuplicateStableIDPanics(t *testing.T) {
	dup := []entries.Entry{entry(1, 10), entry(1, 10)}

	require.Panics(t, func() { Diff(nil, dup, false) })
	require.Panics(t, func() { Diff(dup, []entries.Entry{entry(1, 10)}, false) })
}

func TestDiffRoundTripAndCoordinateSplit(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomSeq := func() []entries.Entry {
		n := rng.Intn(30)
		perm := rng.Perm(40)[:n]
		out := make([]entries.Entry, 0, n)
		for _, id := range perm {
			e := entry(int64(id), int64(id*10))
			if rng.Intn(4) == 0 {
				e.Items[0].Read = true
			}
			out = append(out, e)
		}
		return out
	}

	for round := 0; round < 200; round++ {
		a, b := randomSeq(), randomSeq()
		tr := Diff(a, b, false)

		for _, d := range tr.Deletions {
			require.GreaterOrEqual(t, d, 0)
			require.Less(t, d, len(a))
		}
		for _, ins := range tr.Insertions {
			require.Less(t, ins.Index, len(b))
			require.Equal(t, b[ins.Index].ID, ins.Entry.ID)
		}
		for _, up := range tr.Updates {
			require.Less(t, up.Index, len(b))
			require.Less(t, up.PreviousIndex, len(a))
			require.Equal(t, a[up.PreviousIndex].ID, up.Entry.ID)
		}

		got := Apply(a, tr)
		require.Equal(t, ids(b), ids(got), "round %d", round)
		for i := range b {
			require.True(t, b[i].Equal(got[i]), "round %d index %d", round, i)
		}
	}
}

func TestOptionsFor(t *testing.T) {
	require.True(t, OptionsFor(Reason{Kind: ReasonInteractiveChanges}).Has(OptionAnimateInsertion))
	require.True(t, OptionsFor(Reason{Kind: ReasonInitial, FadeIn: true}).Has(OptionAnimateAlpha))
	require.True(t, OptionsFor(Reason{Kind: ReasonInitial}).Has(OptionSynchronous))
	require.Equal(t, Options(0), OptionsFor(Reason{Kind: ReasonReload}))
}
