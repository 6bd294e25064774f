package anchor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/reconcile"
	"github.com/tOgg1/chathistory/internal/surface"
)

func idx(ts int64) models.MessageIndex {
	return models.MessageIndex{Timestamp: ts, Namespace: 1, ID: ts}
}

func msgEntry(ts int64) entries.Entry {
	return entries.Entry{
		Kind:  entries.KindMessage,
		ID:    entries.StableID{Kind: entries.KindMessage, Namespace: 1, ID: ts},
		Index: idx(ts),
		Items: []entries.Item{{Message: &models.Message{Index: idx(ts)}}},
	}
}

func holeEntry() entries.Entry {
	hole := models.Hole{Min: models.LowerBound(), Max: models.UpperBound()}
	return entries.Entry{Kind: entries.KindHole, ID: entries.StableID{Kind: entries.KindHole}, Index: hole.Max, Hole: &hole}
}

func TestResolveHoleFilledReanchorsToBottom(t *testing.T) {
	r := NewResolver()
	original := &history.ScrollTarget{Kind: history.TargetIndex, Anchor: history.UpperBoundAnchor(), Position: history.ScrollPosition{Kind: history.PositionBottom}}
	next := []entries.Entry{msgEntry(1), msgEntry(2), msgEntry(3)}

	intent := r.Resolve(Input{
		Reason:   reconcile.Reason{Kind: reconcile.ReasonHoleChanges},
		Original: original,
		Previous: []entries.Entry{holeEntry()},
		Next:     next,
	})

	require.NotNil(t, intent)
	require.Equal(t, 2, intent.Index)
	require.Equal(t, history.PositionBottom, intent.Position.Kind)
	require.Equal(t, reconcile.HintDown, intent.Hint)
}

func TestResolveHoleFilledWithoutUpperBoundTargetKeepsPosition(t *testing.T) {
	r := NewResolver()
	original := &history.ScrollTarget{Kind: history.TargetIndex, Anchor: history.MessageAnchor(idx(2))}

	intent := r.Resolve(Input{
		Reason:   reconcile.Reason{Kind: reconcile.ReasonHoleChanges},
		Original: original,
		Previous: []entries.Entry{holeEntry()},
		Next:     []entries.Entry{msgEntry(1), msgEntry(2)},
	})

	require.Nil(t, intent)
}

func TestResolveInteractiveChangesNeverScrolls(t *testing.T) {
	r := NewResolver()
	r.SetAnchor(ScrollAnchor{Index: idx(1)})
	explicit := &history.ScrollTarget{Anchor: history.UpperBoundAnchor()}

	intent := r.Resolve(Input{
		Reason:   reconcile.Reason{Kind: reconcile.ReasonInteractiveChanges},
		Explicit: explicit,
		Next:     []entries.Entry{msgEntry(1)},
	})

	require.Nil(t, intent)
}

func TestResolveExplicitWinsOverAnchor(t *testing.T) {
	r := NewResolver()
	r.SetAnchor(ScrollAnchor{Index: idx(1), Offset: 3})
	source := history.MessageAnchor(idx(3))
	explicit := &history.ScrollTarget{Anchor: history.MessageAnchor(idx(2)), Source: &source, Animated: true}

	intent := r.Resolve(Input{
		Reason:   reconcile.Reason{Kind: reconcile.ReasonReload},
		Explicit: explicit,
		Next:     []entries.Entry{msgEntry(1), msgEntry(2), msgEntry(3)},
	})

	require.NotNil(t, intent)
	require.Equal(t, 1, intent.Index)
	require.True(t, intent.Animated)
	require.Equal(t, reconcile.HintUp, intent.Hint)
}

func TestResolveExplicitReverseOrder(t *testing.T) {
	r := NewResolver()
	next := []entries.Entry{msgEntry(3), msgEntry(2), msgEntry(1)}

	lower := r.Resolve(Input{Reason: reconcile.Reason{Kind: reconcile.ReasonReload}, Explicit: &history.ScrollTarget{Anchor: history.LowerBoundAnchor()}, Next: next, Reverse: true})
	upper := r.Resolve(Input{Reason: reconcile.Reason{Kind: reconcile.ReasonReload}, Explicit: &history.ScrollTarget{Anchor: history.UpperBoundAnchor()}, Next: next, Reverse: true})
	nearest := r.Resolve(Input{Reason: reconcile.Reason{Kind: reconcile.ReasonReload}, Explicit: &history.ScrollTarget{Anchor: history.MessageAnchor(models.MessageIndex{Timestamp: 2, Namespace: 1, ID: 99})}, Next: next, Reverse: true})

	require.Equal(t, 2, lower.Index)
	require.Equal(t, 0, upper.Index)
	require.Equal(t, 0, nearest.Index)
}

func TestResolveUnreadTargetsMarker(t *testing.T) {
	r := NewResolver()
	marker := entries.Entry{Kind: entries.KindUnreadMarker, ID: entries.StableID{Kind: entries.KindUnreadMarker}, Index: idx(1)}
	next := []entries.Entry{msgEntry(1), marker, msgEntry(2)}

	intent := r.Resolve(Input{
		Reason:   reconcile.Reason{Kind: reconcile.ReasonInitial},
		Explicit: &history.ScrollTarget{Kind: history.TargetUnread, Anchor: history.MessageAnchor(idx(2))},
		Next:     next,
	})

	require.NotNil(t, intent)
	require.Equal(t, 1, intent.Index)
}

func TestResolveFromCapturedAnchor(t *testing.T) {
	r := NewResolver()
	list := []entries.Entry{msgEntry(1), msgEntry(2), msgEntry(3), msgEntry(4)}
	later := idx(5)

	r.Capture(list, surface.VisibleRange{Visible: surface.Range{First: 1, Last: 2}}, &later, false, func(i int) (int, bool) { return -2, true })
	got, ok := r.Anchor()
	require.True(t, ok)
	require.Equal(t, idx(2), got.Index)
	require.Equal(t, -2, got.Offset)

	next := []entries.Entry{msgEntry(0), msgEntry(1), msgEntry(2), msgEntry(3)}
	intent := r.Resolve(Input{Reason: reconcile.Reason{Kind: reconcile.ReasonReload}, Previous: list, Next: next})
	require.NotNil(t, intent)
	require.Equal(t, 2, intent.Index)
	require.Equal(t, -2, intent.Position.Offset)

	gone := r.Resolve(Input{Reason: reconcile.Reason{Kind: reconcile.ReasonReload}, Previous: list, Next: []entries.Entry{msgEntry(7)}})
	require.Nil(t, gone)
}

func TestCaptureAtBottomClearsAnchor(t *testing.T) {
	r := NewResolver()
	r.SetAnchor(ScrollAnchor{Index: idx(1)})
	list := []entries.Entry{msgEntry(1), msgEntry(2)}

	r.Capture(list, surface.VisibleRange{Visible: surface.Range{First: 0, Last: 1}}, nil, false, nil)

	_, ok := r.Anchor()
	require.False(t, ok)
}
