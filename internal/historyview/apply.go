package historyview

import (
	"context"

	"github.com/tOgg1/chathistory/internal/anchor"
	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/events"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/reconcile"
	"github.com/tOgg1/chathistory/internal/surface"
	"github.com/tOgg1/chathistory/internal/visibility"
)

// Everything below runs on the UI goroutine.

func (c *Controller) enqueue(t reconcile.Transition, meta pendingMeta) {
	t.ScrollIntent = c.resolver.Resolve(anchor.Input{
		Reason:   t.Reason,
		Explicit: meta.explicit,
		Original: meta.original,
		Previous: meta.previous,
		Next:     t.Entries,
		Reverse:  c.cfg.Mode.Reverse,
	})
	c.pending[t.Seq] = meta
	c.seq.Enqueue(t)
}

// Layout reports a layout pass of the surface. The first one mounts the view.
func (c *Controller) Layout() {
	c.seq.Layout()
}

// VisibleRangeChanged must be called when scrolling or resizing changed the
// visible range of the surface.
func (c *Controller) VisibleRangeChanged(vr surface.VisibleRange) {
	if !c.seq.Mounted() || len(c.applied) == 0 {
		return
	}
	c.resolver.Capture(c.applied, vr, c.view.LaterID, c.cfg.Mode.Reverse, c.deps.Surface.OffsetOf)
	c.tracker.OnVisibleRangeChanged(vr, c.view)
	c.setAtLatest(vr)
}

func (c *Controller) onBuffered(t reconcile.Transition) {
	c.setLoadState(loadStateFor(t.Entries))
	c.setHistoryState(t)
}

func (c *Controller) onApplied(t reconcile.Transition, vr surface.VisibleRange) {
	meta := c.pending[t.Seq]
	delete(c.pending, t.Seq)

	c.applied = t.Entries
	c.readState = t.ReadState
	c.view = visibility.View{
		Entries:   t.Entries,
		EarlierID: t.EarlierID,
		LaterID:   t.LaterID,
		First:     meta.first,
		Last:      meta.last,
		Reverse:   c.cfg.Mode.Reverse,
	}
	c.hasApplied.Store(true)

	if !c.initialSent {
		c.initialSent = true
		ev := events.New(events.TypeInitialData, c.cfg.ViewID, c.cfg.Chat)
		ev.LoadState = loadStateFor(t.Entries)
		ev.Index = t.ReadState.MaxReadIndex
		if t.SideData != nil {
			ev.Message = t.SideData.Title
		}
		c.publish(ev)
	}
	c.setLoadState(loadStateFor(t.Entries))
	c.setHistoryState(t)

	if intent := t.ScrollIntent; intent != nil && meta.explicit != nil && intent.Index < len(t.Entries) {
		ev := events.New(events.TypeScrolledToIndex, c.cfg.ViewID, c.cfg.Chat)
		index := t.Entries[intent.Index].Index
		ev.Index = &index
		c.publish(ev)
	}

	if meta.freshPage {
		c.tracker.ResetPagination()
	}
	c.resolver.Capture(t.Entries, vr, t.LaterID, c.cfg.Mode.Reverse, c.deps.Surface.OffsetOf)
	c.tracker.OnVisibleRangeChanged(vr, c.view)
	c.setAtLatest(vr)
}

func (c *Controller) onLoading() {
	if c.hasApplied.Load() {
		return
	}
	c.setLoadState(events.LoadStateLoading)
}

func (c *Controller) onFailed(err error) {
	c.tracker.ResetPagination()
	ev := events.New(events.TypeHistoryFailed, c.cfg.ViewID, c.cfg.Chat)
	ev.Message = err.Error()
	ev.LoadState = c.loadState
	c.publish(ev)
}

func (c *Controller) onMaxVisibleIndex(index models.MessageIndex) {
	ev := events.New(events.TypeMaxVisibleIndex, c.cfg.ViewID, c.cfg.Chat)
	ev.Index = &index
	c.publish(ev)
}

func (c *Controller) setLoadState(state events.LoadState) {
	if state == c.loadState {
		return
	}
	c.loadState = state
	ev := events.New(events.TypeLoadState, c.cfg.ViewID, c.cfg.Chat)
	ev.LoadState = state
	c.publish(ev)
}

func (c *Controller) setHistoryState(t reconcile.Transition) {
	next := historyState{atEarliest: t.EarlierID == nil, atLatest: t.LaterID == nil}
	if c.history != nil && *c.history == next {
		return
	}
	c.history = &next
	ev := events.New(events.TypeHistoryState, c.cfg.ViewID, c.cfg.Chat)
	ev.AtEarliest = next.atEarliest
	ev.AtLatest = next.atLatest
	c.publish(ev)
}

// setAtLatest publishes whether the newest message of the chat is on screen.
func (c *Controller) setAtLatest(vr surface.VisibleRange) {
	n := len(c.applied)
	at := c.view.LaterID == nil
	switch {
	case !at || n == 0:
	case vr.Visible.Empty():
		at = false
	case c.cfg.Mode.Reverse:
		at = vr.Visible.First == 0
	default:
		at = vr.Visible.Last >= n-1
	}
	if c.atLatest != nil && *c.atLatest == at {
		return
	}
	c.atLatest = &at
	ev := events.New(events.TypeScrolledToLatest, c.cfg.ViewID, c.cfg.Chat)
	ev.AtLatest = at
	c.publish(ev)
}

func (c *Controller) publish(ev *events.Event) {
	if c.deps.Publisher == nil {
		return
	}
	c.deps.Publisher.Publish(context.Background(), ev)
}

// loadStateFor reports loading while only placeholders are shown.
func loadStateFor(list []entries.Entry) events.LoadState {
	if len(list) == 0 {
		return events.LoadStateEmpty
	}
	for _, e := range list {
		if e.Kind != entries.KindHole {
			return events.LoadStateMessages
		}
	}
	return events.LoadStateLoading
}
