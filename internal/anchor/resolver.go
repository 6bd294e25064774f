// Package anchor decides where the list scrolls when a transition is applied.
package anchor

import (
	"sync"

	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/reconcile"
	"github.com/tOgg1/chathistory/internal/surface"
)

// ScrollAnchor is the message the user is looking at and its row offset from
// the top of the viewport.
type ScrollAnchor struct {
	Index  models.MessageIndex `yaml:"index"`
	Offset int                 `yaml:"offset"`
}

// Input is everything Resolve needs for one transition.
type Input struct {
	Reason   reconcile.Reason
	Explicit *history.ScrollTarget
	Original *history.ScrollTarget
	Previous []entries.Entry
	Next     []entries.Entry
	Reverse  bool
}

// Resolver owns the last known ScrollAnchor.
type Resolver struct {
	mu     sync.Mutex
	anchor *ScrollAnchor
}

// NewResolver creates a resolver with no anchor.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Anchor returns the last captured anchor.
func (r *Resolver) Anchor() (ScrollAnchor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.anchor == nil {
		return ScrollAnchor{}, false
	}
	return *r.anchor, true
}

// SetAnchor replaces the anchor, e.g. with a persisted position.
func (r *Resolver) SetAnchor(a ScrollAnchor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anchor = &a
}

// Clear drops the anchor.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anchor = nil
}

// Resolve returns the scroll intent for a transition, or nil when the
// surface should keep its position.
func (r *Resolver) Resolve(in Input) *reconcile.ScrollIntent {
	if len(in.Next) == 0 || in.Reason.Kind == reconcile.ReasonInteractiveChanges {
		return nil
	}

	if in.Explicit == nil && in.Original != nil && in.Original.Anchor.Kind == history.AnchorUpperBound && singleHole(in.Previous) {
		target := history.ScrollTarget{Kind: history.TargetIndex, Anchor: history.UpperBoundAnchor(), Position: in.Original.Position}
		return intentFor(target, in.Next, in.Reverse, reconcile.HintDown)
	}

	if in.Explicit != nil {
		return intentFor(*in.Explicit, in.Next, in.Reverse, explicitHint(*in.Explicit))
	}

	r.mu.Lock()
	saved := r.anchor
	r.mu.Unlock()
	if saved == nil {
		return nil
	}
	pos, ok := locate(in.Next, saved.Index)
	if !ok {
		return nil
	}
	return &reconcile.ScrollIntent{
		Index:    pos,
		Position: history.ScrollPosition{Kind: history.PositionTop, Offset: saved.Offset},
	}
}

// Capture recomputes the anchor from what is on screen. offsetOf reports the
// row offset of an entry from the top of the viewport.
func (r *Resolver) Capture(list []entries.Entry, vr surface.VisibleRange, laterID *models.MessageIndex, reverse bool, offsetOf func(int) (int, bool)) {
	if vr.Visible.Empty() || len(list) == 0 {
		return
	}
	newest := len(list) - 1
	if reverse {
		newest = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if laterID == nil && vr.Visible.Contains(newest) {
		r.anchor = nil
		return
	}
	last := vr.Visible.Last
	if last >= len(list) {
		last = len(list) - 1
	}
	for k := vr.Visible.First; k <= last; k++ {
		if !list[k].IsMessage() {
			continue
		}
		offset := 0
		if offsetOf != nil {
			if off, ok := offsetOf(k); ok {
				offset = off
			}
		}
		r.anchor = &ScrollAnchor{Index: list[k].Index, Offset: offset}
		return
	}
}

func singleHole(previous []entries.Entry) bool {
	return len(previous) == 1 && previous[0].Kind == entries.KindHole
}

func explicitHint(target history.ScrollTarget) reconcile.DirectionHint {
	if target.Source == nil {
		return reconcile.HintNone
	}
	if target.Anchor.Resolved().Less(target.Source.Resolved()) {
		return reconcile.HintUp
	}
	return reconcile.HintDown
}

func intentFor(target history.ScrollTarget, next []entries.Entry, reverse bool, hint reconcile.DirectionHint) *reconcile.ScrollIntent {
	pos, ok := targetPosition(target, next, reverse)
	if !ok {
		return nil
	}
	return &reconcile.ScrollIntent{
		Index:    pos,
		Position: target.Position,
		Animated: target.Animated,
		Hint:     hint,
	}
}

func targetPosition(target history.ScrollTarget, next []entries.Entry, reverse bool) (int, bool) {
	n := len(next)
	if n == 0 {
		return 0, false
	}
	// at(k) walks the list oldest first regardless of display order.
	at := func(k int) int {
		if reverse {
			return n - 1 - k
		}
		return k
	}

	if target.Kind == history.TargetUnread {
		for k := 0; k < n; k++ {
			if next[at(k)].Kind == entries.KindUnreadMarker {
				return at(k), true
			}
		}
	}

	switch target.Anchor.Kind {
	case history.AnchorLowerBound:
		return at(0), true
	case history.AnchorUpperBound, history.AnchorUnread:
		return at(n - 1), true
	}

	if pos, ok := locate(next, target.Anchor.Index); ok {
		return pos, true
	}
	for k := 0; k < n; k++ {
		e := next[at(k)]
		if e.IsMessage() && !e.Index.Less(target.Anchor.Index) {
			return at(k), true
		}
	}
	return at(n - 1), true
}

func locate(list []entries.Entry, index models.MessageIndex) (int, bool) {
	id := index.MessageID()
	for i, e := range list {
		if !e.IsMessage() {
			continue
		}
		if e.Index == index || e.Contains(id) {
			return i, true
		}
	}
	return 0, false
}
