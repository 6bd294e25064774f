// Package history maintains the windowed view over a paginated message store.
package history

import (
	"fmt"

	"github.com/tOgg1/chathistory/internal/models"
)

const (
	// HistoryPageSize is the number of entries fetched per window extension.
	HistoryPageSize = 200

	// InitialPageSize is the number of entries fetched by the first load.
	InitialPageSize = 60

	// DefaultMaxWindow bounds the number of raw entries kept in memory.
	DefaultMaxWindow = 3 * HistoryPageSize
)

// RequestID identifies a location request. IDs grow monotonically per source.
type RequestID uint64

// AnchorKind selects how an Anchor resolves to a history position.
type AnchorKind uint8

const (
	AnchorMessage AnchorKind = iota
	AnchorLowerBound
	AnchorUpperBound
	// AnchorUnread resolves to the first unread message, or the upper bound.
	AnchorUnread
)

// Anchor is a position in history.
type Anchor struct {
	Kind  AnchorKind
	Index models.MessageIndex
}

// MessageAnchor anchors at a concrete message index.
func MessageAnchor(index models.MessageIndex) Anchor {
	return Anchor{Kind: AnchorMessage, Index: index}
}

// LowerBoundAnchor anchors at the start of history.
func LowerBoundAnchor() Anchor { return Anchor{Kind: AnchorLowerBound, Index: models.LowerBound()} }

// UpperBoundAnchor anchors at the end of history.
func UpperBoundAnchor() Anchor { return Anchor{Kind: AnchorUpperBound, Index: models.UpperBound()} }

// Resolved returns the concrete index the anchor compares as.
func (a Anchor) Resolved() models.MessageIndex {
	switch a.Kind {
	case AnchorLowerBound:
		return models.LowerBound()
	case AnchorUpperBound, AnchorUnread:
		return models.UpperBound()
	default:
		return a.Index
	}
}

func (a Anchor) String() string {
	switch a.Kind {
	case AnchorLowerBound:
		return "lower_bound"
	case AnchorUpperBound:
		return "upper_bound"
	case AnchorUnread:
		return "unread"
	default:
		return a.Index.String()
	}
}

// PositionKind selects where a scroll target lands in the viewport.
type PositionKind uint8

const (
	PositionTop PositionKind = iota
	PositionCenter
	PositionBottom
	// PositionVisible scrolls the minimum amount needed to show the item.
	PositionVisible
)

// ScrollPosition is a placement inside the viewport with a row offset.
type ScrollPosition struct {
	Kind   PositionKind
	Offset int
}

// TargetKind tags a ScrollTarget.
type TargetKind uint8

const (
	TargetIndex TargetKind = iota
	TargetUnread
	TargetRestore
)

// ScrollTarget is an explicit scroll request carried by a snapshot.
type ScrollTarget struct {
	Kind     TargetKind
	Anchor   Anchor
	Source   *Anchor
	Position ScrollPosition
	Animated bool
}

// LocationKind tags a Location.
type LocationKind uint8

const (
	LocationInitial LocationKind = iota
	LocationNavigation
	LocationScroll
	LocationRestore
)

func (k LocationKind) String() string {
	switch k {
	case LocationInitial:
		return "initial"
	case LocationNavigation:
		return "navigation"
	case LocationScroll:
		return "scroll"
	case LocationRestore:
		return "restore"
	default:
		return fmt.Sprintf("location(%d)", uint8(k))
	}
}

// Location describes which part of history to load.
type Location struct {
	Kind     LocationKind
	Count    int
	// Toward fixes the side a Navigation extends. FetchAround infers it
	// from where Anchor sits relative to the window.
	Toward   FetchDirection
	Anchor   Anchor
	To       Anchor
	Source   *Anchor
	Position ScrollPosition
	Animated bool
}

// Initial loads count entries anchored at the unread or latest position.
func Initial(count int) Location {
	return Location{Kind: LocationInitial, Count: count, Anchor: Anchor{Kind: AnchorUnread}}
}

// Navigation extends the current window toward anchor by count entries.
func Navigation(anchor Anchor, count int) Location {
	return Location{Kind: LocationNavigation, Count: count, Anchor: anchor}
}

// NavigateEarlier extends the window before its first entry.
func NavigateEarlier(anchor Anchor, count int) Location {
	loc := Navigation(anchor, count)
	loc.Toward = FetchEarlier
	return loc
}

// NavigateLater extends the window after its last entry.
func NavigateLater(anchor Anchor, count int) Location {
	loc := Navigation(anchor, count)
	loc.Toward = FetchLater
	return loc
}

// Scroll jumps to an arbitrary target. The window is reloaded around anchor
// when to lies outside the current window.
func Scroll(to, anchor Anchor, source *Anchor, position ScrollPosition, animated bool) Location {
	return Location{
		Kind:     LocationScroll,
		Count:    HistoryPageSize,
		Anchor:   anchor,
		To:       to,
		Source:   source,
		Position: position,
		Animated: animated,
	}
}

// Restore loads the window around a saved position and scrolls back to it.
func Restore(index models.MessageIndex, offset int, count int) Location {
	return Location{
		Kind:     LocationRestore,
		Count:    count,
		Anchor:   MessageAnchor(index),
		To:       MessageAnchor(index),
		Position: ScrollPosition{Kind: PositionTop, Offset: offset},
	}
}
