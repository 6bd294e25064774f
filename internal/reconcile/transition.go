// Package reconcile diffs display entry sequences into list transitions.
package reconcile

import (
	"fmt"

	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
)

// ReasonKind describes why a transition was produced.
type ReasonKind uint8

const (
	ReasonInitial ReasonKind = iota
	ReasonInteractiveChanges
	ReasonHoleChanges
	ReasonReload
)

// Reason is the transition reason. FadeIn only applies to ReasonInitial.
type Reason struct {
	Kind   ReasonKind
	FadeIn bool
}

func (r Reason) String() string {
	switch r.Kind {
	case ReasonInitial:
		if r.FadeIn {
			return "initial_fade_in"
		}
		return "initial"
	case ReasonInteractiveChanges:
		return "interactive_changes"
	case ReasonHoleChanges:
		return "hole_changes"
	case ReasonReload:
		return "reload"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r.Kind))
	}
}

// DirectionHint biases insertion animations.
type DirectionHint uint8

const (
	HintNone DirectionHint = iota
	HintUp
	HintDown
)

func (h DirectionHint) String() string {
	switch h {
	case HintUp:
		return "up"
	case HintDown:
		return "down"
	default:
		return "none"
	}
}

// NoPreviousIndex marks an insertion that did not exist in the previous sequence.
const NoPreviousIndex = -1

// Insertion adds Entry at Index of the next sequence.
type Insertion struct {
	Index         int
	PreviousIndex int
	Entry         entries.Entry
	Hint          DirectionHint
}

// Update replaces the entry at Index of the next sequence.
type Update struct {
	Index         int
	PreviousIndex int
	Entry         entries.Entry
	Hint          DirectionHint
}

// Options are animation flags derived from the reason.
type Options uint8

const (
	OptionAnimateInsertion Options = 1 << iota
	OptionAnimateAlpha
	OptionSynchronous
	OptionLowLatency
)

// Has reports whether o contains flag.
func (o Options) Has(flag Options) bool { return o&flag != 0 }

// OptionsFor maps a reason to its animation options.
func OptionsFor(reason Reason) Options {
	switch reason.Kind {
	case ReasonInitial:
		if reason.FadeIn {
			return OptionAnimateAlpha | OptionLowLatency
		}
		return OptionSynchronous | OptionLowLatency
	case ReasonInteractiveChanges:
		return OptionAnimateInsertion
	case ReasonHoleChanges:
		return OptionLowLatency
	default:
		return 0
	}
}

// ScrollIntent asks the surface to bring Index into view.
type ScrollIntent struct {
	Index    int
	Position history.ScrollPosition
	Animated bool
	Hint     DirectionHint
}

// Transition is the ordered set of list operations turning one entry
// sequence into the next, plus the metadata needed to apply it.
type Transition struct {
	Seq    uint64
	Reason Reason

	// Deletions are indices into the previous sequence, ascending.
	Deletions []int
	// Insertions and Updates are indices into the next sequence, ascending.
	Insertions []Insertion
	Updates    []Update

	ScrollIntent *ScrollIntent
	Options      Options

	Entries   []entries.Entry
	RequestID history.RequestID
	EarlierID *models.MessageIndex
	LaterID   *models.MessageIndex
	ReadState models.ReadState
	SideData  *models.SideData
	Initial   bool
}

// Empty reports whether the transition changes nothing.
func (t *Transition) Empty() bool {
	return len(t.Deletions) == 0 && len(t.Insertions) == 0 && len(t.Updates) == 0 && t.ScrollIntent == nil
}
