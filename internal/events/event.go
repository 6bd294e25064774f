package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/chathistory/internal/models"
)

// Type identifies a view event.
type Type string

const (
	// TypeInitialData fires once, when the first transition is applied.
	TypeInitialData Type = "initial_data"
	// TypeLoadState fires when the view switches between loading, empty and populated.
	TypeLoadState Type = "load_state"
	// TypeHistoryState fires when the view reaches or leaves either end of history.
	TypeHistoryState Type = "history_state"
	// TypeScrolledToIndex fires after an explicit scroll target was applied.
	TypeScrolledToIndex Type = "scrolled_to_index"
	// TypeMaxVisibleIndex fires when the newest visible message changes.
	TypeMaxVisibleIndex Type = "max_visible_index"
	// TypeScrolledToLatest fires when the newest message of the chat comes
	// into or leaves the viewport.
	TypeScrolledToLatest Type = "scrolled_to_latest"
	// TypeHistoryFailed fires when the store fails to answer a request.
	TypeHistoryFailed Type = "history_failed"
)

// LoadState is the coarse loading state of a view.
type LoadState string

const (
	LoadStateLoading  LoadState = "loading"
	LoadStateEmpty    LoadState = "empty"
	LoadStateMessages LoadState = "messages"
)

// Event is a notification emitted by a history view.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	View      string    `json:"view"`
	Chat      string    `json:"chat"`
	Timestamp time.Time `json:"timestamp"`

	Index      *models.MessageIndex `json:"index,omitempty"`
	LoadState  LoadState            `json:"load_state,omitempty"`
	AtEarliest bool                 `json:"at_earliest,omitempty"`
	AtLatest   bool                 `json:"at_latest,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// New creates an event stamped with a fresh id and the current time.
func New(typ Type, view, chat string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      typ,
		View:      view,
		Chat:      chat,
		Timestamp: time.Now().UTC(),
	}
}
