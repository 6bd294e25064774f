package history

import (
	"context"

	"github.com/tOgg1/chathistory/internal/models"
)

// FetchDirection selects which side of the anchor a fetch reads.
type FetchDirection uint8

const (
	// FetchAround reads entries on both sides of the anchor.
	FetchAround FetchDirection = iota
	// FetchEarlier reads entries strictly before the anchor.
	FetchEarlier
	// FetchLater reads entries strictly after the anchor.
	FetchLater
	// FetchRange reads every entry between Min and Max inclusive.
	FetchRange
)

// FetchRequest is a windowed range query against the store.
type FetchRequest struct {
	Direction FetchDirection
	Anchor    Anchor
	Count     int
	Min       Anchor
	Max       Anchor
}

// Page is the store's answer to a FetchRequest.
type Page struct {
	Entries []models.RawEntry
	// EarlierID is the index of the nearest entry before Entries, nil at the start of history.
	EarlierID *models.MessageIndex
	// LaterID is the index of the nearest entry after Entries, nil at the end of history.
	LaterID *models.MessageIndex
	// UnreadAnchor is set when an AnchorUnread request resolved to an unread message.
	UnreadAnchor *models.MessageIndex
	ReadState    models.ReadState
	SideData     *models.SideData
}

// ChangeKind describes a store mutation.
type ChangeKind uint8

const (
	ChangeAppended ChangeKind = iota
	ChangeEdited
	ChangeHoleFilled
	ChangeReadState
)

// Change is a notification that stored history changed.
type Change struct {
	Kind  ChangeKind
	Index models.MessageIndex
}

// Store is the paginated message store consumed by Source.
type Store interface {
	// Fetch answers a windowed range query. Entries are sorted by index.
	Fetch(ctx context.Context, req FetchRequest) (Page, error)

	// CachedSideData returns side data known without a full fetch, or nil.
	CachedSideData(ctx context.Context) (*models.SideData, error)

	// Changes streams mutation notifications. May return nil.
	Changes() <-chan Change
}
