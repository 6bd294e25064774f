// Package entries projects raw history snapshots into display entries.
package entries

import (
	"fmt"

	"github.com/tOgg1/chathistory/internal/models"
)

// Kind tags the variant carried by an Entry.
type Kind uint8

const (
	KindMessage Kind = iota
	KindMessageGroup
	KindHole
	KindUnreadMarker
	KindChatInfo
	KindSearchHeader
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindMessageGroup:
		return "group"
	case KindHole:
		return "hole"
	case KindUnreadMarker:
		return "unread"
	case KindChatInfo:
		return "chat_info"
	case KindSearchHeader:
		return "search"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// StableID is the identity of an entry across snapshots.
type StableID struct {
	Kind      Kind
	Timestamp int64
	Namespace int32
	ID        int64
}

func (s StableID) String() string {
	return fmt.Sprintf("%s/%d/%d:%d", s.Kind, s.Timestamp, s.Namespace, s.ID)
}

var (
	unreadMarkerID = StableID{Kind: KindUnreadMarker}
	chatInfoID     = StableID{Kind: KindChatInfo}
	searchHeaderID = StableID{Kind: KindSearchHeader}
)

func messageStableID(kind Kind, index models.MessageIndex) StableID {
	return StableID{Kind: kind, Namespace: index.Namespace, ID: index.ID}
}

func holeStableID(hole models.Hole) StableID {
	return StableID{Kind: KindHole, Timestamp: hole.Max.Timestamp, Namespace: hole.Max.Namespace, ID: hole.Max.ID}
}

// Item is one message inside a display entry with its per-message state.
type Item struct {
	Message  *models.Message
	Read     bool
	Selected bool
	Admin    bool
}

func (i Item) equal(o Item) bool {
	return i.Read == o.Read && i.Selected == o.Selected && i.Admin == o.Admin && i.Message.Equal(o.Message)
}

// Entry is a display entry: a message, a group of messages, a hole, or a marker.
type Entry struct {
	Kind  Kind
	ID    StableID
	Index models.MessageIndex

	// Items holds one message for KindMessage and several for KindMessageGroup.
	Items []Item
	Hole  *models.Hole
	Text  string
}

// Messages returns the messages carried by the entry, oldest first.
func (e Entry) Messages() []*models.Message {
	if len(e.Items) == 0 {
		return nil
	}
	out := make([]*models.Message, 0, len(e.Items))
	for _, item := range e.Items {
		out = append(out, item.Message)
	}
	return out
}

// Contains reports whether the entry carries the message with the given id.
func (e Entry) Contains(id models.MessageID) bool {
	for _, item := range e.Items {
		if item.Message.Index.MessageID() == id {
			return true
		}
	}
	return false
}

// IsMessage reports whether the entry carries messages.
func (e Entry) IsMessage() bool {
	return e.Kind == KindMessage || e.Kind == KindMessageGroup
}

// Equal compares two entries by value.
func (e Entry) Equal(o Entry) bool {
	if e.Kind != o.Kind || e.ID != o.ID || e.Index != o.Index || e.Text != o.Text {
		return false
	}
	if (e.Hole == nil) != (o.Hole == nil) || (e.Hole != nil && *e.Hole != *o.Hole) {
		return false
	}
	if len(e.Items) != len(o.Items) {
		return false
	}
	for i := range e.Items {
		if !e.Items[i].equal(o.Items[i]) {
			return false
		}
	}
	return true
}
