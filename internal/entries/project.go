package entries

import (
	"time"

	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
)

const (
	// DefaultGroupWindow is the maximum gap between grouped messages.
	DefaultGroupWindow = 5 * time.Minute

	// DefaultMaxGroupSize caps the number of messages in one group.
	DefaultMaxGroupSize = 10
)

// Mode selects how a snapshot is projected.
type Mode struct {
	GroupMessages         bool
	IncludeUnreadMarker   bool
	IncludeChatInfo       bool
	IncludeSearchHeader   bool
	Reverse               bool
	HistoryAppearsCleared bool

	GroupWindow  time.Duration
	MaxGroupSize int
}

// BubbleMode is the chat presentation: grouped, oldest first, with markers.
func BubbleMode() Mode {
	return Mode{
		GroupMessages:       true,
		IncludeUnreadMarker: true,
		IncludeChatInfo:     true,
		GroupWindow:         DefaultGroupWindow,
		MaxGroupSize:        DefaultMaxGroupSize,
	}
}

// ListMode is the flat presentation used by search and media lists: newest first.
func ListMode(search bool) Mode {
	return Mode{
		IncludeSearchHeader: search,
		Reverse:             true,
	}
}

// AssociatedData is per-chat data that affects projection but not history.
type AssociatedData struct {
	ChatInfo  string
	Admins    map[string]bool
	Selection map[models.MessageID]bool
}

// Project turns a snapshot into display entries. It has no side effects.
func Project(snap *history.Snapshot, mode Mode, data AssociatedData) []Entry {
	out := []Entry{}
	if snap == nil || mode.HistoryAppearsCleared {
		return out
	}

	var maxRead *models.MessageIndex
	if mode.IncludeUnreadMarker {
		maxRead = snap.Window.ReadState.MaxReadIndex
	}

	var bucket []Item
	flush := func() {
		switch len(bucket) {
		case 0:
			return
		case 1:
			msg := bucket[0].Message
			out = append(out, Entry{
				Kind:  KindMessage,
				ID:    messageStableID(KindMessage, msg.Index),
				Index: msg.Index,
				Items: bucket,
			})
		default:
			out = append(out, Entry{
				Kind:  KindMessageGroup,
				ID:    messageStableID(KindMessageGroup, bucket[0].Message.Index),
				Index: bucket[len(bucket)-1].Message.Index,
				Items: bucket,
			})
		}
		bucket = nil
	}

	hasMessages := false
	for _, raw := range snap.Entries {
		switch raw.Kind {
		case models.EntryHole:
			if raw.Hole == nil {
				continue
			}
			flush()
			hole := *raw.Hole
			out = append(out, Entry{Kind: KindHole, ID: holeStableID(hole), Index: hole.Max, Hole: &hole})
		case models.EntryMessage:
			msg := raw.Message
			if msg == nil {
				continue
			}
			if action, ok := msg.Action(); ok && action == models.ActionHistoryCleared {
				continue
			}
			hasMessages = true
			item := Item{
				Message:  msg,
				Read:     raw.Read,
				Selected: data.Selection[msg.Index.MessageID()],
				Admin:    data.Admins[msg.Author],
			}
			if mode.GroupMessages && len(bucket) > 0 && canJoin(bucket, item, mode, maxRead) {
				bucket = append(bucket, item)
				continue
			}
			flush()
			bucket = []Item{item}
		}
	}
	flush()

	if maxRead != nil {
		out = insertUnreadMarker(out, *maxRead)
	}
	if mode.IncludeChatInfo && snap.Window.EarlierID == nil && data.ChatInfo != "" {
		info := Entry{Kind: KindChatInfo, ID: chatInfoID, Index: models.LowerBound(), Text: data.ChatInfo}
		out = append([]Entry{info}, out...)
	}
	if mode.IncludeSearchHeader && snap.Window.LaterID == nil && hasMessages {
		out = append(out, Entry{Kind: KindSearchHeader, ID: searchHeaderID, Index: models.UpperBound()})
	}
	if mode.Reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func canJoin(bucket []Item, item Item, mode Mode, maxRead *models.MessageIndex) bool {
	last := bucket[len(bucket)-1].Message
	msg := item.Message

	maxSize := mode.MaxGroupSize
	if maxSize <= 0 {
		maxSize = DefaultMaxGroupSize
	}
	if len(bucket) >= maxSize {
		return false
	}
	if last.Author != msg.Author {
		return false
	}
	if _, ok := last.Action(); ok {
		return false
	}
	if _, ok := msg.Action(); ok {
		return false
	}
	window := mode.GroupWindow
	if window <= 0 {
		window = DefaultGroupWindow
	}
	if time.Duration(msg.Index.Timestamp-last.Index.Timestamp)*time.Second > window {
		return false
	}
	// keep the unread marker on a group boundary
	if maxRead != nil && last.Index.Compare(*maxRead) <= 0 && maxRead.Less(msg.Index) {
		return false
	}
	return true
}

func insertUnreadMarker(list []Entry, maxRead models.MessageIndex) []Entry {
	for i, entry := range list {
		if !maxRead.Less(entry.Index) {
			continue
		}
		if i == 0 && entry.Kind == KindHole {
			return list
		}
		marker := Entry{Kind: KindUnreadMarker, ID: unreadMarkerID, Index: maxRead}
		out := make([]Entry, 0, len(list)+1)
		out = append(out, list[:i]...)
		out = append(out, marker)
		return append(out, list[i:]...)
	}
	return list
}
