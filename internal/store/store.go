// Package store provides the paginated message stores behind the history source.
package store

import (
	"context"
	"errors"

	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
)

// changeBuffer bounds undelivered change notifications. A full buffer means
// a refresh is already pending, so further notifications are dropped.
const changeBuffer = 64

var (
	ErrNotFound  = errors.New("entry not found")
	ErrDuplicate = errors.New("entry already exists")
	ErrClosed    = errors.New("store is closed")
)

// Mutator is implemented by stores that accept history writes.
type Mutator interface {
	Append(ctx context.Context, msg *models.Message) error
	Edit(ctx context.Context, msg *models.Message) error
	InsertHole(ctx context.Context, hole models.Hole) error
	FillHole(ctx context.Context, max models.MessageIndex, msgs []*models.Message) error
	MarkRead(ctx context.Context, index models.MessageIndex) (bool, error)
	SetSideData(ctx context.Context, data *models.SideData) error
}

// HistoryStore is a store that can be both read by a history.Source and written.
type HistoryStore interface {
	history.Store
	Mutator
}

type notifier struct {
	ch chan history.Change
}

func newNotifier() notifier {
	return notifier{ch: make(chan history.Change, changeBuffer)}
}

func (n notifier) notify(kind history.ChangeKind, index models.MessageIndex) {
	select {
	case n.ch <- history.Change{Kind: kind, Index: index}:
	default:
	}
}

// assemble builds the entries of a directional page. before holds entries
// older than the pivot, newest first; after holds the rest, oldest first.
// Both should carry one entry beyond count so the sentinels can be set.
func assemble(dir history.FetchDirection, count int, before, after []models.RawEntry) ([]models.RawEntry, *models.MessageIndex, *models.MessageIndex) {
	var nb, na int
	switch dir {
	case history.FetchEarlier:
		nb = min(len(before), count)
	case history.FetchLater:
		na = min(len(after), count)
	default:
		nb = min(len(before), count/2)
		na = min(len(after), count-nb)
		nb = min(len(before), count-na)
	}

	out := make([]models.RawEntry, 0, nb+na)
	for i := nb - 1; i >= 0; i-- {
		out = append(out, before[i])
	}
	out = append(out, after[:na]...)

	var earlier, later *models.MessageIndex
	if len(before) > nb {
		index := before[nb].Index()
		earlier = &index
	}
	if len(after) > na {
		index := after[na].Index()
		later = &index
	}
	return out, earlier, later
}

// markRead sets the Read flag on messages at or below maxRead.
func markRead(list []models.RawEntry, maxRead *models.MessageIndex) {
	if maxRead == nil {
		return
	}
	for i := range list {
		if list[i].Kind == models.EntryMessage && list[i].Index().Compare(*maxRead) <= 0 {
			list[i].Read = true
		}
	}
}

func cloneSideData(data *models.SideData) *models.SideData {
	if data == nil {
		return nil
	}
	out := *data
	out.Admins = append([]string(nil), data.Admins...)
	if data.PinnedMessage != nil {
		pinned := *data.PinnedMessage
		out.PinnedMessage = &pinned
	}
	return &out
}

func cloneReadState(rs models.ReadState) models.ReadState {
	if rs.MaxReadIndex != nil {
		index := *rs.MaxReadIndex
		rs.MaxReadIndex = &index
	}
	return rs
}

func cloneMessage(msg *models.Message) *models.Message {
	out := *msg
	out.Attributes = append([]models.Attribute(nil), msg.Attributes...)
	out.Media = append([]models.Media(nil), msg.Media...)
	return &out
}
