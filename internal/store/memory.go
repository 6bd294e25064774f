package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
)

// FetchHook runs before a MemoryStore answers a fetch. Returning an error
// fails the fetch; blocking delays it.
type FetchHook func(ctx context.Context, req history.FetchRequest) error

// MemoryStore is an in-memory history of a single chat.
// Entries are kept sorted by index; holes sort by their upper bound.
type MemoryStore struct {
	mu         sync.Mutex
	entries    []models.RawEntry
	read       models.ReadState
	side       *models.SideData
	cachedSide bool
	hook       FetchHook
	changes    notifier
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{changes: newNotifier()}
}

// SetFetchHook installs a hook run before every fetch.
func (s *MemoryStore) SetFetchHook(hook FetchHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Changes implements history.Store.
func (s *MemoryStore) Changes() <-chan history.Change {
	return s.changes.ch
}

// CachedSideData implements history.Store.
func (s *MemoryStore) CachedSideData(ctx context.Context) (*models.SideData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cachedSide {
		return nil, nil
	}
	return cloneSideData(s.side), nil
}

// Fetch implements history.Store.
func (s *MemoryStore) Fetch(ctx context.Context, req history.FetchRequest) (history.Page, error) {
	if err := ctx.Err(); err != nil {
		return history.Page{}, err
	}
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return history.Page{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := history.Page{
		ReadState: cloneReadState(s.read),
		SideData:  cloneSideData(s.side),
	}
	n := len(s.entries)

	if req.Direction == history.FetchRange {
		lo := s.search(req.Min.Resolved(), false)
		hi := s.search(req.Max.Resolved(), true)
		if hi < lo {
			hi = lo
		}
		page.Entries = append([]models.RawEntry(nil), s.entries[lo:hi]...)
		if lo > 0 {
			index := s.entries[lo-1].Index()
			page.EarlierID = &index
		}
		if hi < n {
			index := s.entries[hi].Index()
			page.LaterID = &index
		}
		markRead(page.Entries, s.read.MaxReadIndex)
		return page, nil
	}

	count := req.Count
	if count <= 0 {
		count = history.HistoryPageSize
	}
	pivot, unread := s.pivot(req.Anchor)
	p := s.search(pivot, req.Direction == history.FetchLater)

	before := make([]models.RawEntry, 0, count+1)
	for i := p - 1; i >= 0 && len(before) <= count; i-- {
		before = append(before, s.entries[i])
	}
	after := s.entries[p:min(n, p+count+1)]

	page.Entries, page.EarlierID, page.LaterID = assemble(req.Direction, count, before, after)
	page.UnreadAnchor = unread
	markRead(page.Entries, s.read.MaxReadIndex)
	return page, nil
}

// pivot resolves an anchor to a concrete index. AnchorUnread resolves to the
// first message above the read index, or to the end of history.
func (s *MemoryStore) pivot(anchor history.Anchor) (models.MessageIndex, *models.MessageIndex) {
	if anchor.Kind != history.AnchorUnread {
		return anchor.Resolved(), nil
	}
	if s.read.MaxReadIndex != nil {
		for _, entry := range s.entries[s.search(*s.read.MaxReadIndex, true):] {
			if entry.Kind == models.EntryMessage {
				index := entry.Message.Index
				return index, &index
			}
		}
	}
	return models.UpperBound(), nil
}

// search returns the position of the first entry at or above index, or
// strictly above it when strict is set.
func (s *MemoryStore) search(index models.MessageIndex, strict bool) int {
	return sort.Search(len(s.entries), func(i int) bool {
		c := s.entries[i].Index().Compare(index)
		if strict {
			return c > 0
		}
		return c >= 0
	})
}

// Append inserts a new message.
func (s *MemoryStore) Append(_ context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertLocked(models.MessageEntry(cloneMessage(msg), false)); err != nil {
		return err
	}
	if msg.Incoming() && (s.read.MaxReadIndex == nil || s.read.MaxReadIndex.Less(msg.Index)) {
		s.read.UnreadCount++
	}
	s.changes.notify(history.ChangeAppended, msg.Index)
	return nil
}

// Edit replaces an existing message.
func (s *MemoryStore) Edit(_ context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.search(msg.Index, false)
	if i >= len(s.entries) || s.entries[i].Kind != models.EntryMessage || s.entries[i].Message.Index != msg.Index {
		return fmt.Errorf("edit %s: %w", msg.Index, ErrNotFound)
	}
	s.entries[i] = models.MessageEntry(cloneMessage(msg), false)
	s.changes.notify(history.ChangeEdited, msg.Index)
	return nil
}

// InsertHole records an unloaded range.
func (s *MemoryStore) InsertHole(_ context.Context, hole models.Hole) error {
	if hole.Max.Less(hole.Min) {
		return models.ErrInvertedHole
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertLocked(models.HoleEntry(hole)); err != nil {
		return err
	}
	s.changes.notify(history.ChangeHoleFilled, hole.Max)
	return nil
}

// FillHole replaces the hole whose upper bound is max with msgs.
func (s *MemoryStore) FillHole(_ context.Context, max models.MessageIndex, msgs []*models.Message) error {
	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.search(max, false)
	if i >= len(s.entries) || s.entries[i].Kind != models.EntryHole || s.entries[i].Hole.Max != max {
		return fmt.Errorf("fill hole %s: %w", max, ErrNotFound)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	for _, msg := range msgs {
		if err := s.insertLocked(models.MessageEntry(cloneMessage(msg), false)); err != nil && !errors.Is(err, ErrDuplicate) {
			return err
		}
	}
	s.recountUnreadLocked()
	s.changes.notify(history.ChangeHoleFilled, max)
	return nil
}

// MarkRead advances the read index. It reports whether the index moved.
func (s *MemoryStore) MarkRead(_ context.Context, index models.MessageIndex) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.read.MaxReadIndex != nil && !s.read.MaxReadIndex.Less(index) {
		return false, nil
	}
	s.read.MaxReadIndex = &index
	s.recountUnreadLocked()
	s.changes.notify(history.ChangeReadState, index)
	return true, nil
}

// SetReadState overwrites the read state.
func (s *MemoryStore) SetReadState(rs models.ReadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = cloneReadState(rs)
	s.changes.notify(history.ChangeReadState, models.MessageIndex{})
}

// SetSideData replaces the side data and makes it available from the cache.
func (s *MemoryStore) SetSideData(_ context.Context, data *models.SideData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.side = cloneSideData(data)
	s.cachedSide = data != nil
	return nil
}

func (s *MemoryStore) insertLocked(entry models.RawEntry) error {
	index := entry.Index()
	i := s.search(index, false)
	if i < len(s.entries) && s.entries[i].Index() == index {
		return ErrDuplicate
	}
	s.entries = append(s.entries, models.RawEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = entry
	return nil
}

func (s *MemoryStore) recountUnreadLocked() {
	count := 0
	for _, entry := range s.entries {
		if entry.Kind != models.EntryMessage || !entry.Message.Incoming() {
			continue
		}
		if s.read.MaxReadIndex == nil || s.read.MaxReadIndex.Less(entry.Message.Index) {
			count++
		}
	}
	s.read.UnreadCount = count
}
