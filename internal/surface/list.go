package surface

import (
	"github.com/rs/zerolog"

	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/reconcile"
)

// DefaultPreload is the number of entries beyond the viewport reported as loaded.
const DefaultPreload = 10

// MeasureFunc returns the number of rows an entry occupies. Results below one
// are treated as one.
type MeasureFunc func(e entries.Entry) int

// ListConfig configures a ListSurface.
type ListConfig struct {
	Height  int
	Preload int
	// Reverse keeps the viewport pinned to the top instead of the bottom
	// while new entries arrive.
	Reverse bool
	Measure MeasureFunc
}

// ListSurface is a scrollable list of display entries laid out in rows. It
// keeps no terminal state; hosts render Window() themselves. It is not safe
// for concurrent use.
type ListSurface struct {
	cfg    ListConfig
	logger zerolog.Logger

	entries []entries.Entry
	heights []int
	tops    []int
	total   int
	offset  int

	onVisible func(VisibleRange)
	lastVR    VisibleRange
}

// NewListSurface creates an empty surface.
func NewListSurface(cfg ListConfig, logger zerolog.Logger) *ListSurface {
	if cfg.Height <= 0 {
		cfg.Height = 1
	}
	if cfg.Preload < 0 {
		cfg.Preload = 0
	} else if cfg.Preload == 0 {
		cfg.Preload = DefaultPreload
	}
	if cfg.Measure == nil {
		cfg.Measure = DefaultMeasure
	}
	return &ListSurface{
		cfg:    cfg,
		logger: logger,
		lastVR: VisibleRange{Loaded: EmptyRange(), Visible: EmptyRange()},
	}
}

// DefaultMeasure gives every message one row and other entries one row.
func DefaultMeasure(e entries.Entry) int {
	if n := len(e.Items); n > 1 {
		return n
	}
	return 1
}

// SetVisibleRangeChanged registers the callback fired when scrolling or
// resizing changes the visible range outside of Apply.
func (s *ListSurface) SetVisibleRangeChanged(fn func(VisibleRange)) {
	s.onVisible = fn
}

// Apply applies t, positions the viewport and reports the resulting range.
func (s *ListSurface) Apply(t reconcile.Transition, done func(VisibleRange)) {
	anchorID, anchorDelta, hadAnchor := s.topAnchor()
	atStart := s.offset == 0
	atEnd := s.offset >= s.maxOffset()

	s.entries = reconcile.Apply(s.entries, t)
	if t.Entries != nil && !sameIDs(s.entries, t.Entries) {
		s.logger.Error().
			Uint64("seq", t.Seq).
			Int("applied", len(s.entries)).
			Int("projected", len(t.Entries)).
			Msg("transition operations disagree with projected entries")
	}
	s.relayout()

	switch {
	case t.ScrollIntent != nil:
		s.scrollTo(t.ScrollIntent.Index, t.ScrollIntent.Position)
	case t.Reason.Kind == reconcile.ReasonInteractiveChanges && s.cfg.Reverse && atStart:
		s.offset = 0
	case t.Reason.Kind == reconcile.ReasonInteractiveChanges && !s.cfg.Reverse && atEnd:
		s.offset = s.maxOffset()
	case hadAnchor:
		if i, ok := s.find(anchorID); ok {
			s.offset = s.tops[i] + anchorDelta
		}
	}
	s.clamp()

	vr := s.VisibleRange()
	s.lastVR = vr
	s.logger.Debug().
		Uint64("seq", t.Seq).
		Str("reason", t.Reason.String()).
		Int("entries", len(s.entries)).
		Str("visible", vr.Visible.String()).
		Msg("transition applied")
	done(vr)
}

// Resize changes the viewport height.
func (s *ListSurface) Resize(height int) {
	if height <= 0 {
		height = 1
	}
	atEnd := s.offset >= s.maxOffset()
	s.cfg.Height = height
	if atEnd && !s.cfg.Reverse {
		s.offset = s.maxOffset()
	}
	s.clamp()
	s.notify()
}

// SetMeasure replaces the row measurement, e.g. after a width change, and
// keeps the top entry in place.
func (s *ListSurface) SetMeasure(fn MeasureFunc) {
	if fn == nil {
		fn = DefaultMeasure
	}
	id, delta, ok := s.topAnchor()
	s.cfg.Measure = fn
	s.relayout()
	if ok {
		if i, found := s.find(id); found {
			s.offset = s.tops[i] + min(delta, s.heights[i]-1)
		}
	}
	s.clamp()
	s.notify()
}

// ScrollBy moves the viewport by rows; positive scrolls toward the end of the list.
func (s *ListSurface) ScrollBy(rows int) {
	s.offset += rows
	s.clamp()
	s.notify()
}

// ScrollToItem brings the entry at index into view.
func (s *ListSurface) ScrollToItem(index int, position history.ScrollPosition, animated bool) {
	if index < 0 || index >= len(s.entries) {
		return
	}
	s.scrollTo(index, position)
	s.clamp()
	s.notify()
}

// Entries returns the applied entry sequence.
func (s *ListSurface) Entries() []entries.Entry {
	return s.entries
}

// Height returns the viewport height in rows.
func (s *ListSurface) Height() int {
	return s.cfg.Height
}

// Offset returns the first visible row.
func (s *ListSurface) Offset() int {
	return s.offset
}

// AtEnd reports whether the last row is visible.
func (s *ListSurface) AtEnd() bool {
	return s.offset >= s.maxOffset()
}

// VisibleRange computes the visible and loaded entry ranges.
func (s *ListSurface) VisibleRange() VisibleRange {
	if len(s.entries) == 0 {
		return VisibleRange{Loaded: EmptyRange(), Visible: EmptyRange()}
	}
	first := s.entryAtRow(s.offset)
	last := s.entryAtRow(s.offset + s.cfg.Height - 1)
	visible := Range{First: first, Last: last}
	loaded := Range{
		First: max(0, first-s.cfg.Preload),
		Last:  min(len(s.entries)-1, last+s.cfg.Preload),
	}
	return VisibleRange{Loaded: loaded, Visible: visible}
}

// OffsetOf returns the row of entry index relative to the top of the viewport.
func (s *ListSurface) OffsetOf(index int) (int, bool) {
	if index < 0 || index >= len(s.tops) {
		return 0, false
	}
	return s.tops[index] - s.offset, true
}

// Window returns the entries overlapping the viewport and the number of rows
// of the first one that lie above it.
func (s *ListSurface) Window() ([]entries.Entry, int) {
	vr := s.VisibleRange()
	if vr.Visible.Empty() {
		return nil, 0
	}
	return s.entries[vr.Visible.First : vr.Visible.Last+1], s.offset - s.tops[vr.Visible.First]
}

func (s *ListSurface) notify() {
	vr := s.VisibleRange()
	if vr == s.lastVR {
		return
	}
	s.lastVR = vr
	if s.onVisible != nil {
		s.onVisible(vr)
	}
}

func (s *ListSurface) relayout() {
	s.heights = s.heights[:0]
	s.tops = s.tops[:0]
	s.total = 0
	for _, e := range s.entries {
		h := max(1, s.cfg.Measure(e))
		s.tops = append(s.tops, s.total)
		s.heights = append(s.heights, h)
		s.total += h
	}
}

func (s *ListSurface) scrollTo(index int, pos history.ScrollPosition) {
	if index < 0 || index >= len(s.entries) {
		return
	}
	top, h := s.tops[index], s.heights[index]
	switch pos.Kind {
	case history.PositionTop:
		s.offset = top - pos.Offset
	case history.PositionCenter:
		s.offset = top + h/2 - s.cfg.Height/2 - pos.Offset
	case history.PositionBottom:
		s.offset = top + h - s.cfg.Height + pos.Offset
	case history.PositionVisible:
		if top < s.offset {
			s.offset = top
		} else if top+h > s.offset+s.cfg.Height {
			s.offset = top + h - s.cfg.Height
		}
	}
}

func (s *ListSurface) topAnchor() (entries.StableID, int, bool) {
	if len(s.entries) == 0 {
		return entries.StableID{}, 0, false
	}
	i := s.entryAtRow(s.offset)
	return s.entries[i].ID, s.offset - s.tops[i], true
}

func sameIDs(a, b []entries.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func (s *ListSurface) find(id entries.StableID) (int, bool) {
	for i, e := range s.entries {
		if e.ID == id {
			return i, true
		}
	}
	return 0, false
}

// entryAtRow returns the entry covering row, clamped to the list.
func (s *ListSurface) entryAtRow(row int) int {
	lo, hi := 0, len(s.tops)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if s.tops[mid] <= row {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func (s *ListSurface) maxOffset() int {
	return max(0, s.total-s.cfg.Height)
}

func (s *ListSurface) clamp() {
	s.offset = min(max(s.offset, 0), s.maxOffset())
}
