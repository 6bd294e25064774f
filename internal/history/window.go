package history

import (
	"github.com/tOgg1/chathistory/internal/models"
)

// Window is the loaded range of history plus its boundary sentinels.
type Window struct {
	Entries   []models.RawEntry
	EarlierID *models.MessageIndex
	LaterID   *models.MessageIndex
	ReadState models.ReadState
	SideData  *models.SideData
}

func windowFromPage(page Page) Window {
	return Window{
		Entries:   append([]models.RawEntry(nil), page.Entries...),
		EarlierID: page.EarlierID,
		LaterID:   page.LaterID,
		ReadState: page.ReadState,
		SideData:  page.SideData,
	}
}

// Empty reports whether no entries are loaded.
func (w Window) Empty() bool { return len(w.Entries) == 0 }

// First returns the index of the earliest loaded entry.
func (w Window) First() (models.MessageIndex, bool) {
	if len(w.Entries) == 0 {
		return models.MessageIndex{}, false
	}
	return w.Entries[0].Index(), true
}

// Last returns the index of the latest loaded entry.
func (w Window) Last() (models.MessageIndex, bool) {
	if len(w.Entries) == 0 {
		return models.MessageIndex{}, false
	}
	return w.Entries[len(w.Entries)-1].Index(), true
}

// Covers reports whether a scroll to anchor can be served from the loaded entries.
func (w Window) Covers(anchor Anchor) bool {
	first, ok := w.First()
	if !ok {
		return false
	}
	last, _ := w.Last()
	switch anchor.Kind {
	case AnchorLowerBound:
		return w.EarlierID == nil
	case AnchorUpperBound:
		return w.LaterID == nil
	case AnchorMessage:
		if anchor.Index.Less(first) {
			return false
		}
		if last.Less(anchor.Index) {
			return w.LaterID == nil
		}
		return true
	default:
		return false
	}
}

// Clone returns a copy whose entry slice can be handed to other goroutines.
func (w Window) Clone() Window {
	out := w
	out.Entries = append([]models.RawEntry(nil), w.Entries...)
	return out
}

// extendEarlier prepends an earlier page and trims the later side to max entries.
func (w Window) extendEarlier(page Page, max int) Window {
	first, ok := w.First()
	merged := make([]models.RawEntry, 0, len(page.Entries)+len(w.Entries))
	for _, entry := range page.Entries {
		if !ok || entry.Index().Less(first) {
			merged = append(merged, entry)
		}
	}
	merged = append(merged, w.Entries...)

	out := Window{
		Entries:   merged,
		EarlierID: page.EarlierID,
		LaterID:   w.LaterID,
		ReadState: page.ReadState,
		SideData:  pickSideData(page.SideData, w.SideData),
	}
	if max > 0 && len(out.Entries) > max {
		cut := out.Entries[max].Index()
		out.LaterID = &cut
		out.Entries = out.Entries[:max]
	}
	return out
}

// extendLater appends a later page and trims the earlier side to max entries.
func (w Window) extendLater(page Page, max int) Window {
	last, ok := w.Last()
	merged := make([]models.RawEntry, 0, len(page.Entries)+len(w.Entries))
	merged = append(merged, w.Entries...)
	for _, entry := range page.Entries {
		if !ok || last.Less(entry.Index()) {
			merged = append(merged, entry)
		}
	}

	out := Window{
		Entries:   merged,
		EarlierID: w.EarlierID,
		LaterID:   page.LaterID,
		ReadState: page.ReadState,
		SideData:  pickSideData(page.SideData, w.SideData),
	}
	if max > 0 && len(out.Entries) > max {
		drop := len(out.Entries) - max
		cut := out.Entries[drop-1].Index()
		out.EarlierID = &cut
		out.Entries = out.Entries[drop:]
	}
	return out
}

// trimEarlier keeps the latest max entries of a refreshed window.
func (w Window) trimEarlier(max int) Window {
	if max <= 0 || len(w.Entries) <= max {
		return w
	}
	drop := len(w.Entries) - max
	cut := w.Entries[drop-1].Index()
	w.EarlierID = &cut
	w.Entries = w.Entries[drop:]
	return w
}

// withPlaceholder returns the entries with a loading hole at the edge facing dir.
func (w Window) withPlaceholder(dir FetchDirection) []models.RawEntry {
	out := make([]models.RawEntry, 0, len(w.Entries)+1)
	switch dir {
	case FetchEarlier:
		if w.EarlierID == nil {
			return append(out, w.Entries...)
		}
		out = append(out, models.HoleEntry(models.Hole{Min: models.LowerBound(), Max: *w.EarlierID}))
		out = append(out, w.Entries...)
	case FetchLater:
		out = append(out, w.Entries...)
		if w.LaterID == nil {
			return out
		}
		out = append(out, models.HoleEntry(models.Hole{Min: *w.LaterID, Max: models.UpperBound()}))
	default:
		out = append(out, w.Entries...)
	}
	return out
}

func pickSideData(next, prev *models.SideData) *models.SideData {
	if next != nil {
		return next
	}
	return prev
}
