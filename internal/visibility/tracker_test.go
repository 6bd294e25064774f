package visibility

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/surface"
)

type readCall struct {
	ns    int32
	index models.MessageIndex
}

type recorder struct {
	reads      []readCall
	batches    map[BatchKind][][]models.MessageID
	candidates [][]Candidate
	dirs       []Direction
	navs       []history.Location
}

func newRecorder() *recorder {
	return &recorder{batches: make(map[BatchKind][][]models.MessageID)}
}

func (r *recorder) AdvanceReadIndex(ns int32, index models.MessageIndex) {
	r.reads = append(r.reads, readCall{ns: ns, index: index})
}

func (r *recorder) Add(ids []models.MessageID, kind BatchKind) {
	r.batches[kind] = append(r.batches[kind], ids)
}

func (r *recorder) SetCandidates(c []Candidate, dir Direction) {
	r.candidates = append(r.candidates, c)
	r.dirs = append(r.dirs, dir)
}

func (r *recorder) Navigate(loc history.Location) error {
	r.navs = append(r.navs, loc)
	return nil
}

func (r *recorder) deps() Deps {
	return Deps{ReadState: r, Batcher: r, Prefetch: r, Navigator: r}
}

func idx(ts int64) models.MessageIndex {
	return models.MessageIndex{Timestamp: ts, Namespace: 1, ID: ts}
}

func entryFor(msg *models.Message) entries.Entry {
	return entries.Entry{
		Kind:  entries.KindMessage,
		ID:    entries.StableID{Kind: entries.KindMessage, Namespace: msg.Index.Namespace, ID: msg.Index.ID},
		Index: msg.Index,
		Items: []entries.Item{{Message: msg}},
	}
}

// list returns n incoming messages with timestamps 1..n.
func list(n int) []entries.Entry {
	out := make([]entries.Entry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, entryFor(&models.Message{Index: idx(int64(i)), Flags: models.FlagIncoming}))
	}
	return out
}

func viewOf(list []entries.Entry) View {
	first, last := list[0].Index, list[len(list)-1].Index
	return View{Entries: list, First: &first, Last: &last}
}

func visible(first, last int) surface.VisibleRange {
	return surface.VisibleRange{
		Visible: surface.Range{First: first, Last: last},
		Loaded:  surface.Range{First: first, Last: last},
	}
}

func TestReadIndexIsMonotonic(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{}, rec.deps(), zerolog.Nop())
	view := viewOf(list(10))

	tr.OnVisibleRangeChanged(visible(0, 2), view)
	tr.OnVisibleRangeChanged(visible(0, 1), view)
	tr.OnVisibleRangeChanged(visible(0, 2), view)
	tr.OnVisibleRangeChanged(visible(2, 4), view)

	require.Equal(t, []readCall{{ns: 1, index: idx(3)}, {ns: 1, index: idx(5)}}, rec.reads)
	got, ok := tr.ReadIndex(1)
	require.True(t, ok)
	require.Equal(t, idx(5), got)
}

func TestOutgoingMessagesDoNotAdvanceRead(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{}, rec.deps(), zerolog.Nop())
	view := viewOf([]entries.Entry{entryFor(&models.Message{Index: idx(1)})})

	tr.OnVisibleRangeChanged(visible(0, 0), view)

	require.Empty(t, rec.reads)
}

func TestCanReadGatesForwarding(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{}, rec.deps(), zerolog.Nop())
	view := viewOf(list(5))

	tr.SetCanRead(false)
	tr.OnVisibleRangeChanged(visible(0, 4), view)
	require.Empty(t, rec.reads)

	tr.SetCanRead(true)
	require.Equal(t, []readCall{{ns: 1, index: idx(5)}}, rec.reads)
}

func TestMaxVisibleIndexReportsChanges(t *testing.T) {
	var seen []models.MessageIndex
	deps := Deps{OnMaxVisibleIndex: func(i models.MessageIndex) { seen = append(seen, i) }}
	tr := NewTracker(Config{}, deps, zerolog.Nop())
	view := viewOf(list(5))

	tr.OnVisibleRangeChanged(visible(0, 1), view)
	tr.OnVisibleRangeChanged(visible(0, 1), view)
	tr.OnVisibleRangeChanged(visible(1, 3), view)

	require.Equal(t, []models.MessageIndex{idx(2), idx(4)}, seen)
}

func TestBatchesCollectVisibleMessages(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{}, rec.deps(), zerolog.Nop())
	view := viewOf([]entries.Entry{
		entryFor(&models.Message{Index: idx(1), Flags: models.FlagIncoming, Attributes: []models.Attribute{{Kind: models.AttributeViewCount, Count: 5}}}),
		entryFor(&models.Message{Index: idx(2), Flags: models.FlagIncoming, Media: []models.Media{{ID: "u", Kind: models.MediaUnsupported}}}),
		entryFor(&models.Message{Index: idx(3), Flags: models.FlagIncoming, Tags: models.TagUnseenMention}),
		entryFor(&models.Message{Index: idx(4), Tags: models.TagUnseenMention}),
	})

	tr.OnVisibleRangeChanged(visible(0, 3), view)

	require.Equal(t, [][]models.MessageID{{idx(1).MessageID()}}, rec.batches[BatchViewCount])
	require.Equal(t, [][]models.MessageID{{idx(2).MessageID()}}, rec.batches[BatchUnsupportedMedia])
	require.Equal(t, [][]models.MessageID{{idx(3).MessageID()}}, rec.batches[BatchMentions])
}

func withImage(entry entries.Entry, id string) entries.Entry {
	entry.Items[0].Message.Media = []models.Media{{ID: id, Kind: models.MediaImage}}
	return entry
}

func TestPrefetchFollowsScrollDirection(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{PrefetchLimit: 2}, rec.deps(), zerolog.Nop())
	l := list(10)
	for i := range l {
		l[i] = withImage(l[i], string(rune('a'+i)))
	}
	view := viewOf(l)

	tr.OnVisibleRangeChanged(visible(4, 5), view)
	require.Len(t, rec.candidates, 1)
	require.Equal(t, DirectionEarlier, rec.dirs[0])
	require.Equal(t, "d", rec.candidates[0][0].Media.ID)
	require.Equal(t, "c", rec.candidates[0][1].Media.ID)

	tr.OnVisibleRangeChanged(visible(4, 5), view)
	require.Len(t, rec.candidates, 1, "unchanged candidates are not re-dispatched")

	tr.SetScrollDirection(DirectionLater)
	require.Len(t, rec.candidates, 2)
	require.Equal(t, DirectionLater, rec.dirs[1])
	require.Equal(t, "g", rec.candidates[1][0].Media.ID)
	require.Equal(t, "h", rec.candidates[1][1].Media.ID)
}

func TestPaginationLaterEdgeWinsAndDedupes(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{}, rec.deps(), zerolog.Nop())
	view := viewOf(list(6))
	earlier, later := idx(0), idx(7)
	view.EarlierID, view.LaterID = &earlier, &later

	tr.OnVisibleRangeChanged(visible(0, 5), view)
	tr.OnVisibleRangeChanged(visible(0, 5), view)

	require.Len(t, rec.navs, 1)
	require.Equal(t, history.NavigateLater(history.MessageAnchor(idx(6)), 0), rec.navs[0])

	tr.ResetPagination()
	tr.OnVisibleRangeChanged(visible(0, 5), view)
	require.Len(t, rec.navs, 2)
}

func TestPaginationEarlierWhenLaterExhausted(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{}, rec.deps(), zerolog.Nop())
	view := viewOf(list(20))
	earlier := idx(0)
	view.EarlierID = &earlier

	tr.OnVisibleRangeChanged(visible(10, 15), view)
	require.Empty(t, rec.navs)

	tr.OnVisibleRangeChanged(visible(2, 8), view)
	require.Equal(t, []history.Location{history.NavigateEarlier(history.MessageAnchor(idx(1)), 0)}, rec.navs)
}

func TestPaginationHaltsAtBoundaries(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{}, rec.deps(), zerolog.Nop())

	tr.OnVisibleRangeChanged(visible(0, 2), viewOf(list(3)))

	require.Empty(t, rec.navs)
}

func TestPaginationReverseOrder(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{}, rec.deps(), zerolog.Nop())
	l := list(20)
	for i, j := 0, len(l)-1; i < j; i, j = i+1, j-1 {
		l[i], l[j] = l[j], l[i]
	}
	first, last := idx(1), idx(20)
	later := idx(21)
	view := View{Entries: l, First: &first, Last: &last, LaterID: &later, Reverse: true}

	tr.OnVisibleRangeChanged(visible(0, 3), view)

	require.Equal(t, []history.Location{history.NavigateLater(history.MessageAnchor(idx(20)), 0)}, rec.navs)
}

func TestPaginationSingleEntryWindowNavigatesLater(t *testing.T) {
	rec := newRecorder()
	tr := NewTracker(Config{}, rec.deps(), zerolog.Nop())
	view := viewOf(list(1))
	later := idx(2)
	view.LaterID = &later

	tr.OnVisibleRangeChanged(visible(0, 0), view)

	require.Len(t, rec.navs, 1)
	require.Equal(t, history.FetchLater, rec.navs[0].Toward)
	require.Equal(t, history.MessageAnchor(idx(1)), rec.navs[0].Anchor)
}
