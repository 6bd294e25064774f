// Package visibility derives read state, acknowledgements, prefetching and
// pagination from what the rendering surface shows.
package visibility

import (
	"github.com/rs/zerolog"

	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/metrics"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/surface"
)

const (
	// DefaultPaginationMargin is how close to a loaded edge pagination starts.
	DefaultPaginationMargin = 5

	// DefaultPrefetchLimit caps prefetch candidates per direction.
	DefaultPrefetchLimit = 3
)

// Direction is a direction through history.
type Direction uint8

const (
	DirectionEarlier Direction = iota
	DirectionLater
)

func (d Direction) String() string {
	if d == DirectionLater {
		return "later"
	}
	return "earlier"
}

// BatchKind selects a throttled acknowledgement batch.
type BatchKind uint8

const (
	BatchViewCount BatchKind = iota
	BatchUnsupportedMedia
	BatchMentions
)

func (k BatchKind) String() string {
	switch k {
	case BatchViewCount:
		return "view_count"
	case BatchUnsupportedMedia:
		return "unsupported_media"
	default:
		return "mentions"
	}
}

// Candidate is a media item worth preloading.
type Candidate struct {
	Message *models.Message
	Media   models.Media
}

// ReadStateWriter receives read index advancements. It must be monotonic-safe.
type ReadStateWriter interface {
	AdvanceReadIndex(namespace int32, index models.MessageIndex)
}

// Batcher coalesces message ids per kind.
type Batcher interface {
	Add(ids []models.MessageID, kind BatchKind)
}

// Prefetcher receives the candidates for the active direction.
type Prefetcher interface {
	SetCandidates(candidates []Candidate, dir Direction)
}

// Navigator issues Navigation location requests.
type Navigator interface {
	Navigate(loc history.Location) error
}

// View is the part of the applied state the tracker reads.
type View struct {
	Entries   []entries.Entry
	EarlierID *models.MessageIndex
	LaterID   *models.MessageIndex
	// First and Last are the edges of the loaded window, placeholders excluded.
	First   *models.MessageIndex
	Last    *models.MessageIndex
	Reverse bool
}

// Config tunes the tracker.
type Config struct {
	PaginationMargin int
	PrefetchLimit    int
}

// Deps are the collaborators driven by the tracker. Nil members are skipped.
type Deps struct {
	ReadState ReadStateWriter
	Batcher   Batcher
	Prefetch  Prefetcher
	Navigator Navigator
	// OnMaxVisibleIndex is called when the newest visible message changes.
	OnMaxVisibleIndex func(models.MessageIndex)
}

type navKey struct {
	dir    Direction
	anchor models.MessageIndex
}

// Tracker consumes visible range notifications. It is not safe for
// concurrent use; call it from the UI goroutine.
type Tracker struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	canRead     bool
	forwarded   map[int32]models.MessageIndex
	pendingRead map[int32]models.MessageIndex
	maxVisible  *models.MessageIndex

	direction  Direction
	candidates [2][]Candidate
	dispatched []Candidate

	lastNav *navKey
}

// NewTracker creates a tracker. Reading is enabled by default.
func NewTracker(cfg Config, deps Deps, logger zerolog.Logger) *Tracker {
	if cfg.PaginationMargin <= 0 {
		cfg.PaginationMargin = DefaultPaginationMargin
	}
	if cfg.PrefetchLimit <= 0 {
		cfg.PrefetchLimit = DefaultPrefetchLimit
	}
	return &Tracker{
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		canRead:     true,
		forwarded:   make(map[int32]models.MessageIndex),
		pendingRead: make(map[int32]models.MessageIndex),
	}
}

// OnVisibleRangeChanged processes one layout pass.
func (t *Tracker) OnVisibleRangeChanged(vr surface.VisibleRange, view View) {
	if len(view.Entries) == 0 {
		return
	}
	visible := clamp(vr.Visible, len(view.Entries))
	if !visible.Empty() {
		t.trackRead(visible, view)
		t.collectBatches(visible, view)
		t.collectPrefetch(visible, view)
	}
	t.paginate(clamp(vr.Loaded, len(view.Entries)), view)
}

// SetCanRead gates read index forwarding. Re-enabling flushes what was seen meanwhile.
func (t *Tracker) SetCanRead(canRead bool) {
	t.canRead = canRead
	if !canRead {
		return
	}
	for ns, index := range t.pendingRead {
		t.forwardRead(ns, index)
	}
	t.pendingRead = make(map[int32]models.MessageIndex)
}

// SetScrollDirection switches the active prefetch direction.
func (t *Tracker) SetScrollDirection(dir Direction) {
	if dir == t.direction {
		return
	}
	t.direction = dir
	t.dispatchPrefetch()
}

// ScrollDirection returns the active prefetch direction.
func (t *Tracker) ScrollDirection() Direction {
	return t.direction
}

// ResetPagination allows the last Navigation request to be issued again.
// Call it when a new snapshot arrives or the store reports a failure.
func (t *Tracker) ResetPagination() {
	t.lastNav = nil
}

// ReadIndex returns the last index forwarded for namespace.
func (t *Tracker) ReadIndex(namespace int32) (models.MessageIndex, bool) {
	index, ok := t.forwarded[namespace]
	return index, ok
}

func (t *Tracker) trackRead(visible surface.Range, view View) {
	maxIncoming := make(map[int32]models.MessageIndex)
	var maxOverall *models.MessageIndex
	for i := visible.First; i <= visible.Last; i++ {
		for _, item := range view.Entries[i].Items {
			msg := item.Message
			if maxOverall == nil || maxOverall.Less(msg.Index) {
				index := msg.Index
				maxOverall = &index
			}
			if !msg.Incoming() {
				continue
			}
			if current, ok := maxIncoming[msg.Index.Namespace]; !ok || current.Less(msg.Index) {
				maxIncoming[msg.Index.Namespace] = msg.Index
			}
		}
	}

	for ns, index := range maxIncoming {
		if !t.canRead {
			if pending, ok := t.pendingRead[ns]; !ok || pending.Less(index) {
				t.pendingRead[ns] = index
			}
			continue
		}
		t.forwardRead(ns, index)
	}

	if maxOverall != nil && (t.maxVisible == nil || *t.maxVisible != *maxOverall) {
		t.maxVisible = maxOverall
		if t.deps.OnMaxVisibleIndex != nil {
			t.deps.OnMaxVisibleIndex(*maxOverall)
		}
	}
}

func (t *Tracker) forwardRead(ns int32, index models.MessageIndex) {
	if prev, ok := t.forwarded[ns]; ok && !prev.Less(index) {
		return
	}
	t.forwarded[ns] = index
	metrics.ReadIndexAdvances.Inc()
	if t.deps.ReadState != nil {
		t.deps.ReadState.AdvanceReadIndex(ns, index)
	}
}

func (t *Tracker) collectBatches(visible surface.Range, view View) {
	if t.deps.Batcher == nil {
		return
	}
	var viewCounts, unsupported, mentions []models.MessageID
	for i := visible.First; i <= visible.Last; i++ {
		for _, item := range view.Entries[i].Items {
			msg := item.Message
			id := msg.Index.MessageID()
			if _, ok := msg.Attribute(models.AttributeViewCount); ok {
				viewCounts = append(viewCounts, id)
			}
			if msg.HasUnsupportedMedia() {
				unsupported = append(unsupported, id)
			}
			if msg.Incoming() && msg.NeedsMentionConsumption() {
				mentions = append(mentions, id)
			}
		}
	}
	if len(viewCounts) > 0 {
		t.deps.Batcher.Add(viewCounts, BatchViewCount)
	}
	if len(unsupported) > 0 {
		t.deps.Batcher.Add(unsupported, BatchUnsupportedMedia)
	}
	if len(mentions) > 0 {
		t.deps.Batcher.Add(mentions, BatchMentions)
	}
}

func (t *Tracker) collectPrefetch(visible surface.Range, view View) {
	n := len(view.Entries)
	before := make([]int, 0, visible.First)
	for i := visible.First - 1; i >= 0; i-- {
		before = append(before, i)
	}
	after := make([]int, 0, n-visible.Last)
	for i := visible.Last + 1; i < n; i++ {
		after = append(after, i)
	}

	earlier, later := before, after
	if view.Reverse {
		earlier, later = after, before
	}
	t.candidates[DirectionEarlier] = t.pickCandidates(view.Entries, earlier, DirectionEarlier)
	t.candidates[DirectionLater] = t.pickCandidates(view.Entries, later, DirectionLater)
	t.dispatchPrefetch()
}

// pickCandidates walks away from the visible range and collects media.
func (t *Tracker) pickCandidates(list []entries.Entry, order []int, dir Direction) []Candidate {
	var out []Candidate
	for _, i := range order {
		items := list[i].Items
		for k := range items {
			item := items[k]
			if dir == DirectionEarlier {
				item = items[len(items)-1-k]
			}
			for _, media := range item.Message.Media {
				if !media.Prefetchable() {
					continue
				}
				out = append(out, Candidate{Message: item.Message, Media: media})
				if len(out) >= t.cfg.PrefetchLimit {
					return out
				}
			}
		}
	}
	return out
}

func (t *Tracker) dispatchPrefetch() {
	if t.deps.Prefetch == nil {
		return
	}
	list := t.candidates[t.direction]
	if sameCandidates(list, t.dispatched) {
		return
	}
	t.dispatched = list
	metrics.PrefetchCandidates.WithLabelValues(t.direction.String()).Add(float64(len(list)))
	t.deps.Prefetch.SetCandidates(list, t.direction)
}

func (t *Tracker) paginate(loaded surface.Range, view View) {
	if loaded.Empty() || t.deps.Navigator == nil || view.First == nil || view.Last == nil {
		return
	}
	n := len(view.Entries)
	nearStart := loaded.First < t.cfg.PaginationMargin
	nearEnd := loaded.Last >= n-t.cfg.PaginationMargin

	nearEarlier, nearLater := nearStart, nearEnd
	if view.Reverse {
		nearEarlier, nearLater = nearEnd, nearStart
	}

	var key navKey
	switch {
	case nearLater && view.LaterID != nil:
		key = navKey{dir: DirectionLater, anchor: *view.Last}
	case nearEarlier && view.EarlierID != nil:
		key = navKey{dir: DirectionEarlier, anchor: *view.First}
	default:
		return
	}
	if t.lastNav != nil && *t.lastNav == key {
		return
	}
	t.lastNav = &key

	metrics.PaginationRequests.WithLabelValues(key.dir.String()).Inc()
	t.logger.Debug().Str("direction", key.dir.String()).Str("anchor", key.anchor.String()).Msg("requesting history page")
	loc := history.NavigateEarlier(history.MessageAnchor(key.anchor), 0)
	if key.dir == DirectionLater {
		loc = history.NavigateLater(history.MessageAnchor(key.anchor), 0)
	}
	if err := t.deps.Navigator.Navigate(loc); err != nil {
		t.logger.Warn().Err(err).Msg("navigation request failed")
		t.lastNav = nil
	}
}

func clamp(r surface.Range, n int) surface.Range {
	if r.Empty() || n == 0 {
		return surface.EmptyRange()
	}
	if r.First < 0 {
		r.First = 0
	}
	if r.Last >= n {
		r.Last = n - 1
	}
	return r
}

func sameCandidates(a, b []Candidate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Media.ID != b[i].Media.ID || a[i].Message.Index != b[i].Message.Index {
			return false
		}
	}
	return true
}
