package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/chathistory/internal/metrics"
	"github.com/tOgg1/chathistory/internal/models"
)

// Errors returned by Source.
var (
	ErrSourceClosed         = errors.New("history source is closed")
	ErrSourceAlreadyRunning = errors.New("history source already running")
)

// UpdateKind describes why a snapshot was produced.
type UpdateKind uint8

const (
	// UpdateInitial is the first snapshot of a freshly loaded window.
	UpdateInitial UpdateKind = iota
	// UpdateInitialUnread is an initial snapshot anchored at the first unread message.
	UpdateInitialUnread
	// UpdateGeneric is an incremental change such as a new or edited message.
	UpdateGeneric
	// UpdateVisible is a jump inside or to a new window.
	UpdateVisible
	// UpdateFillHole is a placeholder appearing or being replaced by real entries.
	UpdateFillHole
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateInitial:
		return "initial"
	case UpdateInitialUnread:
		return "initial_unread"
	case UpdateGeneric:
		return "generic"
	case UpdateVisible:
		return "visible"
	case UpdateFillHole:
		return "fill_hole"
	default:
		return fmt.Sprintf("update(%d)", uint8(k))
	}
}

// Snapshot is one ordered view of the window.
type Snapshot struct {
	RequestID RequestID
	Location  LocationKind
	Update    UpdateKind

	// Entries is what should be displayed; it equals Window.Entries unless
	// Placeholder is set, in which case a loading hole sits at one edge.
	Entries     []models.RawEntry
	Window      Window
	Placeholder bool

	// Scroll is the explicit target of this snapshot, if any.
	Scroll *ScrollTarget
	// Original is the target of the request that created the window.
	Original *ScrollTarget
}

// EarlierID returns the earlier boundary sentinel.
func (s *Snapshot) EarlierID() *models.MessageIndex { return s.Window.EarlierID }

// LaterID returns the later boundary sentinel.
func (s *Snapshot) LaterID() *models.MessageIndex { return s.Window.LaterID }

// EventKind tags an Event.
type EventKind uint8

const (
	EventLoading EventKind = iota
	EventSnapshot
	EventFailed
)

// Event is emitted by Source for every request.
type Event struct {
	Kind      EventKind
	RequestID RequestID
	SideData  *models.SideData
	Snapshot  *Snapshot
	Err       error
}

// Config configures a Source.
type Config struct {
	InitialCount int
	PageSize     int
	MaxWindow    int
	EventBuffer  int
}

// DefaultConfig returns the default source configuration.
func DefaultConfig() Config {
	return Config{
		InitialCount: InitialPageSize,
		PageSize:     HistoryPageSize,
		MaxWindow:    DefaultMaxWindow,
		EventBuffer:  16,
	}
}

type command struct {
	id  RequestID
	loc Location
}

type resultKind uint8

const (
	resultLoading resultKind = iota
	resultPage
)

type result struct {
	kind     resultKind
	id       RequestID
	loc      Location
	req      FetchRequest
	refresh  bool
	seq      uint64
	update   UpdateKind
	page     Page
	sideData *models.SideData
	err      error
}

// Source turns location requests into a stream of window snapshots.
// The window is owned by the run loop goroutine.
type Source struct {
	store  Store
	cfg    Config
	logger zerolog.Logger

	nextID   atomic.Uint64
	commands chan command
	results  chan result
	events   chan Event

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	// run loop state
	window         Window
	loaded         bool
	latest         RequestID
	location       LocationKind
	original       *ScrollTarget
	inFlight       bool
	refreshing     bool
	refreshPending bool
	pendingUpdate  UpdateKind
	refreshSeq     uint64
}

// NewSource creates a source over store.
func NewSource(store Store, cfg Config, logger zerolog.Logger) *Source {
	defaults := DefaultConfig()
	if cfg.InitialCount <= 0 {
		cfg.InitialCount = defaults.InitialCount
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = defaults.MaxWindow
	}
	if cfg.MaxWindow < cfg.PageSize {
		cfg.MaxWindow = cfg.PageSize
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}
	return &Source{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		commands: make(chan command, 16),
		results:  make(chan result, 16),
		events:   make(chan Event, cfg.EventBuffer),
	}
}

// Start launches the run loop.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSourceAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.run(s.ctx)
	return nil
}

// Close stops the run loop and waits for outstanding fetches.
func (s *Source) Close() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

// Events returns the event stream. It is closed when the source stops.
func (s *Source) Events() <-chan Event {
	return s.events
}

// Config returns the effective configuration.
func (s *Source) Config() Config {
	return s.cfg
}

// Request issues a location request and returns its id. Any older request
// still in flight is superseded.
func (s *Source) Request(loc Location) (RequestID, error) {
	s.mu.Lock()
	running, ctx := s.running, s.ctx
	s.mu.Unlock()
	if !running {
		return 0, ErrSourceClosed
	}

	if loc.Count <= 0 {
		if loc.Kind == LocationInitial || loc.Kind == LocationRestore {
			loc.Count = s.cfg.InitialCount
		} else {
			loc.Count = s.cfg.PageSize
		}
	}

	id := RequestID(s.nextID.Add(1))
	select {
	case s.commands <- command{id: id, loc: loc}:
		return id, nil
	case <-ctx.Done():
		return 0, ErrSourceClosed
	}
}

func (s *Source) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	changes := s.store.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)
		case res := <-s.results:
			s.handleResult(ctx, res)
		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.handleChange(ctx, change)
		}
	}
}

func (s *Source) handleCommand(ctx context.Context, cmd command) {
	if cmd.id < s.latest {
		metrics.StaleResponses.Inc()
		return
	}
	s.latest = cmd.id
	if s.refreshing {
		// the in-flight refresh is superseded; re-run it after this request lands
		s.refreshing = false
		s.refreshPending = true
	}
	metrics.LocationRequests.WithLabelValues(cmd.loc.Kind.String()).Inc()

	loc := cmd.loc
	switch loc.Kind {
	case LocationInitial, LocationRestore:
		s.startFetch(ctx, cmd, FetchRequest{Direction: FetchAround, Anchor: loc.Anchor, Count: loc.Count}, true)

	case LocationScroll:
		if s.loaded && s.window.Covers(loc.To) {
			s.inFlight = false
			target := scrollTarget(loc)
			s.location = loc.Kind
			s.original = target
			s.emitSnapshot(ctx, cmd.id, UpdateVisible, s.window, nil, target, false)
			s.maybeRefresh(ctx)
			return
		}
		s.startFetch(ctx, cmd, FetchRequest{Direction: FetchAround, Anchor: loc.Anchor, Count: loc.Count}, true)

	case LocationNavigation:
		dir := s.navigationDirection(loc)
		switch dir {
		case FetchEarlier:
			if s.window.EarlierID == nil {
				s.logger.Debug().Str("anchor", loc.Anchor.String()).Msg("start of history reached; navigation ignored")
				return
			}
			first, _ := s.window.First()
			s.emitSnapshot(ctx, cmd.id, UpdateFillHole, s.window, s.window.withPlaceholder(dir), nil, true)
			s.startFetch(ctx, cmd, FetchRequest{Direction: FetchEarlier, Anchor: MessageAnchor(first), Count: loc.Count}, false)
		case FetchLater:
			if s.window.LaterID == nil {
				s.logger.Debug().Str("anchor", loc.Anchor.String()).Msg("end of history reached; navigation ignored")
				return
			}
			last, _ := s.window.Last()
			s.emitSnapshot(ctx, cmd.id, UpdateFillHole, s.window, s.window.withPlaceholder(dir), nil, true)
			s.startFetch(ctx, cmd, FetchRequest{Direction: FetchLater, Anchor: MessageAnchor(last), Count: loc.Count}, false)
		default:
			s.startFetch(ctx, cmd, FetchRequest{Direction: FetchAround, Anchor: loc.Anchor, Count: loc.Count}, !s.loaded)
		}
	}
}

func (s *Source) navigationDirection(loc Location) FetchDirection {
	first, ok := s.window.First()
	if !ok {
		return FetchAround
	}
	if loc.Toward == FetchEarlier || loc.Toward == FetchLater {
		return loc.Toward
	}
	anchor := loc.Anchor
	last, _ := s.window.Last()
	target := anchor.Resolved()
	switch {
	case anchor.Kind == AnchorLowerBound || target.Compare(first) <= 0:
		return FetchEarlier
	case anchor.Kind == AnchorUpperBound || last.Compare(target) <= 0:
		return FetchLater
	default:
		return FetchAround
	}
}

func (s *Source) startFetch(ctx context.Context, cmd command, req FetchRequest, loading bool) {
	s.inFlight = true
	s.wg.Add(1)
	go s.fetch(ctx, result{id: cmd.id, loc: cmd.loc, req: req}, loading)
}

func (s *Source) startRefresh(ctx context.Context) {
	update := s.pendingUpdate
	s.refreshPending = false
	s.pendingUpdate = UpdateGeneric
	s.refreshing = true
	s.refreshSeq++

	req := FetchRequest{Direction: FetchRange, Min: LowerBoundAnchor(), Max: UpperBoundAnchor()}
	if first, ok := s.window.First(); ok && s.window.EarlierID != nil {
		req.Min = MessageAnchor(first)
	}
	if last, ok := s.window.Last(); ok && s.window.LaterID != nil {
		req.Max = MessageAnchor(last)
	}

	s.wg.Add(1)
	go s.fetch(ctx, result{id: s.latest, req: req, refresh: true, seq: s.refreshSeq, update: update}, false)
}

func (s *Source) fetch(ctx context.Context, res result, loading bool) {
	defer s.wg.Done()

	if loading {
		sideData, err := s.store.CachedSideData(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("cached side data unavailable")
		}
		s.deliver(ctx, result{kind: resultLoading, id: res.id, sideData: sideData})
	}

	start := time.Now()
	page, err := s.store.Fetch(ctx, res.req)
	metrics.StoreFetchDuration.WithLabelValues(directionLabel(res.req.Direction)).Observe(time.Since(start).Seconds())
	if err == nil {
		if verr := models.ValidateEntries(page.Entries); verr != nil {
			err = fmt.Errorf("store returned malformed page: %w", verr)
		}
	} else {
		err = fmt.Errorf("failed to fetch history: %w", err)
	}

	res.kind = resultPage
	res.page = page
	res.err = err
	s.deliver(ctx, res)
}

func (s *Source) deliver(ctx context.Context, res result) {
	select {
	case s.results <- res:
	case <-ctx.Done():
	}
}

func (s *Source) handleResult(ctx context.Context, res result) {
	if res.id != s.latest || (res.refresh && (!s.refreshing || res.seq != s.refreshSeq)) {
		metrics.StaleResponses.Inc()
		s.logger.Debug().Uint64("request_id", uint64(res.id)).Uint64("latest", uint64(s.latest)).Msg("discarding stale store response")
		return
	}

	if res.kind == resultLoading {
		s.emit(ctx, Event{Kind: EventLoading, RequestID: res.id, SideData: res.sideData})
		return
	}

	if res.refresh {
		s.refreshing = false
	} else {
		s.inFlight = false
	}

	if res.err != nil {
		metrics.StoreFailures.WithLabelValues(directionLabel(res.req.Direction)).Inc()
		s.logger.Warn().Err(res.err).Uint64("request_id", uint64(res.id)).Msg("history fetch failed")
		s.emit(ctx, Event{Kind: EventFailed, RequestID: res.id, Err: res.err})
		s.maybeRefresh(ctx)
		return
	}

	var (
		window Window
		update UpdateKind
		target *ScrollTarget
	)
	switch {
	case res.refresh:
		window = windowFromPage(res.page).trimEarlier(s.cfg.MaxWindow)
		update = res.update
	case res.req.Direction == FetchEarlier:
		window = s.window.extendEarlier(res.page, s.cfg.MaxWindow)
		update = UpdateFillHole
	case res.req.Direction == FetchLater:
		window = s.window.extendLater(res.page, s.cfg.MaxWindow)
		update = UpdateFillHole
	default:
		window = windowFromPage(res.page)
		update, target = initialTarget(res.loc, res.page)
		if res.loc.Kind != LocationNavigation {
			s.location = res.loc.Kind
			s.original = target
		}
	}

	s.window = window
	s.loaded = true
	s.emitSnapshot(ctx, res.id, update, window, nil, target, false)
	s.maybeRefresh(ctx)
}

func (s *Source) handleChange(ctx context.Context, change Change) {
	if !s.loaded {
		return
	}
	if change.Kind == ChangeHoleFilled {
		s.pendingUpdate = UpdateFillHole
	} else if !s.refreshPending {
		s.pendingUpdate = UpdateGeneric
	}
	s.refreshPending = true
	s.maybeRefresh(ctx)
}

func (s *Source) maybeRefresh(ctx context.Context) {
	if !s.refreshPending || s.inFlight || s.refreshing || !s.loaded {
		return
	}
	s.startRefresh(ctx)
}

func (s *Source) emitSnapshot(ctx context.Context, id RequestID, update UpdateKind, window Window, entries []models.RawEntry, target *ScrollTarget, placeholder bool) {
	window = window.Clone()
	if entries == nil {
		entries = window.Entries
	}
	snap := &Snapshot{
		RequestID:   id,
		Location:    s.location,
		Update:      update,
		Entries:     entries,
		Window:      window,
		Placeholder: placeholder,
		Scroll:      target,
		Original:    s.original,
	}
	s.emit(ctx, Event{Kind: EventSnapshot, RequestID: id, Snapshot: snap})
}

func (s *Source) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func initialTarget(loc Location, page Page) (UpdateKind, *ScrollTarget) {
	switch loc.Kind {
	case LocationInitial:
		if page.UnreadAnchor != nil {
			return UpdateInitialUnread, &ScrollTarget{
				Kind:     TargetUnread,
				Anchor:   MessageAnchor(*page.UnreadAnchor),
				Position: ScrollPosition{Kind: PositionTop},
			}
		}
		return UpdateInitial, &ScrollTarget{
			Kind:     TargetIndex,
			Anchor:   UpperBoundAnchor(),
			Position: ScrollPosition{Kind: PositionBottom},
		}
	case LocationRestore:
		return UpdateInitial, &ScrollTarget{Kind: TargetRestore, Anchor: loc.To, Position: loc.Position}
	case LocationScroll:
		return UpdateVisible, scrollTarget(loc)
	default:
		return UpdateFillHole, nil
	}
}

func scrollTarget(loc Location) *ScrollTarget {
	return &ScrollTarget{
		Kind:     TargetIndex,
		Anchor:   loc.To,
		Source:   loc.Source,
		Position: loc.Position,
		Animated: loc.Animated,
	}
}

func directionLabel(dir FetchDirection) string {
	switch dir {
	case FetchEarlier:
		return "earlier"
	case FetchLater:
		return "later"
	case FetchRange:
		return "range"
	default:
		return "around"
	}
}
