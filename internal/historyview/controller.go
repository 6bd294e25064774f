// Package historyview runs one chat history view: it feeds store snapshots
// through projection and reconciliation, applies the resulting transitions to
// the rendering surface in order, and drives read state, pagination and
// prefetching from what the surface shows.
package historyview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/chathistory/internal/anchor"
	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/events"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/metrics"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/reconcile"
	"github.com/tOgg1/chathistory/internal/sequencer"
	"github.com/tOgg1/chathistory/internal/surface"
	"github.com/tOgg1/chathistory/internal/visibility"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("history view already started")

// Executor runs closures on the UI goroutine in the order they were posted.
type Executor interface {
	Post(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

// Post calls f(fn).
func (f ExecutorFunc) Post(fn func()) { f(fn) }

// Surface is the rendering surface driven by the view.
type Surface interface {
	sequencer.Surface
	VisibleRange() surface.VisibleRange
	OffsetOf(index int) (int, bool)
	ScrollToItem(index int, position history.ScrollPosition, animated bool)
}

// PositionStore persists scroll anchors across sessions.
type PositionStore interface {
	Load(chat string) (anchor.ScrollAnchor, bool, error)
	Save(chat string, a anchor.ScrollAnchor) error
	Forget(chat string) error
}

// Presentation is the theme and locale entries are rendered with. Changing
// it re-renders every entry.
type Presentation struct {
	Theme  string
	Locale string
}

// Config configures a Controller.
type Config struct {
	// ViewID identifies the view in events and logs. Generated when empty.
	ViewID     string
	Chat       string
	Mode       entries.Mode
	Source     history.Config
	Visibility visibility.Config
	// Restore reopens the view at the saved position when one exists.
	Restore bool
}

// Deps are the collaborators of a Controller. Store, Surface and Executor
// are required.
type Deps struct {
	Store     history.Store
	Surface   Surface
	Executor  Executor
	ReadState visibility.ReadStateWriter
	Batcher   visibility.Batcher
	Prefetch  visibility.Prefetcher
	Publisher events.Publisher
	Positions PositionStore
}

// pendingMeta travels with a transition from the worker to the UI goroutine.
type pendingMeta struct {
	previous  []entries.Entry
	explicit  *history.ScrollTarget
	original  *history.ScrollTarget
	first     *models.MessageIndex
	last      *models.MessageIndex
	freshPage bool
}

// Controller owns one history view.
type Controller struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	source   *history.Source
	resolver *anchor.Resolver
	seq      *sequencer.Sequencer
	tracker  *visibility.Tracker

	// projection inputs, written from any goroutine
	mu           sync.Mutex
	mode         entries.Mode
	selection    map[models.MessageID]bool
	presentation Presentation
	forceNext    bool
	reproject    chan struct{}

	// worker goroutine state
	previous []entries.Entry
	lastSnap *history.Snapshot
	sideData *models.SideData
	nextSeq  uint64

	// UI goroutine state
	pending     map[uint64]pendingMeta
	applied     []entries.Entry
	view        visibility.View
	loadState   events.LoadState
	history     *historyState
	atLatest    *bool
	initialSent bool
	readState   models.ReadState
	hasApplied  atomic.Bool

	lifecycleMu sync.Mutex
	started     bool
	closed      bool
	cancel      context.CancelFunc
	group       *errgroup.Group
}

type historyState struct {
	atEarliest bool
	atLatest   bool
}

// New creates a controller. Call Start to begin loading. logger is expected
// to carry the chat and view fields, see logging.WithView.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Controller, error) {
	if deps.Store == nil || deps.Surface == nil || deps.Executor == nil {
		return nil, errors.New("history view requires a store, a surface and an executor")
	}
	if cfg.ViewID == "" {
		cfg.ViewID = uuid.NewString()
	}
	if cfg.Mode.GroupMessages && cfg.Mode.MaxGroupSize <= 0 {
		cfg.Mode.MaxGroupSize = entries.DefaultMaxGroupSize
	}
	if cfg.Mode.GroupMessages && cfg.Mode.GroupWindow <= 0 {
		cfg.Mode.GroupWindow = entries.DefaultGroupWindow
	}

	c := &Controller{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		resolver:  anchor.NewResolver(),
		mode:      cfg.Mode,
		reproject: make(chan struct{}, 1),
		pending:   make(map[uint64]pendingMeta),
	}
	c.source = history.NewSource(deps.Store, cfg.Source, c.logger.With().Str("component", "history").Logger())
	c.seq = sequencer.New(deps.Surface, sequencer.Hooks{
		OnBuffered: c.onBuffered,
		OnApplied:  c.onApplied,
	}, c.logger.With().Str("component", "sequencer").Logger())
	c.tracker = visibility.NewTracker(cfg.Visibility, visibility.Deps{
		ReadState:         deps.ReadState,
		Batcher:           deps.Batcher,
		Prefetch:          deps.Prefetch,
		Navigator:         navigatorFunc(c.navigate),
		OnMaxVisibleIndex: c.onMaxVisibleIndex,
	}, c.logger.With().Str("component", "visibility").Logger())
	return c, nil
}

// ViewID returns the view identifier.
func (c *Controller) ViewID() string {
	return c.cfg.ViewID
}

// Start starts the history source and issues the initial location request,
// restoring the saved position when configured.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := c.source.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start history source: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.run(gctx) })
	c.cancel = cancel
	c.group = g
	c.started = true

	loc := history.Initial(0)
	if c.cfg.Restore && c.deps.Positions != nil {
		saved, ok, err := c.deps.Positions.Load(c.cfg.Chat)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Msg("failed to load saved scroll position")
		case ok:
			c.resolver.SetAnchor(saved)
			loc = history.Restore(saved.Index, saved.Offset, 0)
			c.logger.Debug().Str("index", saved.Index.String()).Int("offset", saved.Offset).Msg("restoring scroll position")
		}
	}
	if _, err := c.source.Request(loc); err != nil {
		return fmt.Errorf("failed to request initial history: %w", err)
	}
	return nil
}

// Close stops loading, waits for the worker and persists the scroll position.
func (c *Controller) Close() error {
	c.lifecycleMu.Lock()
	if !c.started || c.closed {
		c.lifecycleMu.Unlock()
		return nil
	}
	c.closed = true
	c.lifecycleMu.Unlock()

	c.cancel()
	c.source.Close()
	err := c.group.Wait()

	if c.deps.Positions != nil && c.hasApplied.Load() {
		if saved, ok := c.resolver.Anchor(); ok {
			if serr := c.deps.Positions.Save(c.cfg.Chat, saved); serr != nil {
				c.logger.Warn().Err(serr).Msg("failed to save scroll position")
			}
		} else if ferr := c.deps.Positions.Forget(c.cfg.Chat); ferr != nil {
			c.logger.Warn().Err(ferr).Msg("failed to clear scroll position")
		}
	}
	return err
}

func (c *Controller) run(ctx context.Context) error {
	evs := c.source.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-evs:
			if !ok {
				return nil
			}
			c.handleEvent(ev)
		case <-c.reproject:
			if c.lastSnap != nil {
				c.project(c.lastSnap, false)
			}
		}
	}
}

func (c *Controller) handleEvent(ev history.Event) {
	switch ev.Kind {
	case history.EventLoading:
		if ev.SideData != nil {
			c.sideData = ev.SideData
		}
		c.deps.Executor.Post(c.onLoading)
	case history.EventSnapshot:
		c.lastSnap = ev.Snapshot
		c.project(ev.Snapshot, true)
	case history.EventFailed:
		err := ev.Err
		c.logger.Warn().Err(err).Uint64("request_id", uint64(ev.RequestID)).Msg("history request failed")
		c.deps.Executor.Post(func() { c.onFailed(err) })
	}
}

// project runs projection and diffing on the worker goroutine and posts the
// transition to the UI goroutine. fresh is set for new snapshots and unset
// when the last snapshot is projected again after an input change.
func (c *Controller) project(snap *history.Snapshot, fresh bool) {
	start := time.Now()

	c.mu.Lock()
	mode := c.mode
	force := c.forceNext
	c.forceNext = false
	selection := c.selection
	c.mu.Unlock()

	side := snap.Window.SideData
	if side == nil {
		side = c.sideData
	}
	data := entries.AssociatedData{Selection: selection}
	if side != nil {
		data.ChatInfo = side.ChatInfo
		if len(side.Admins) > 0 {
			data.Admins = make(map[string]bool, len(side.Admins))
			for _, admin := range side.Admins {
				data.Admins[admin] = true
			}
		}
	}

	next := entries.Project(snap, mode, data)
	t := reconcile.Diff(c.previous, next, force)
	metrics.DiffDuration.Observe(time.Since(start).Seconds())
	metrics.DiffOperations.WithLabelValues("delete").Add(float64(len(t.Deletions)))
	metrics.DiffOperations.WithLabelValues("insert").Add(float64(len(t.Insertions)))
	metrics.DiffOperations.WithLabelValues("update").Add(float64(len(t.Updates)))

	if !fresh && t.Empty() {
		c.previous = next
		return
	}
	if !t.Initial {
		t.Reason = reasonFor(snap.Update, fresh)
	}
	c.nextSeq++
	t.Seq = c.nextSeq
	t.Options = reconcile.OptionsFor(t.Reason)
	t.RequestID = snap.RequestID
	t.EarlierID = snap.EarlierID()
	t.LaterID = snap.LaterID()
	t.ReadState = snap.Window.ReadState
	t.SideData = side

	meta := pendingMeta{
		previous:  c.previous,
		original:  snap.Original,
		freshPage: fresh && !snap.Placeholder,
	}
	if fresh {
		meta.explicit = snap.Scroll
	}
	if first, ok := snap.Window.First(); ok {
		last, _ := snap.Window.Last()
		meta.first, meta.last = &first, &last
	}
	c.previous = next

	c.logger.Debug().
		Uint64("seq", t.Seq).
		Str("update", snap.Update.String()).
		Str("reason", t.Reason.String()).
		Int("deletions", len(t.Deletions)).
		Int("insertions", len(t.Insertions)).
		Int("updates", len(t.Updates)).
		Msg("transition prepared")

	c.deps.Executor.Post(func() { c.enqueue(t, meta) })
}

// reasonFor maps a snapshot update to a transition reason. Replacing existing
// content with a new initial window fades in.
func reasonFor(update history.UpdateKind, fresh bool) reconcile.Reason {
	if !fresh {
		return reconcile.Reason{Kind: reconcile.ReasonInteractiveChanges}
	}
	switch update {
	case history.UpdateInitial, history.UpdateInitialUnread:
		return reconcile.Reason{Kind: reconcile.ReasonInitial, FadeIn: true}
	case history.UpdateFillHole:
		return reconcile.Reason{Kind: reconcile.ReasonHoleChanges}
	case history.UpdateVisible:
		return reconcile.Reason{Kind: reconcile.ReasonReload}
	default:
		return reconcile.Reason{Kind: reconcile.ReasonInteractiveChanges}
	}
}

func (c *Controller) requestReprojection(force bool) {
	c.mu.Lock()
	c.forceNext = c.forceNext || force
	c.mu.Unlock()
	select {
	case c.reproject <- struct{}{}:
	default:
	}
}

func (c *Controller) navigate(loc history.Location) error {
	_, err := c.source.Request(loc)
	return err
}

type navigatorFunc func(history.Location) error

func (f navigatorFunc) Navigate(loc history.Location) error { return f(loc) }
