// Package sequencer serializes transitions onto the rendering surface.
package sequencer

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/chathistory/internal/metrics"
	"github.com/tOgg1/chathistory/internal/reconcile"
	"github.com/tOgg1/chathistory/internal/surface"
)

// Surface applies one transition and calls done with the resulting visible
// range once the transition is fully applied. done must be called exactly
// once, on the UI goroutine.
type Surface interface {
	Apply(t reconcile.Transition, done func(surface.VisibleRange))
}

// State is the sequencer state.
type State uint8

const (
	StateNotMounted State = iota
	StateIdle
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateNotMounted:
		return "not_mounted"
	case StateIdle:
		return "idle"
	case StateApplying:
		return "applying"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type event uint8

const (
	eventEnqueue event = iota
	eventLayout
	eventApply
	eventComplete
)

func (e event) String() string {
	switch e {
	case eventEnqueue:
		return "enqueue"
	case eventLayout:
		return "layout"
	case eventApply:
		return "apply"
	case eventComplete:
		return "complete"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// transitions is the full state table. Missing entries are invariant violations.
var transitions = map[State]map[event]State{
	StateNotMounted: {
		eventEnqueue: StateNotMounted,
		eventLayout:  StateIdle,
	},
	StateIdle: {
		eventEnqueue: StateIdle,
		eventLayout:  StateIdle,
		eventApply:   StateApplying,
	},
	StateApplying: {
		eventEnqueue:  StateApplying,
		eventLayout:   StateApplying,
		eventComplete: StateIdle,
	},
}

// Hooks report derived state around application.
type Hooks struct {
	// OnBuffered runs for transitions enqueued before the first layout.
	OnBuffered func(t reconcile.Transition)
	// OnApplied runs after a transition completes, before the next is dequeued.
	OnApplied func(t reconcile.Transition, vr surface.VisibleRange)
}

// Sequencer guarantees at most one transition is being applied at a time.
type Sequencer struct {
	surface Surface
	hooks   Hooks
	logger  zerolog.Logger

	mu      sync.Mutex
	state   State
	queue   []reconcile.Transition
	lastSeq uint64
	pumping bool
}

// New creates a sequencer in the not-mounted state.
func New(s Surface, hooks Hooks, logger zerolog.Logger) *Sequencer {
	return &Sequencer{
		surface: s,
		hooks:   hooks,
		logger:  logger,
		state:   StateNotMounted,
	}
}

// State returns the current state and the number of queued transitions.
// Applying with a non-empty queue is the Queued(n) state.
func (s *Sequencer) State() (State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, len(s.queue)
}

// Mounted reports whether the first layout pass happened.
func (s *Sequencer) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateNotMounted
}

// Enqueue queues t. Each transition must carry a Seq greater than every
// previously enqueued one; enqueueing the same transition twice panics.
func (s *Sequencer) Enqueue(t reconcile.Transition) {
	s.mu.Lock()
	if t.Seq == 0 || t.Seq <= s.lastSeq {
		s.mu.Unlock()
		panic(fmt.Sprintf("sequencer: transition %d enqueued after %d", t.Seq, s.lastSeq))
	}
	s.lastSeq = t.Seq
	s.queue = append(s.queue, t)
	s.mustFireLocked(eventEnqueue)
	mounted := s.state != StateNotMounted
	metrics.SequencerQueueDepth.Set(float64(len(s.queue)))
	s.mu.Unlock()

	if !mounted {
		s.logger.Debug().Uint64("seq", t.Seq).Msg("buffering transition until first layout")
		if s.hooks.OnBuffered != nil {
			s.hooks.OnBuffered(t)
		}
		return
	}
	s.pump()
}

// Layout signals a layout pass. The first one mounts the surface and applies
// buffered transitions.
func (s *Sequencer) Layout() {
	s.mu.Lock()
	first := s.state == StateNotMounted
	s.mustFireLocked(eventLayout)
	s.mu.Unlock()

	if first {
		s.pump()
	}
}

func (s *Sequencer) pump() {
	s.mu.Lock()
	if s.pumping {
		s.mu.Unlock()
		return
	}
	s.pumping = true
	for s.state == StateIdle && len(s.queue) > 0 {
		t := s.queue[0]
		s.queue[0] = reconcile.Transition{}
		s.queue = s.queue[1:]
		s.mustFireLocked(eventApply)
		metrics.SequencerQueueDepth.Set(float64(len(s.queue)))
		s.mu.Unlock()

		s.surface.Apply(t, func(vr surface.VisibleRange) {
			s.complete(t, vr)
		})

		s.mu.Lock()
	}
	s.pumping = false
	s.mu.Unlock()
}

func (s *Sequencer) complete(t reconcile.Transition, vr surface.VisibleRange) {
	s.mu.Lock()
	s.mustFireLocked(eventComplete)
	s.mu.Unlock()

	metrics.TransitionsApplied.WithLabelValues(t.Reason.String()).Inc()
	if s.hooks.OnApplied != nil {
		s.hooks.OnApplied(t, vr)
	}
	s.pump()
}

// mustFireLocked advances the state machine. On an illegal event it releases
// the lock before panicking.
func (s *Sequencer) mustFireLocked(ev event) {
	next, ok := transitions[s.state][ev]
	if !ok {
		state := s.state
		s.mu.Unlock()
		panic(fmt.Sprintf("sequencer: illegal event %s in state %s", ev, state))
	}
	s.state = next
}
