package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/tOgg1/chathistory/internal/visibility"
)

// DefaultPrefetchWorkers bounds concurrent media fetches.
const DefaultPrefetchWorkers = 2

// MediaFetchFunc loads one media item ahead of display.
type MediaFetchFunc func(ctx context.Context, c visibility.Candidate) error

type generation struct {
	dir    visibility.Direction
	ctx    context.Context
	cancel context.CancelFunc
}

// Prefetcher fetches candidate media for the active scroll direction.
// Switching direction cancels fetches queued for the previous one.
type Prefetcher struct {
	fetch  MediaFetchFunc
	sem    *semaphore.Weighted
	logger zerolog.Logger

	parent context.Context
	wg     sync.WaitGroup

	mu       sync.Mutex
	gen      *generation
	inFlight map[string]bool
	done     *recentSet[string]
	closed   bool
}

// NewPrefetcher creates a prefetcher bounded to workers concurrent fetches.
func NewPrefetcher(ctx context.Context, fetch MediaFetchFunc, workers int, logger zerolog.Logger) *Prefetcher {
	if workers <= 0 {
		workers = DefaultPrefetchWorkers
	}
	return &Prefetcher{
		fetch:    fetch,
		sem:      semaphore.NewWeighted(int64(workers)),
		logger:   logger,
		parent:   ctx,
		inFlight: make(map[string]bool),
		done:     newRecentSet[string](defaultRecentCapacity, 0),
	}
}

// SetCandidates implements visibility.Prefetcher.
func (p *Prefetcher) SetCandidates(candidates []visibility.Candidate, dir visibility.Direction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	if p.gen == nil || p.gen.dir != dir {
		if p.gen != nil {
			p.logger.Debug().Str("direction", dir.String()).Msg("scroll direction changed; cancelling prefetch")
			p.gen.cancel()
		}
		ctx, cancel := context.WithCancel(p.parent)
		p.gen = &generation{dir: dir, ctx: ctx, cancel: cancel}
	}

	now := time.Now()
	for _, c := range candidates {
		id := c.Media.ID
		if id == "" || p.inFlight[id] || p.done.contains(id, now) {
			continue
		}
		p.inFlight[id] = true
		p.wg.Add(1)
		go p.run(p.gen.ctx, c)
	}
}

// Done reports whether the media was fetched.
func (p *Prefetcher) Done(mediaID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done.contains(mediaID, time.Now())
}

// Close cancels outstanding fetches and waits for them to exit.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	p.closed = true
	if p.gen != nil {
		p.gen.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Prefetcher) run(ctx context.Context, c visibility.Candidate) {
	defer p.wg.Done()

	err := p.sem.Acquire(ctx, 1)
	if err == nil {
		err = p.fetch(ctx, c)
		p.sem.Release(1)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, c.Media.ID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug().Err(err).Str("media", c.Media.ID).Msg("media prefetch failed")
		}
		return
	}
	p.done.mark(c.Media.ID, time.Now())
}
