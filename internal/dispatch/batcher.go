package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/chathistory/internal/metrics"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/visibility"
)

const (
	DefaultViewCountDelay   = 100 * time.Millisecond
	DefaultUnsupportedDelay = 100 * time.Millisecond
	DefaultMentionDelay     = 200 * time.Millisecond
	DefaultRecentTTL        = 5 * time.Minute
)

// FlushFunc delivers one batch. It runs off the caller's goroutine.
type FlushFunc func(ctx context.Context, kind visibility.BatchKind, ids []models.MessageID) error

// BatcherConfig tunes per-kind throttling.
type BatcherConfig struct {
	ViewCountDelay   time.Duration
	UnsupportedDelay time.Duration
	MentionDelay     time.Duration
	RecentCapacity   int
	RecentTTL        time.Duration
}

// DefaultBatcherConfig returns the default throttling delays.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		ViewCountDelay:   DefaultViewCountDelay,
		UnsupportedDelay: DefaultUnsupportedDelay,
		MentionDelay:     DefaultMentionDelay,
		RecentCapacity:   defaultRecentCapacity,
		RecentTTL:        DefaultRecentTTL,
	}
}

func (c BatcherConfig) delay(kind visibility.BatchKind) time.Duration {
	switch kind {
	case visibility.BatchViewCount:
		return c.ViewCountDelay
	case visibility.BatchUnsupportedMedia:
		return c.UnsupportedDelay
	default:
		return c.MentionDelay
	}
}

type pendingBatch struct {
	ids   []models.MessageID
	timer *time.Timer
}

// Batcher coalesces message ids per kind and flushes each kind at most once
// per delay window. Ids flushed recently are skipped.
type Batcher struct {
	cfg    BatcherConfig
	flush  FlushFunc
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending map[visibility.BatchKind]*pendingBatch
	recent  map[visibility.BatchKind]*recentSet[models.MessageID]
}

// NewBatcher creates a batcher. Zero config fields take the defaults.
func NewBatcher(cfg BatcherConfig, flush FlushFunc, logger zerolog.Logger) *Batcher {
	defaults := DefaultBatcherConfig()
	if cfg.ViewCountDelay <= 0 {
		cfg.ViewCountDelay = defaults.ViewCountDelay
	}
	if cfg.UnsupportedDelay <= 0 {
		cfg.UnsupportedDelay = defaults.UnsupportedDelay
	}
	if cfg.MentionDelay <= 0 {
		cfg.MentionDelay = defaults.MentionDelay
	}
	if cfg.RecentTTL <= 0 {
		cfg.RecentTTL = defaults.RecentTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		cfg:     cfg,
		flush:   flush,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[visibility.BatchKind]*pendingBatch),
		recent:  make(map[visibility.BatchKind]*recentSet[models.MessageID]),
	}
}

// Add implements visibility.Batcher.
func (b *Batcher) Add(ids []models.MessageID, kind visibility.BatchKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	recent := b.recent[kind]
	if recent == nil {
		recent = newRecentSet[models.MessageID](b.cfg.RecentCapacity, b.cfg.RecentTTL)
		b.recent[kind] = recent
	}
	now := b.now()

	batch := b.pending[kind]
	for _, id := range ids {
		if recent.contains(id, now) {
			continue
		}
		recent.mark(id, now)
		if batch == nil {
			batch = &pendingBatch{}
			b.pending[kind] = batch
		}
		batch.ids = append(batch.ids, id)
	}
	if batch == nil || batch.timer != nil {
		return
	}
	batch.timer = time.AfterFunc(b.cfg.delay(kind), func() { b.fire(kind) })
}

// Pending returns the number of queued ids for kind.
func (b *Batcher) Pending(kind visibility.BatchKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if batch := b.pending[kind]; batch != nil {
		return len(batch.ids)
	}
	return 0
}

// Close flushes everything still queued and waits for in-flight flushes.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batches := make(map[visibility.BatchKind][]models.MessageID, len(b.pending))
	for kind, batch := range b.pending {
		if batch.timer != nil {
			batch.timer.Stop()
		}
		batches[kind] = batch.ids
	}
	b.pending = make(map[visibility.BatchKind]*pendingBatch)
	b.mu.Unlock()

	for kind, ids := range batches {
		b.deliver(kind, ids)
	}
	b.wg.Wait()
	b.cancel()
}

func (b *Batcher) fire(kind visibility.BatchKind) {
	b.mu.Lock()
	batch := b.pending[kind]
	if batch == nil || b.closed {
		b.mu.Unlock()
		return
	}
	delete(b.pending, kind)
	b.wg.Add(1)
	b.mu.Unlock()

	defer b.wg.Done()
	b.deliver(kind, batch.ids)
}

func (b *Batcher) deliver(kind visibility.BatchKind, ids []models.MessageID) {
	if len(ids) == 0 || b.flush == nil {
		return
	}
	metrics.BatchFlushes.WithLabelValues(kind.String()).Inc()
	metrics.BatchItems.WithLabelValues(kind.String()).Add(float64(len(ids)))

	if err := b.flush(b.ctx, kind, ids); err != nil {
		b.logger.Warn().Err(err).Str("kind", kind.String()).Int("count", len(ids)).Msg("batch flush failed")
		b.mu.Lock()
		if recent := b.recent[kind]; recent != nil {
			for _, id := range ids {
				recent.forget(id)
			}
		}
		b.mu.Unlock()
		return
	}
	b.logger.Debug().Str("kind", kind.String()).Int("count", len(ids)).Msg("batch flushed")
}
