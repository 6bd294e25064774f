package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/chathistory/internal/anchor"
	"github.com/tOgg1/chathistory/internal/config"
	"github.com/tOgg1/chathistory/internal/dispatch"
	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/events"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/historyview"
	"github.com/tOgg1/chathistory/internal/logging"
	"github.com/tOgg1/chathistory/internal/metrics"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/readstate"
	"github.com/tOgg1/chathistory/internal/store"
	"github.com/tOgg1/chathistory/internal/surface"
	"github.com/tOgg1/chathistory/internal/visibility"
)

type sessionOptions struct {
	chat         string
	height       int
	presentation string
	restore      bool
	executor     historyview.Executor
}

// session is one wired history view with its collaborators.
type session struct {
	chat      string
	mode      entries.Mode
	store     *store.SQLiteStore
	readState *readstate.Manager
	batcher   *dispatch.Batcher
	prefetch  *dispatch.Prefetcher
	publisher *events.InMemoryPublisher
	surface   *surface.ListSurface
	ctrl      *historyview.Controller
	metrics   *http.Server
	logger    zerolog.Logger
}

func projectionMode(cfg config.ProjectionConfig) entries.Mode {
	if cfg.Presentation == "list" {
		return entries.ListMode(false)
	}
	mode := entries.BubbleMode()
	mode.GroupWindow = cfg.GroupWindow
	mode.MaxGroupSize = cfg.MaxGroupSize
	mode.IncludeUnreadMarker = cfg.UnreadMarker
	return mode
}

func (a *app) openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg := a.cfg
	projection := cfg.Projection
	if opts.presentation != "" {
		projection.Presentation = opts.presentation
	}
	mode := projectionMode(projection)

	st, err := store.OpenSQLiteWithOptions(ctx, cfg.DatabasePath(), opts.chat, store.SQLiteOptions{
		BusyTimeout: time.Duration(cfg.Database.BusyTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	s := &session{
		chat:      opts.chat,
		mode:      mode,
		store:     st,
		publisher: events.NewInMemoryPublisher(),
		logger:    logging.WithChat(opts.chat),
	}

	s.readState = readstate.New(cfg.ReadStatePath(), s.syncReadState)
	s.readState.SetDebounce(cfg.ReadState.Debounce)
	if err := s.readState.Load(); err != nil {
		s.logger.Warn().Err(err).Str("path", cfg.ReadStatePath()).Msg("failed to load read state, starting fresh")
	}

	s.batcher = dispatch.NewBatcher(dispatch.BatcherConfig{
		ViewCountDelay:   cfg.Dispatch.ViewCountDelay,
		UnsupportedDelay: cfg.Dispatch.UnsupportedMediaDelay,
		MentionDelay:     cfg.Dispatch.MentionDelay,
		RecentCapacity:   cfg.Dispatch.RecentCapacity,
		RecentTTL:        cfg.Dispatch.RecentTTL,
	}, s.flush, logging.Component("batcher"))

	cache := mediaCache{dir: filepath.Join(cfg.Global.DataDir, "media")}
	s.prefetch = dispatch.NewPrefetcher(ctx, cache.fetch, cfg.Prefetch.Workers, logging.Component("prefetch"))

	s.surface = surface.NewListSurface(surface.ListConfig{
		Height:  max(opts.height, 1),
		Preload: surface.DefaultPreload,
		Reverse: mode.Reverse,
	}, logging.Component("surface"))

	// Positions are saved whenever persistence is enabled, even if this
	// session opened at the unread position.
	var positions historyview.PositionStore
	if cfg.History.RestorePosition {
		positions = anchor.NewPositionStore(cfg.PositionsPath())
	}
	restore := opts.restore && positions != nil

	source := history.DefaultConfig()
	source.InitialCount = cfg.History.InitialCount
	source.PageSize = cfg.History.PageSize
	source.MaxWindow = cfg.History.MaxWindow

	viewID := uuid.NewString()
	s.logger = logging.WithView(opts.chat, viewID)

	ctrl, err := historyview.New(historyview.Config{
		ViewID: viewID,
		Chat:   opts.chat,
		Mode:   mode,
		Source: source,
		Visibility: visibility.Config{
			PaginationMargin: cfg.History.PaginationMargin,
			PrefetchLimit:    cfg.Prefetch.MaxItems,
		},
		Restore: restore,
	}, historyview.Deps{
		Store:     st,
		Surface:   s.surface,
		Executor:  opts.executor,
		ReadState: s.readState.ForChat(opts.chat),
		Batcher:   s.batcher,
		Prefetch:  s.prefetch,
		Publisher: s.publisher,
		Positions: positions,
	}, s.logger.With().Str("component", "historyview").Logger())
	if err != nil {
		s.close()
		return nil, err
	}
	s.ctrl = ctrl

	if cfg.Metrics.Addr != "" {
		srv, err := serveMetrics(cfg.Metrics.Addr, s.logger)
		if err != nil {
			s.close()
			return nil, err
		}
		s.metrics = srv
	}
	return s, nil
}

// syncReadState mirrors persisted read index advances into the store so
// unread counts follow what was seen.
func (s *session) syncReadState(advances []readstate.Advance) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, adv := range advances {
		if adv.Chat != s.chat {
			continue
		}
		if _, err := s.store.MarkRead(ctx, adv.Index); err != nil {
			s.logger.Warn().Err(err).Str("index", adv.Index.String()).Msg("failed to mark read")
		}
	}
}

// flush acknowledges one throttled batch.
func (s *session) flush(ctx context.Context, kind visibility.BatchKind, ids []models.MessageID) error {
	switch kind {
	case visibility.BatchMentions:
		n, err := s.store.ConsumeMentions(ctx, ids)
		if err != nil {
			return err
		}
		s.logger.Debug().Int("consumed", n).Msg("mentions acknowledged")
	case visibility.BatchViewCount:
		n, err := s.store.IncrementViews(ctx, ids)
		if err != nil {
			return err
		}
		s.logger.Debug().Int("viewed", n).Msg("view counts acknowledged")
	case visibility.BatchUnsupportedMedia:
		n, err := s.store.RequestMediaRefetch(ctx, ids)
		if err != nil {
			return err
		}
		s.logger.Debug().Int("queued", n).Msg("unsupported media refetch requested")
	}
	return nil
}

func (s *session) close() {
	s.logger.Debug().Int("subscribers", s.publisher.SubscriberCount()).Msg("closing view")
	if s.ctrl != nil {
		if err := s.ctrl.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("view closed with error")
		}
	}
	if s.batcher != nil {
		s.batcher.Close()
	}
	if s.prefetch != nil {
		s.prefetch.Close()
	}
	if s.readState != nil {
		if err := s.readState.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to save read state")
		}
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.metrics.Shutdown(ctx)
		cancel()
	}
	s.publisher.Close()
	_ = s.store.Close()
}

func serveMetrics(addr string, logger zerolog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on metrics address: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return srv, nil
}

// mediaCache marks media as fetched under dir, one file per media id.
type mediaCache struct {
	dir string
}

func (c mediaCache) fetch(ctx context.Context, cand visibility.Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cand.Media.ID == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create media cache: %w", err)
	}
	path := filepath.Join(c.dir, filepath.Base(cand.Media.ID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cache media %s: %w", cand.Media.ID, err)
	}
	_, err = fmt.Fprintf(f, "%s %d\n", cand.Media.Kind, cand.Media.Size)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}
