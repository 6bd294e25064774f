package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chathistory/internal/config"
	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/store"
	"github.com/tOgg1/chathistory/internal/visibility"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Global.DataDir = filepath.Join(dir, "data")
	cfg.Global.ConfigDir = filepath.Join(dir, "config")
	require.NoError(t, cfg.EnsureDirectories())
	return &app{cfg: cfg, logger: zerolog.Nop()}
}

// runRoot executes the root command against an isolated home directory.
func runRoot(t *testing.T, home string, args ...string) string {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "xdg"))
	t.Setenv("CHATHISTORY_GLOBAL_DATA_DIR", filepath.Join(home, "data"))
	t.Setenv("CHATHISTORY_GLOBAL_CONFIG_DIR", filepath.Join(home, "config"))

	var out bytes.Buffer
	cmd := newRootCmd("test")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	require.NoError(t, cmd.ExecuteContext(t.Context()))
	return out.String()
}

func TestProjectionMode(t *testing.T) {
	cfg := config.DefaultConfig().Projection

	mode := projectionMode(cfg)
	require.False(t, mode.Reverse)
	require.True(t, mode.GroupMessages)
	require.Equal(t, 5*time.Minute, mode.GroupWindow)
	require.Equal(t, 10, mode.MaxGroupSize)
	require.True(t, mode.IncludeUnreadMarker)

	cfg.Presentation = "list"
	require.Equal(t, entries.ListMode(false), projectionMode(cfg))
}

func TestSeedFixture(t *testing.T) {
	a := newTestApp(t)
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chat: team
title: Team room
chat_info: Where the team talks
admins: [alice]
start: 2026-03-01T09:00:00Z
interval: 2m
messages:
  - author: alice
    text: good morning
    incoming: true
  - author: bob
    text: see attached
    incoming: true
    mention: true
    media:
      - kind: file
        size: 2048
  - author: me
    text: thanks
  - action: history_cleared
    incoming: true
holes:
  - from: 2026-02-01T00:00:00Z
    to: 2026-02-02T00:00:00Z
read_through: 1
`), 0o644))

	fx, err := loadFixture(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, fx.Interval)

	n, err := a.seed(ctx, fx)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	st, err := store.OpenSQLite(ctx, a.cfg.DatabasePath(), "team")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Messages)
	require.Equal(t, 1, stats.Holes)
	require.NotNil(t, stats.ReadState.MaxReadIndex)
	require.Equal(t, int64(1), stats.ReadState.MaxReadIndex.ID)
	// bob's message and the service message are incoming and after the read index
	require.Equal(t, 2, stats.ReadState.UnreadCount)

	side, err := st.CachedSideData(ctx)
	require.NoError(t, err)
	require.Equal(t, "Team room", side.Title)
	require.Equal(t, []string{"alice"}, side.Admins)
}

func TestSeedAppendsAfterExisting(t *testing.T) {
	a := newTestApp(t)
	ctx := t.Context()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	n, err := a.seed(ctx, generateFixture("general", 3, false, start))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	n, err = a.seed(ctx, generateFixture("general", 2, false, start.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	st, err := store.OpenSQLite(ctx, a.cfg.DatabasePath(), "general")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, stats.Messages)
}

func TestFixtureRejectsUnknownMedia(t *testing.T) {
	fx := fixture{Messages: []fixtureMessage{{Author: "a", Media: []fixtureMedia{{Kind: "hologram"}}}}}
	_, err := fx.build(1)
	require.ErrorContains(t, err, "unknown media kind")
}

func TestReplayPrintsHistory(t *testing.T) {
	a := newTestApp(t)
	ctx := t.Context()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := a.seed(ctx, generateFixture("general", 30, false, start))
	require.NoError(t, err)

	opts := defaultReplayOptions()
	opts.all = true
	var out bytes.Buffer
	require.NoError(t, a.runReplay(ctx, "general", opts, &out))
	require.Contains(t, out.String(), "message 1\n")
	require.Contains(t, out.String(), "message 30")

	opts = defaultReplayOptions()
	out.Reset()
	require.NoError(t, a.runReplay(ctx, "general", opts, &out))
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.LessOrEqual(t, len(lines), opts.height)
	require.Contains(t, out.String(), "message 30")
}

func TestReplayEmptyChat(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer
	require.NoError(t, a.runReplay(t.Context(), "nobody", defaultReplayOptions(), &out))
	require.Equal(t, "(no messages)\n", out.String())
}

func TestRootSeedAndStats(t *testing.T) {
	home := t.TempDir()

	out := runRoot(t, home, "seed", "--generate", "4", "--incoming=false")
	require.Contains(t, out, `seeded 4 messages into "general"`)

	out = runRoot(t, home, "stats")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, []string{"CHAT", "MESSAGES", "HOLES", "UNREAD", "READ", "THROUGH", "READ"}, strings.Fields(lines[0]))
	require.Equal(t, []string{"general", "4", "0", "0", "-", "no"}, strings.Fields(lines[1]))

	out = runRoot(t, home, "version")
	require.Equal(t, "chathistory test\n", out)
}

func TestWriteTableAlignsWideAndStyledCells(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeTable(&out, []string{"A", "B"}, [][]string{
		{"\x1b[1mbold\x1b[0m", "x"},
		{"日本", "y"},
	}))
	require.Equal(t, "A     B\n\x1b[1mbold\x1b[0m  x\n日本  y\n", out.String())
}

func TestMediaCacheFetch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "media")
	cache := mediaCache{dir: dir}
	cand := visibility.Candidate{Media: models.Media{ID: "01J0000000000000000000000A", Kind: models.MediaFile, Size: 42}}

	require.NoError(t, cache.fetch(t.Context(), cand))
	data, err := os.ReadFile(filepath.Join(dir, cand.Media.ID))
	require.NoError(t, err)
	require.Equal(t, "file 42\n", string(data))

	// a second fetch of the same media is a no-op
	require.NoError(t, cache.fetch(t.Context(), cand))
	require.NoError(t, cache.fetch(t.Context(), visibility.Candidate{}))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, cache.fetch(ctx, cand), context.Canceled)
}

func TestSessionFlushAcknowledgesBatches(t *testing.T) {
	ctx := t.Context()
	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"), "general")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	index := models.MessageIndex{Timestamp: 10, Namespace: seedNamespace, ID: 1}
	msg := &models.Message{
		Index:  index,
		Author: "ana",
		Flags:  models.FlagIncoming,
		Tags:   models.TagUnseenMention,
		Media:  []models.Media{{ID: "m1", Kind: models.MediaUnsupported}},
	}
	require.NoError(t, st.Append(ctx, msg))

	s := &session{chat: "general", store: st, logger: zerolog.Nop()}
	ids := []models.MessageID{index.MessageID()}
	require.NoError(t, s.flush(ctx, visibility.BatchMentions, ids))
	require.NoError(t, s.flush(ctx, visibility.BatchViewCount, ids))
	require.NoError(t, s.flush(ctx, visibility.BatchUnsupportedMedia, ids))

	pending, err := st.PendingRefetches(ctx)
	require.NoError(t, err)
	require.Equal(t, ids, pending)

	page, err := st.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.UpperBoundAnchor(), Count: 1})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	got := page.Entries[0].Message
	require.Zero(t, got.Tags&models.TagUnseenMention)
	views, ok := got.Attribute(models.AttributeViewCount)
	require.True(t, ok)
	require.Equal(t, 1, views.Count)
}
