package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
)

func idx(ts int64) models.MessageIndex {
	return models.MessageIndex{Timestamp: ts, Namespace: 1, ID: ts}
}

func message(ts int64, incoming bool) *models.Message {
	msg := &models.Message{Index: idx(ts), Author: "ana", Text: "message"}
	if incoming {
		msg.Flags = models.FlagIncoming
	}
	return msg
}

func indexes(list []models.RawEntry) []int64 {
	out := make([]int64, 0, len(list))
	for _, e := range list {
		out = append(out, e.Index().Timestamp)
	}
	return out
}

type storeFactory func(t *testing.T) HistoryStore

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) HistoryStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) HistoryStore {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"), "chat-1")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

// seed stores messages 10, 20, ..., 100.
func seed(t *testing.T, s HistoryStore) {
	t.Helper()
	ctx := context.Background()
	for ts := int64(10); ts <= 100; ts += 10 {
		require.NoError(t, s.Append(ctx, message(ts, true)))
	}
}

func TestStoreDirectionalFetch(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			seed(t, s)
			ctx := context.Background()

			page, err := s.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.UpperBoundAnchor(), Count: 3})
			require.NoError(t, err)
			require.Equal(t, []int64{80, 90, 100}, indexes(page.Entries))
			require.Equal(t, idx(70), *page.EarlierID)
			require.Nil(t, page.LaterID)

			page, err = s.Fetch(ctx, history.FetchRequest{Direction: history.FetchEarlier, Anchor: history.MessageAnchor(idx(80)), Count: 3})
			require.NoError(t, err)
			require.Equal(t, []int64{50, 60, 70}, indexes(page.Entries))
			require.Equal(t, idx(40), *page.EarlierID)
			require.Equal(t, idx(80), *page.LaterID)

			page, err = s.Fetch(ctx, history.FetchRequest{Direction: history.FetchLater, Anchor: history.MessageAnchor(idx(80)), Count: 3})
			require.NoError(t, err)
			require.Equal(t, []int64{90, 100}, indexes(page.Entries))
			require.Equal(t, idx(80), *page.EarlierID)
			require.Nil(t, page.LaterID)

			page, err = s.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.MessageAnchor(idx(50)), Count: 4})
			require.NoError(t, err)
			require.Equal(t, []int64{30, 40, 50, 60}, indexes(page.Entries))

			page, err = s.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.LowerBoundAnchor(), Count: 3})
			require.NoError(t, err)
			require.Equal(t, []int64{10, 20, 30}, indexes(page.Entries))
			require.Nil(t, page.EarlierID)
		})
	}
}

func TestStoreRangeFetch(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			seed(t, s)

			page, err := s.Fetch(context.Background(), history.FetchRequest{
				Direction: history.FetchRange,
				Min:       history.MessageAnchor(idx(30)),
				Max:       history.MessageAnchor(idx(50)),
			})
			require.NoError(t, err)
			require.Equal(t, []int64{30, 40, 50}, indexes(page.Entries))
			require.Equal(t, idx(20), *page.EarlierID)
			require.Equal(t, idx(60), *page.LaterID)
		})
	}
}

func TestStoreUnreadAnchor(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			seed(t, s)
			ctx := context.Background()

			moved, err := s.MarkRead(ctx, idx(40))
			require.NoError(t, err)
			require.True(t, moved)
			moved, err = s.MarkRead(ctx, idx(30))
			require.NoError(t, err)
			require.False(t, moved)

			page, err := s.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.Anchor{Kind: history.AnchorUnread}, Count: 4})
			require.NoError(t, err)
			require.NotNil(t, page.UnreadAnchor)
			require.Equal(t, idx(50), *page.UnreadAnchor)
			require.Equal(t, []int64{30, 40, 50, 60}, indexes(page.Entries))
			require.True(t, page.Entries[1].Read)
			require.False(t, page.Entries[2].Read)
			require.Equal(t, 6, page.ReadState.UnreadCount)
		})
	}
}

func TestStoreHoleLifecycle(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, message(10, false)))
			require.NoError(t, s.InsertHole(ctx, models.Hole{Min: idx(11), Max: idx(49)}))
			require.NoError(t, s.Append(ctx, message(50, false)))

			page, err := s.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.UpperBoundAnchor(), Count: 10})
			require.NoError(t, err)
			require.Equal(t, []int64{10, 49, 50}, indexes(page.Entries))
			require.Equal(t, models.EntryHole, page.Entries[1].Kind)
			require.Equal(t, idx(11), page.Entries[1].Hole.Min)

			require.NoError(t, s.FillHole(ctx, idx(49), []*models.Message{message(20, false), message(30, false)}))
			require.ErrorIs(t, s.FillHole(ctx, idx(49), nil), ErrNotFound)

			page, err = s.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.UpperBoundAnchor(), Count: 10})
			require.NoError(t, err)
			require.Equal(t, []int64{10, 20, 30, 50}, indexes(page.Entries))
			require.NoError(t, models.ValidateEntries(page.Entries))
		})
	}
}

func TestStoreMutations(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			msg := message(10, true)
			msg.Media = []models.Media{{ID: "m1", Kind: models.MediaImage, Size: 42}}
			msg.Attributes = []models.Attribute{{Kind: models.AttributeViewCount, Count: 3}}
			require.NoError(t, s.Append(ctx, msg))
			require.ErrorIs(t, s.Append(ctx, msg), ErrDuplicate)

			edited := message(10, true)
			edited.Text = "edited"
			edited.Revision = 2
			require.NoError(t, s.Edit(ctx, edited))
			require.ErrorIs(t, s.Edit(ctx, message(99, true)), ErrNotFound)

			page, err := s.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.UpperBoundAnchor(), Count: 5})
			require.NoError(t, err)
			require.Len(t, page.Entries, 1)
			require.Equal(t, "edited", page.Entries[0].Message.Text)
			require.Equal(t, int64(2), page.Entries[0].Message.Revision)

			require.Error(t, s.Append(ctx, &models.Message{Index: models.MessageIndex{Timestamp: 1, ID: 1}}))
		})
	}
}

func TestStoreSideData(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			cached, err := s.CachedSideData(ctx)
			require.NoError(t, err)
			require.Nil(t, cached)

			data := &models.SideData{Title: "General", ChatInfo: "about", Admins: []string{"ana"}, PinnedMessage: &models.MessageID{Namespace: 1, ID: 10}}
			require.NoError(t, s.SetSideData(ctx, data))

			cached, err = s.CachedSideData(ctx)
			require.NoError(t, err)
			require.Equal(t, data, cached)
		})
	}
}

func TestStoreNotifiesChanges(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, message(10, true)))
			require.NoError(t, s.InsertHole(ctx, models.Hole{Min: idx(11), Max: idx(19)}))

			kinds := []history.ChangeKind{}
			for len(kinds) < 2 {
				select {
				case change := <-s.Changes():
					kinds = append(kinds, change.Kind)
				case <-time.After(time.Second):
					t.Fatal("timed out waiting for change notification")
				}
			}
			require.Equal(t, []history.ChangeKind{history.ChangeAppended, history.ChangeHoleFilled}, kinds)
		})
	}
}

func TestMemoryStoreFetchHook(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")
	s.SetFetchHook(func(context.Context, history.FetchRequest) error { return boom })

	_, err := s.Fetch(context.Background(), history.FetchRequest{Direction: history.FetchAround, Anchor: history.UpperBoundAnchor(), Count: 1})
	require.ErrorIs(t, err, boom)
}

func TestSQLiteStats(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"), "chat-1")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, message(10, true)))
	require.NoError(t, s.InsertHole(ctx, models.Hole{Min: idx(11), Max: idx(19)}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Messages)
	require.Equal(t, 1, stats.Holes)
	require.Equal(t, 1, stats.ReadState.UnreadCount)
}

func TestSQLiteRetriesWhileAnotherWriterHoldsTheLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := OpenSQLiteWithOptions(ctx, path, "chat-1", SQLiteOptions{BusyTimeout: time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	holder, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer holder.Close()
	tx, err := holder.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO side_data (chat) VALUES ('other')`)
	require.NoError(t, err)

	released := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		released <- tx.Commit()
	}()

	require.NoError(t, s.Append(ctx, message(10, true)))
	require.NoError(t, <-released)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Messages)
}

func TestRetryPolicyStopsOnOtherErrors(t *testing.T) {
	attempts := 0
	err := retryPolicy{attempts: 3, backoff: time.Millisecond}.run(context.Background(), func() error {
		attempts++
		return errors.New("syntax error")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.False(t, isBusy(nil))
}

func TestSQLiteConsumeMentions(t *testing.T) {
	s, err := OpenSQLiteWithOptions(context.Background(), filepath.Join(t.TempDir(), "history.db"), "chat-1",
		SQLiteOptions{BusyTimeout: time.Second})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	mention := message(10, true)
	mention.Tags = models.TagUnseenMention
	require.NoError(t, s.Append(ctx, mention))
	require.NoError(t, s.Append(ctx, message(20, true)))
	for len(s.Changes()) > 0 {
		<-s.Changes()
	}

	n, err := s.ConsumeMentions(ctx, []models.MessageID{idx(10).MessageID(), idx(20).MessageID(), {Namespace: 9, ID: 9}})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, history.Change{Kind: history.ChangeEdited, Index: idx(10)}, <-s.Changes())

	page, err := s.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.UpperBoundAnchor(), Count: 10})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.Zero(t, page.Entries[0].Message.Tags)

	n, err = s.ConsumeMentions(ctx, []models.MessageID{idx(10).MessageID()})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSQLiteIncrementViews(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"), "chat-1")
	require.NoError(t, err)
	defer s.Close()

	viewed := message(10, true)
	viewed.Attributes = []models.Attribute{{Kind: models.AttributeViewCount, Count: 4}}
	require.NoError(t, s.Append(ctx, viewed))
	require.NoError(t, s.Append(ctx, message(20, true)))
	for len(s.Changes()) > 0 {
		<-s.Changes()
	}

	n, err := s.IncrementViews(ctx, []models.MessageID{idx(10).MessageID(), idx(20).MessageID(), {Namespace: 9, ID: 9}})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, history.Change{Kind: history.ChangeEdited, Index: idx(10)}, <-s.Changes())

	page, err := s.Fetch(ctx, history.FetchRequest{Direction: history.FetchAround, Anchor: history.UpperBoundAnchor(), Count: 10})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)

	attr, ok := page.Entries[0].Message.Attribute(models.AttributeViewCount)
	require.True(t, ok)
	require.Equal(t, 5, attr.Count)
	require.Equal(t, int64(1), page.Entries[0].Message.Revision)

	attr, ok = page.Entries[1].Message.Attribute(models.AttributeViewCount)
	require.True(t, ok)
	require.Equal(t, 1, attr.Count)
}

func TestSQLiteRequestMediaRefetch(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"), "chat-1")
	require.NoError(t, err)
	defer s.Close()

	unsupported := message(10, true)
	unsupported.Media = []models.Media{{ID: "m1", Kind: models.MediaUnsupported}}
	image := message(20, true)
	image.Media = []models.Media{{ID: "m2", Kind: models.MediaImage}}
	require.NoError(t, s.Append(ctx, unsupported))
	require.NoError(t, s.Append(ctx, image))

	ids := []models.MessageID{idx(10).MessageID(), idx(20).MessageID(), {Namespace: 9, ID: 9}}
	n, err := s.RequestMediaRefetch(ctx, ids)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.RequestMediaRefetch(ctx, ids)
	require.NoError(t, err)
	require.Zero(t, n)

	pending, err := s.PendingRefetches(ctx)
	require.NoError(t, err)
	require.Equal(t, []models.MessageID{idx(10).MessageID()}, pending)
}
