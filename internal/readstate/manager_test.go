package readstate

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chathistory/internal/models"
)

func idx(ts int64) models.MessageIndex {
	return models.MessageIndex{Timestamp: ts, Namespace: 1, ID: ts}
}

func TestManager_LoadMissingFileOK(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "state", "read.json"), nil)
	require.NoError(t, m.Load())
	_, ok := m.ReadIndex("general", 1)
	require.False(t, ok)
}

func TestManager_AdvanceIsMonotonic(t *testing.T) {
	m := New("", nil)

	require.True(t, m.Advance("general", 1, idx(10)))
	require.False(t, m.Advance("general", 1, idx(5)))
	require.False(t, m.Advance("general", 1, idx(10)))
	require.True(t, m.Advance("general", 2, idx(5)))
	require.False(t, m.Advance(" ", 1, idx(50)))

	got, ok := m.ReadIndex("general", 1)
	require.True(t, ok)
	require.Equal(t, idx(10), got)
	require.NoError(t, m.Close())
}

func TestManager_PersistsAndForwards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "read.json")
	var mu sync.Mutex
	var forwarded []Advance
	m := New(path, func(advances []Advance) {
		mu.Lock()
		defer mu.Unlock()
		forwarded = append(forwarded, advances...)
	})
	m.SetDebounce(10 * time.Millisecond)

	w := m.ForChat("general")
	w.AdvanceReadIndex(1, idx(3))
	w.AdvanceReadIndex(1, idx(7))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(forwarded) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, Advance{Chat: "general", Namespace: 1, Index: idx(7)}, forwarded[0])
	mu.Unlock()

	_, err := os.Stat(path)
	require.NoError(t, err)

	reloaded := New(path, nil)
	require.NoError(t, reloaded.Load())
	got, ok := reloaded.ReadIndex("general", 1)
	require.True(t, ok)
	require.Equal(t, idx(7), got)
}

func TestManager_CloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "read.json")
	m := New(path, nil)
	m.SetDebounce(time.Hour)

	m.Advance("general", 1, idx(1))
	require.NoError(t, m.Close())

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"general"`)
}
