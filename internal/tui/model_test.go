package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/events"
	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/historyview"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/reconcile"
	"github.com/tOgg1/chathistory/internal/surface"
	"github.com/tOgg1/chathistory/internal/visibility"
)

type fakeController struct {
	layouts       int
	ranges        []surface.VisibleRange
	directions    []visibility.Direction
	presentations []historyview.Presentation
	selections    [][]models.MessageID
	toStart       int
	toEnd         int
	nextMessages  int
}

func (f *fakeController) Layout() { f.layouts++ }
func (f *fakeController) VisibleRangeChanged(vr surface.VisibleRange) {
	f.ranges = append(f.ranges, vr)
}
func (f *fakeController) ScrollToStartOfHistory() error { f.toStart++; return nil }
func (f *fakeController) ScrollToEndOfHistory() error   { f.toEnd++; return nil }
func (f *fakeController) ScrollToNextMessage() bool      { f.nextMessages++; return true }
func (f *fakeController) SetPresentation(p historyview.Presentation) {
	f.presentations = append(f.presentations, p)
}
func (f *fakeController) SetSelection(ids []models.MessageID) {
	f.selections = append(f.selections, ids)
}
func (f *fakeController) SetScrollDirection(dir visibility.Direction) {
	f.directions = append(f.directions, dir)
}

func newTestModel(t *testing.T, n int) (*Model, *fakeController, *surface.ListSurface) {
	t.Helper()
	ctrl := &fakeController{}
	list := surface.NewListSurface(surface.ListConfig{Height: 10}, zerolog.Nop())
	m, err := NewModel(Config{Title: "general"}, ctrl, list, NewExecutor(), zerolog.Nop())
	require.NoError(t, err)

	var next []entries.Entry
	for i := 1; i <= n; i++ {
		next = append(next, messageEntry(int64(i), "ana", "hello", true, true))
	}
	tr := reconcile.Diff(nil, next, false)
	if n > 0 {
		tr.ScrollIntent = &reconcile.ScrollIntent{Index: n - 1, Position: history.ScrollPosition{Kind: history.PositionBottom}}
	}
	list.Apply(tr, func(surface.VisibleRange) {})
	return m, ctrl, list
}

func TestModelResizeLaysOutController(t *testing.T) {
	m, ctrl, list := newTestModel(t, 20)

	m.Update(tea.WindowSizeMsg{Width: 40, Height: 8})

	require.Equal(t, 1, ctrl.layouts)
	require.Equal(t, 6, list.Height())
	require.True(t, list.AtEnd())

	view := m.View()
	require.Contains(t, view, "general")
	require.Contains(t, view, "hello")
}

func TestModelScrollKeysReportDirection(t *testing.T) {
	m, ctrl, list := newTestModel(t, 20)
	m.Update(tea.WindowSizeMsg{Width: 40, Height: 8})
	before := list.Offset()

	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	require.Equal(t, before-1, list.Offset())
	require.Equal(t, []visibility.Direction{visibility.DirectionEarlier}, ctrl.directions)
	require.NotEmpty(t, ctrl.ranges)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")})
	require.Equal(t, 1, ctrl.toEnd)
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")})
	require.Equal(t, 1, ctrl.toStart)
}

func TestModelThemeCycleChangesPresentation(t *testing.T) {
	m, ctrl, _ := newTestModel(t, 3)
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("t")})

	require.Equal(t, []historyview.Presentation{{Theme: "light"}}, ctrl.presentations)
	require.Equal(t, "light", m.renderer.Styles.Theme.Name)
}

func TestModelToggleSelection(t *testing.T) {
	m, ctrl, _ := newTestModel(t, 3)
	m.Update(tea.WindowSizeMsg{Width: 40, Height: 12})

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.Equal(t, [][]models.MessageID{{{ID: 3}}}, ctrl.selections)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.Len(t, ctrl.selections, 2)
	require.Empty(t, ctrl.selections[1])
}

func TestModelDrainsExecutorAndTracksEvents(t *testing.T) {
	m, _, _ := newTestModel(t, 0)
	pub := events.NewInMemoryPublisher()
	require.NoError(t, m.Subscribe(pub, "view-1"))

	m.exec.Post(func() {
		ev := events.New(events.TypeLoadState, "view-1", "general")
		ev.LoadState = events.LoadStateEmpty
		pub.Publish(t.Context(), ev)

		hs := events.New(events.TypeHistoryState, "view-1", "general")
		hs.AtEarliest, hs.AtLatest = true, true
		pub.Publish(t.Context(), hs)
	})
	m.Update(drainMsg{})

	require.Equal(t, events.LoadStateEmpty, m.loadState)
	require.True(t, m.atEarliest)

	m.Update(tea.WindowSizeMsg{Width: 40, Height: 6})
	view := m.View()
	require.Contains(t, view, "no messages yet")
	require.Contains(t, view, "start of history")
}

func TestModelNextMessageKeyAndLatestIndicator(t *testing.T) {
	m, ctrl, _ := newTestModel(t, 5)
	pub := events.NewInMemoryPublisher()
	require.NoError(t, m.Subscribe(pub, "view-1"))
	m.Update(tea.WindowSizeMsg{Width: 60, Height: 6})

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	require.Equal(t, 1, ctrl.nextMessages)
	require.NotContains(t, m.View(), "newer messages below")

	m.exec.Post(func() {
		ev := events.New(events.TypeScrolledToLatest, "view-1", "general")
		ev.AtLatest = false
		pub.Publish(t.Context(), ev)
	})
	m.Update(drainMsg{})
	require.Contains(t, m.View(), "newer messages below")
}
