package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/tOgg1/chathistory/internal/events"
	"github.com/tOgg1/chathistory/internal/historyview"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/surface"
	"github.com/tOgg1/chathistory/internal/visibility"
)

// chromeRows is the number of rows taken by the header and footer.
const chromeRows = 2

// Controller is the part of historyview.Controller the model drives.
type Controller interface {
	Layout()
	VisibleRangeChanged(vr surface.VisibleRange)
	ScrollToStartOfHistory() error
	ScrollToEndOfHistory() error
	SetPresentation(p historyview.Presentation)
	SetSelection(ids []models.MessageID)
	SetScrollDirection(dir visibility.Direction)
	ScrollToNextMessage() bool
}

// Config configures a Model.
type Config struct {
	Title          string
	Theme          string
	Locale         string
	ShowTimestamps bool
	// Reverse must match the surface: newest entries are at the top.
	Reverse bool
}

// Model is the bubbletea model hosting one history view.
type Model struct {
	cfg      Config
	ctrl     Controller
	surface  *surface.ListSurface
	exec     *Executor
	renderer Renderer
	logger   zerolog.Logger

	width    int
	height   int
	showHelp bool

	selected map[models.MessageID]bool

	// status, updated from view events on the program goroutine
	loadState  events.LoadState
	atEarliest bool
	atLatest   bool
	onLatest   bool
	lastErr    string
}

// NewModel creates the model and connects the surface to the controller.
func NewModel(cfg Config, ctrl Controller, list *surface.ListSurface, exec *Executor, logger zerolog.Logger) (*Model, error) {
	if ctrl == nil || list == nil || exec == nil {
		return nil, errors.New("tui: controller, surface and executor are required")
	}
	theme, err := LookupTheme(cfg.Theme)
	if err != nil {
		return nil, err
	}
	cfg.Theme = theme.Name

	m := &Model{
		cfg:     cfg,
		ctrl:    ctrl,
		surface: list,
		exec:    exec,
		renderer: Renderer{
			Styles:         NewStyles(theme),
			ShowTimestamps: cfg.ShowTimestamps,
			Locale:         cfg.Locale,
		},
		logger:    logger,
		selected:  make(map[models.MessageID]bool),
		loadState: events.LoadStateLoading,
		onLatest:  true,
	}
	list.SetMeasure(m.renderer.Measure)
	list.SetVisibleRangeChanged(ctrl.VisibleRangeChanged)
	return m, nil
}

// Subscribe feeds the model's status line from view events.
func (m *Model) Subscribe(pub events.Publisher, viewID string) error {
	filter := events.Filter{
		View: viewID,
		Types: []events.Type{
			events.TypeInitialData,
			events.TypeLoadState,
			events.TypeHistoryState,
			events.TypeScrolledToLatest,
			events.TypeHistoryFailed,
		},
	}
	return pub.Subscribe("tui-"+viewID, filter, m.handleEvent)
}

// handleEvent runs on the program goroutine: the controller publishes from
// closures drained in Update.
func (m *Model) handleEvent(ev *events.Event) {
	switch ev.Type {
	case events.TypeInitialData:
		if ev.Message != "" {
			m.cfg.Title = ev.Message
		}
		m.loadState = ev.LoadState
	case events.TypeLoadState:
		m.loadState = ev.LoadState
		m.lastErr = ""
	case events.TypeHistoryState:
		m.atEarliest = ev.AtEarliest
		m.atLatest = ev.AtLatest
	case events.TypeScrolledToLatest:
		m.onLatest = ev.AtLatest
	case events.TypeHistoryFailed:
		m.lastErr = ev.Message
	}
}

// Run starts the program and blocks until it exits.
func (m *Model) Run(ctx context.Context) error {
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.exec.Attach(program.Send)
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Model) Init() tea.Cmd {
	if m.cfg.Title != "" {
		return tea.SetWindowTitle(m.cfg.Title)
	}
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case drainMsg:
		m.exec.Drain()
		return m, nil
	case tea.WindowSizeMsg:
		m.resize(typed.Width, typed.Height)
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(typed)
	case tea.MouseMsg:
		switch typed.Button {
		case tea.MouseButtonWheelUp:
			m.scroll(-3)
		case tea.MouseButtonWheelDown:
			m.scroll(3)
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.renderer.Width = width
	m.surface.SetMeasure(m.renderer.Measure)
	m.surface.Resize(m.bodyHeight())
	m.ctrl.Layout()
}

func (m *Model) bodyHeight() int {
	return max(m.height-chromeRows, 1)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c":
		return tea.Quit
	case "?":
		m.showHelp = !m.showHelp
	case "up", "k":
		m.scroll(-1)
	case "down", "j":
		m.scroll(1)
	case "pgup", "b":
		m.scroll(-m.bodyHeight())
	case "pgdown", "f", " ":
		m.scroll(m.bodyHeight())
	case "home", "g":
		m.report(m.ctrl.ScrollToStartOfHistory())
	case "end", "G":
		m.report(m.ctrl.ScrollToEndOfHistory())
	case "n":
		m.ctrl.ScrollToNextMessage()
	case "t":
		m.cycleTheme()
	case "x":
		m.toggleSelection()
	}
	return nil
}

// scroll moves the viewport by rows and tells the controller which way
// through history the user is heading.
func (m *Model) scroll(rows int) {
	if rows == 0 {
		return
	}
	towardEnd := rows > 0
	dir := visibility.DirectionEarlier
	if towardEnd != m.cfg.Reverse {
		dir = visibility.DirectionLater
	}
	m.ctrl.SetScrollDirection(dir)
	m.surface.ScrollBy(rows)
}

func (m *Model) report(err error) {
	if err != nil {
		m.logger.Warn().Err(err).Msg("scroll request failed")
		m.lastErr = err.Error()
	}
}

func (m *Model) cycleTheme() {
	names := ThemeNames()
	next := names[0]
	for i, name := range names {
		if name == m.cfg.Theme {
			next = names[(i+1)%len(names)]
			break
		}
	}
	m.cfg.Theme = next
	m.renderer.Styles = NewStyles(Themes[next])
	m.surface.SetMeasure(m.renderer.Measure)
	m.ctrl.SetPresentation(historyview.Presentation{Theme: next, Locale: m.cfg.Locale})
}

// toggleSelection selects or clears the newest visible message.
func (m *Model) toggleSelection() {
	list := m.surface.Entries()
	visible := m.surface.VisibleRange().Visible
	if visible.Empty() {
		return
	}
	last := min(visible.Last, len(list)-1)
	for n := 0; n <= last-visible.First; n++ {
		// newest first: the bottom of a chat list, the top of a reversed one
		i := last - n
		if m.cfg.Reverse {
			i = visible.First + n
		}
		if !list[i].IsMessage() || len(list[i].Items) == 0 {
			continue
		}
		items := list[i].Items
		id := items[len(items)-1].Message.Index.MessageID()
		if m.selected[id] {
			delete(m.selected, id)
		} else {
			m.selected[id] = true
		}
		m.ctrl.SetSelection(m.selection())
		return
	}
}

func (m *Model) selection() []models.MessageID {
	ids := make([]models.MessageID, 0, len(m.selected))
	for id := range m.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Namespace != ids[j].Namespace {
			return ids[i].Namespace < ids[j].Namespace
		}
		return ids[i].ID < ids[j].ID
	})
	return ids
}

func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "loading…"
	}
	header := m.renderHeader()
	footer := m.renderFooter()
	return lipgloss.JoinVertical(lipgloss.Left, header, m.renderBody(), footer)
}

func (m *Model) renderBody() string {
	height := m.bodyHeight()
	if m.showHelp {
		return padLines(helpLines(), height)
	}

	window, skip := m.surface.Window()
	lines := m.renderer.RenderAll(window)
	if skip > 0 && skip <= len(lines) {
		lines = lines[skip:]
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	if len(lines) == 0 {
		switch m.loadState {
		case events.LoadStateEmpty:
			lines = []string{m.renderer.Styles.Hole.Render(m.renderer.center("no messages yet"))}
		case events.LoadStateLoading:
			lines = []string{m.renderer.Styles.Hole.Render(m.renderer.center("loading…"))}
		}
	}
	return padLines(lines, height)
}

func (m *Model) renderHeader() string {
	title := m.cfg.Title
	if title == "" {
		title = "chat"
	}
	return m.renderer.Styles.Header.Render(fitLine(fmt.Sprintf("%s · %s", title, m.loadState), m.width))
}

func (m *Model) renderFooter() string {
	var parts []string
	if m.atEarliest {
		parts = append(parts, "start of history")
	}
	if m.atLatest {
		parts = append(parts, "latest")
	}
	if !m.onLatest {
		where := "below"
		if m.cfg.Reverse {
			where = "above"
		}
		parts = append(parts, "newer messages "+where)
	}
	if len(m.selected) > 0 {
		parts = append(parts, fmt.Sprintf("%d selected", len(m.selected)))
	}
	if m.lastErr != "" {
		return m.renderer.Styles.Unread.Render(fitLine("error: "+m.lastErr, m.width))
	}
	parts = append(parts, "? help")
	return m.renderer.Styles.Footer.Render(fitLine(strings.Join(parts, " · "), m.width))
}

func helpLines() []string {
	return []string{
		"j/k, up/down   scroll one row",
		"f/b, pgdn/pgup scroll one page",
		"g/G, home/end  jump to start/end of history",
		"n              bring the next message to the top",
		"x              toggle selection of the newest visible message",
		"t              cycle theme",
		"q              quit",
	}
}

func padLines(lines []string, height int) string {
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func fitLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(runes[:width-1]) + "…"
}
