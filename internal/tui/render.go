package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/tOgg1/chathistory/internal/entries"
	"github.com/tOgg1/chathistory/internal/logging"
	"github.com/tOgg1/chathistory/internal/models"
)

const minRenderWidth = 20

// Renderer turns display entries into terminal lines.
type Renderer struct {
	Styles         Styles
	Width          int
	ShowTimestamps bool
	// Locale selects the timestamp layout: "iso" or anything else for clock time.
	Locale string
}

// Render returns the lines of one entry. It never returns zero lines.
func (r Renderer) Render(e entries.Entry) []string {
	var lines []string
	switch e.Kind {
	case entries.KindMessage, entries.KindMessageGroup:
		lines = r.renderMessages(e.Items)
	case entries.KindHole:
		lines = []string{r.Styles.Hole.Render(r.center("· · · loading history · · ·"))}
	case entries.KindUnreadMarker:
		lines = []string{r.Styles.Marker.Render(r.rule(" unread messages "))}
	case entries.KindChatInfo:
		lines = r.renderInfo(e.Text)
	case entries.KindSearchHeader:
		lines = []string{r.Styles.Header.Render("search results")}
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

// Measure returns the number of rows Render produces for e.
func (r Renderer) Measure(e entries.Entry) int {
	return len(r.Render(e))
}

// RenderAll renders every entry, separated by nothing.
func (r Renderer) RenderAll(list []entries.Entry) []string {
	var out []string
	for _, e := range list {
		out = append(out, r.Render(e)...)
	}
	return out
}

func (r Renderer) width() int {
	return max(r.Width, minRenderWidth)
}

func (r Renderer) renderMessages(items []entries.Item) []string {
	if len(items) == 0 {
		return nil
	}
	first := items[0].Message
	if action, ok := first.Action(); ok && len(items) == 1 {
		return []string{r.Styles.System.Render(r.center(actionText(action, first)))}
	}

	lines := []string{r.renderAuthor(items[0])}
	for _, item := range items {
		gutter := "  "
		if item.Selected {
			gutter = r.Styles.Selected.Render("▌ ")
		}
		for _, line := range r.renderBody(item) {
			lines = append(lines, gutter+line)
		}
	}
	return lines
}

func (r Renderer) renderAuthor(item entries.Item) string {
	msg := item.Message
	name := msg.Author
	if name == "" {
		name = "unknown"
	}
	style := r.Styles.Author
	if !msg.Incoming() {
		style = r.Styles.OwnName
	}
	header := style.Render(name)
	if item.Admin {
		header += " " + r.Styles.Marker.Render("★")
	}
	if r.ShowTimestamps {
		header += " " + r.Styles.Time.Render(r.formatTime(msg.Index.Timestamp))
	}
	if !item.Read && msg.Incoming() {
		header += " " + r.Styles.Unread.Render("●")
	}
	return truncate.StringWithTail(header, uint(r.width()), "…")
}

func (r Renderer) renderBody(item entries.Item) []string {
	msg := item.Message
	bodyWidth := r.width() - 2
	var lines []string
	if text := strings.TrimRight(msg.Text, "\n"); text != "" {
		for _, part := range strings.Split(text, "\n") {
			wrapped := wordwrap.String(part, bodyWidth)
			for _, line := range strings.Split(wrapped, "\n") {
				lines = append(lines, r.Styles.Body.Render(line))
			}
		}
	}
	for _, media := range msg.Media {
		if media.Kind == models.MediaAction {
			continue
		}
		lines = append(lines, r.Styles.Media.Render(mediaLabel(media)))
	}
	if attr, ok := msg.Attribute(models.AttributeViewCount); ok && attr.Count > 0 {
		lines = append(lines, r.Styles.Time.Render(fmt.Sprintf("%d views", attr.Count)))
	}
	if msg.Revision > 0 {
		lines = append(lines, r.Styles.Time.Render("edited"))
	}
	if len(lines) == 0 {
		lines = []string{r.Styles.Time.Render("(empty)")}
	}
	return lines
}

func (r Renderer) renderInfo(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	wrapped := wordwrap.String(text, r.width())
	return strings.Split(r.Styles.Info.Width(r.width()).Render(wrapped), "\n")
}

func (r Renderer) formatTime(ts int64) string {
	t := time.Unix(ts, 0).Local()
	if r.Locale == "iso" {
		return t.Format("2006-01-02 15:04")
	}
	return t.Format("15:04")
}

func (r Renderer) center(text string) string {
	pad := (r.width() - len([]rune(text))) / 2
	if pad <= 0 {
		return text
	}
	return strings.Repeat(" ", pad) + text
}

func (r Renderer) rule(label string) string {
	side := (r.width() - len([]rune(label))) / 2
	if side <= 0 {
		return label
	}
	return strings.Repeat("─", side) + label + strings.Repeat("─", side)
}

func actionText(action models.ActionKind, msg *models.Message) string {
	switch action {
	case models.ActionHistoryCleared:
		return "history was cleared"
	case models.ActionMigrated:
		return "chat was migrated"
	default:
		if msg.Text != "" {
			return logging.Preview(msg.Text, logging.DefaultPreviewLength)
		}
		return "service message"
	}
}

func mediaLabel(media models.Media) string {
	switch media.Kind {
	case models.MediaImage:
		return "[image]"
	case models.MediaFile:
		if media.Size > 0 {
			return "[file " + humanize.IBytes(uint64(media.Size)) + "]"
		}
		return "[file]"
	case models.MediaUnsupported:
		return "[unsupported media]"
	default:
		return "[" + string(media.Kind) + "]"
	}
}
