package historyview

import (
	"fmt"

	"github.com/tOgg1/chathistory/internal/history"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/visibility"
)

// ScrollToStartOfHistory jumps to the oldest message, loading it if needed.
func (c *Controller) ScrollToStartOfHistory() error {
	lower := history.LowerBoundAnchor()
	return c.request(history.Scroll(lower, lower, nil, history.ScrollPosition{Kind: history.PositionTop}, true))
}

// ScrollToEndOfHistory jumps to the newest message, loading it if needed.
func (c *Controller) ScrollToEndOfHistory() error {
	upper := history.UpperBoundAnchor()
	return c.request(history.Scroll(upper, upper, nil, history.ScrollPosition{Kind: history.PositionBottom}, true))
}

// ScrollToMessage jumps from the message at from to the message at to. The
// direction of the jump decides the insertion animation.
func (c *Controller) ScrollToMessage(from, to models.MessageIndex, animated bool) error {
	source := history.MessageAnchor(from)
	target := history.MessageAnchor(to)
	return c.request(history.Scroll(target, target, &source, history.ScrollPosition{Kind: history.PositionCenter}, animated))
}

func (c *Controller) request(loc history.Location) error {
	if _, err := c.source.Request(loc); err != nil {
		return fmt.Errorf("failed to request %s location: %w", loc.Kind, err)
	}
	return nil
}

// SetPresentation changes theme or locale and re-renders every entry.
func (c *Controller) SetPresentation(p Presentation) {
	c.mu.Lock()
	changed := c.presentation != p
	c.presentation = p
	c.mu.Unlock()
	if changed {
		c.requestReprojection(true)
	}
}

// SetSelection replaces the set of selected messages.
func (c *Controller) SetSelection(ids []models.MessageID) {
	selection := make(map[models.MessageID]bool, len(ids))
	for _, id := range ids {
		selection[id] = true
	}
	c.mu.Lock()
	c.selection = selection
	c.mu.Unlock()
	c.requestReprojection(false)
}

// SetHistoryAppearsCleared hides every entry while set.
func (c *Controller) SetHistoryAppearsCleared(cleared bool) {
	c.mu.Lock()
	changed := c.mode.HistoryAppearsCleared != cleared
	c.mode.HistoryAppearsCleared = cleared
	c.mu.Unlock()
	if changed {
		c.requestReprojection(false)
	}
}

// The methods below must be called on the UI goroutine.

// SetCanRead gates read index advancement.
func (c *Controller) SetCanRead(canRead bool) {
	c.tracker.SetCanRead(canRead)
}

// SetScrollDirection selects which side prefetching favours.
func (c *Controller) SetScrollDirection(dir visibility.Direction) {
	c.tracker.SetScrollDirection(dir)
}

// IsMessageVisible reports whether the message with id is on screen.
func (c *Controller) IsMessageVisible(id models.MessageID) bool {
	visible := c.deps.Surface.VisibleRange().Visible
	if visible.Empty() {
		return false
	}
	for i := max(visible.First, 0); i <= visible.Last && i < len(c.applied); i++ {
		if c.applied[i].Contains(id) {
			return true
		}
	}
	return false
}

// ScrollToNextMessage brings the first message entry below the topmost
// visible one to the top of the viewport. It reports false when there is
// none.
func (c *Controller) ScrollToNextMessage() bool {
	visible := c.deps.Surface.VisibleRange().Visible
	if visible.Empty() {
		return false
	}
	for i := visible.First + 1; i < len(c.applied); i++ {
		if c.applied[i].IsMessage() {
			c.deps.Surface.ScrollToItem(i, history.ScrollPosition{Kind: history.PositionTop}, true)
			return true
		}
	}
	return false
}

// ScrolledToLatest reports whether the newest message of the chat is on
// screen. Changes are published as scrolled_to_latest events.
func (c *Controller) ScrolledToLatest() bool {
	return c.atLatest != nil && *c.atLatest
}

// ReadState returns the read state of the applied snapshot.
func (c *Controller) ReadState() models.ReadState {
	return c.readState
}

// AnchorMessage returns the message the view is anchored at. A view pinned
// to the newest message reports the latest message.
func (c *Controller) AnchorMessage() (*models.Message, bool) {
	if saved, ok := c.resolver.Anchor(); ok {
		if msg, found := c.MessageAt(saved.Index.MessageID()); found {
			return msg, true
		}
	}
	return c.LatestMessage()
}

// LatestMessage returns the newest applied message.
func (c *Controller) LatestMessage() (*models.Message, bool) {
	var latest *models.Message
	for _, e := range c.applied {
		for _, item := range e.Items {
			if latest == nil || latest.Index.Less(item.Message.Index) {
				latest = item.Message
			}
		}
	}
	return latest, latest != nil
}

// MessageAt returns the applied message with the given id.
func (c *Controller) MessageAt(id models.MessageID) (*models.Message, bool) {
	for _, e := range c.applied {
		for _, item := range e.Items {
			if item.Message.Index.MessageID() == id {
				return item.Message, true
			}
		}
	}
	return nil, false
}

// MessageGroup returns every message displayed together with id.
func (c *Controller) MessageGroup(id models.MessageID) ([]*models.Message, bool) {
	for _, e := range c.applied {
		if e.Contains(id) {
			return e.Messages(), true
		}
	}
	return nil, false
}
