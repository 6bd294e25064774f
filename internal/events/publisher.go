// Package events publishes derived history view state to in-process subscribers.
package events

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	ErrInvalidSubscriptionID = errors.New("events: subscription ID is required")
	ErrNilHandler            = errors.New("events: handler cannot be nil")
	ErrSubscriptionExists    = errors.New("events: subscription with this ID already exists")
	ErrSubscriptionNotFound  = errors.New("events: subscription not found")
)

// EventHandler receives events matching a subscription. Handlers run on the
// publishing goroutine.
type EventHandler func(event *Event)

// Filter selects events. Zero fields match everything.
type Filter struct {
	Types []Type
	View  string
	Chat  string
}

// Matches reports whether event passes the filter.
func (f *Filter) Matches(event *Event) bool {
	switch {
	case event == nil:
		return false
	case len(f.Types) > 0 && !slices.Contains(f.Types, event.Type):
		return false
	case f.View != "" && event.View != f.View:
		return false
	case f.Chat != "" && event.Chat != f.Chat:
		return false
	}
	return true
}

// Publisher fans view events out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event *Event)
	Subscribe(id string, filter Filter, handler EventHandler) error
	Unsubscribe(id string) error
}

type subscription struct {
	id      string
	filter  Filter
	handler EventHandler
}

// InMemoryPublisher delivers events synchronously, in subscription order.
type InMemoryPublisher struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewInMemoryPublisher creates an empty publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

// Publish implements Publisher. Handlers are called without the lock held,
// so they may subscribe or unsubscribe.
func (p *InMemoryPublisher) Publish(_ context.Context, event *Event) {
	if event == nil {
		return
	}
	p.mu.RLock()
	var handlers []EventHandler
	for _, sub := range p.subs {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe implements Publisher.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler EventHandler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexLocked(id) >= 0 {
		return ErrSubscriptionExists
	}
	p.subs = append(p.subs, subscription{id: id, filter: filter, handler: handler})
	return nil
}

// Unsubscribe implements Publisher.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(id)
	if i < 0 {
		return ErrSubscriptionNotFound
	}
	p.subs = slices.Delete(p.subs, i, i+1)
	return nil
}

// SubscriberCount returns the number of active subscriptions.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Close drops every subscription.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	p.subs = nil
	p.mu.Unlock()
}

func (p *InMemoryPublisher) indexLocked(id string) int {
	return slices.IndexFunc(p.subs, func(s subscription) bool { return s.id == id })
}
