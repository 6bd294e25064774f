// Package dispatch delivers the side effects of visibility tracking:
// throttled acknowledgement batches and media prefetching.
package dispatch

import (
	"container/list"
	"time"
)

const defaultRecentCapacity = 1024

type recentEntry[K comparable] struct {
	key  K
	seen time.Time
}

// recentSet remembers recently processed keys so repeated layout passes do
// not queue the same work. Entries expire after ttl; the oldest are evicted
// beyond capacity. Callers synchronize access.
type recentSet[K comparable] struct {
	capacity int
	ttl      time.Duration
	order    *list.List
	entries  map[K]*list.Element
}

func newRecentSet[K comparable](capacity int, ttl time.Duration) *recentSet[K] {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &recentSet[K]{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[K]*list.Element, capacity),
	}
}

// contains reports whether key was marked and has not expired.
func (r *recentSet[K]) contains(key K, now time.Time) bool {
	elem, ok := r.entries[key]
	if !ok {
		return false
	}
	entry := elem.Value.(*recentEntry[K])
	if r.ttl > 0 && now.Sub(entry.seen) > r.ttl {
		r.order.Remove(elem)
		delete(r.entries, key)
		return false
	}
	return true
}

func (r *recentSet[K]) mark(key K, now time.Time) {
	if elem, ok := r.entries[key]; ok {
		elem.Value.(*recentEntry[K]).seen = now
		r.order.MoveToFront(elem)
		return
	}

	elem := r.order.PushFront(&recentEntry[K]{key: key, seen: now})
	r.entries[key] = elem

	for r.order.Len() > r.capacity {
		last := r.order.Back()
		if last == nil {
			break
		}
		r.order.Remove(last)
		delete(r.entries, last.Value.(*recentEntry[K]).key)
	}
}

func (r *recentSet[K]) forget(key K) {
	if elem, ok := r.entries[key]; ok {
		r.order.Remove(elem)
		delete(r.entries, key)
	}
}

func (r *recentSet[K]) len() int {
	return r.order.Len()
}
