// Package view holds the per-view local state that mirrors a slice of the
// remote store: an ordered record list, a superseding loader and
// request tokens that drop out-of-order mutation responses.
package view

import "sync"

// Identified is implemented by every record model.
type Identified interface {
	RecordID() string
}

// List is an ordered, concurrency-safe cache of records keyed by id.
type List[T Identified] struct {
	mu    sync.RWMutex
	items []T
}

// NewList returns a list seeded with items.
func NewList[T Identified](items ...T) *List[T] {
	l := &List[T]{}
	l.Replace(items)
	return l
}

// Replace swaps the whole content, as after a full load.
func (l *List[T]) Replace(items []T) {
	cp := make([]T, len(items))
	copy(cp, items)
	l.mu.Lock()
	l.items = cp
	l.mu.Unlock()
}

// Items returns a copy of the current content.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]T, len(l.items))
	copy(cp, l.items)
	return cp
}

// Len returns the number of cached records.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Get returns the cached record with id.
func (l *List[T]) Get(id string) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, it := range l.items {
		if it.RecordID() == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// Patch applies fn to the record with id in place. It reports whether the
// record was cached.
func (l *List[T]) Patch(id string, fn func(*T)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].RecordID() == id {
			fn(&l.items[i])
			return true
		}
	}
	return false
}

// Prepend inserts item at the front.
func (l *List[T]) Prepend(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append([]T{item}, l.items...)
}

// Remove drops the record with id and reports whether it was cached.
func (l *List[T]) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].RecordID() == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}
