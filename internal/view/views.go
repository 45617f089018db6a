package view

import (
	"sync"
)

// DefaultView is the view of a process that shows a single list, such as
// one CLI invocation.
const DefaultView = ""

// maxViews bounds the loaders kept for API clients.
const maxViews = 64

// Views keeps one Loader per client view of a collection. Loads supersede
// each other only within a view, and each view caches its own page.
type Views[T Identified, Q Query] struct {
	action string
	fetch  FetchFunc[T, Q]

	mu      sync.Mutex
	loaders map[string]*Loader[T, Q]
	order   []string // non-default views, oldest first
}

func NewViews[T Identified, Q Query](action string, fetch FetchFunc[T, Q]) *Views[T, Q] {
	v := &Views[T, Q]{
		action:  action,
		fetch:   fetch,
		loaders: make(map[string]*Loader[T, Q]),
	}
	v.loaders[DefaultView] = NewLoader(action, fetch)
	return v
}

// Get returns the loader of view id, creating it on first use. When more
// than maxViews client views exist the oldest one is dropped.
func (v *Views[T, Q]) Get(id string) *Loader[T, Q] {
	v.mu.Lock()
	defer v.mu.Unlock()
	if l, ok := v.loaders[id]; ok {
		return l
	}
	if len(v.order) >= maxViews {
		delete(v.loaders, v.order[0])
		v.order = v.order[1:]
	}
	l := NewLoader(v.action, v.fetch)
	v.loaders[id] = l
	v.order = append(v.order, id)
	return l
}

// Default returns the loader of DefaultView.
func (v *Views[T, Q]) Default() *Loader[T, Q] {
	return v.Get(DefaultView)
}

func (v *Views[T, Q]) each(fn func(*List[T])) {
	v.mu.Lock()
	loaders := make([]*Loader[T, Q], 0, len(v.loaders))
	for _, l := range v.loaders {
		loaders = append(loaders, l)
	}
	v.mu.Unlock()
	for _, l := range loaders {
		fn(l.List())
	}
}

// Patch applies fn to the cached record id in every view.
func (v *Views[T, Q]) Patch(id string, fn func(*T)) {
	v.each(func(l *List[T]) { l.Patch(id, fn) })
}

// Prepend inserts a newly created record at the front of every view.
func (v *Views[T, Q]) Prepend(item T) {
	v.each(func(l *List[T]) { l.Prepend(item) })
}

// Remove drops record id from every view.
func (v *Views[T, Q]) Remove(id string) {
	v.each(func(l *List[T]) { l.Remove(id) })
}
