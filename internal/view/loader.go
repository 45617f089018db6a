package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrSuperseded is returned by a load whose result was discarded because a
// newer load of the same view started.
var ErrSuperseded = errors.New("load superseded")

// Query is the filter state of a view. Key identifies everything except the
// page number; a change of Key sends the view back to page 1.
type Query interface {
	Key() string
}

// Page is one committed page of a view.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// FetchFunc loads one page for q.
type FetchFunc[T any, Q Query] func(ctx context.Context, q Q, page int) (Page[T], error)

// Loader owns the list state of one view. Only the most recently started
// load may commit; earlier loads are cancelled and their outcome ignored.
type Loader[T Identified, Q Query] struct {
	fetch  FetchFunc[T, Q]
	list   *List[T]
	action string
	logger *slog.Logger

	mu      sync.Mutex
	seq     uint64
	cancel  context.CancelFunc
	key     string
	keyed   bool
	current Page[T]
	banner  string
}

// FetchPage loads page of q without any view state. A page below 1 reads
// page 1 and a page past the end of the result reads the last page.
func FetchPage[T any, Q Query](ctx context.Context, fetch FetchFunc[T, Q], q Q, page int) (Page[T], error) {
	page = max(page, 1)
	p, err := fetch(ctx, q, page)
	if err == nil && p.TotalPages > 0 && page > p.TotalPages {
		page = p.TotalPages
		p, err = fetch(ctx, q, page)
	}
	if err != nil {
		return Page[T]{}, err
	}
	if p.Page == 0 {
		p.Page = page
	}
	return p, nil
}

// NewLoader creates a loader. action prefixes error banners, e.g.
// "Failed to load cold calls".
func NewLoader[T Identified, Q Query](action string, fetch FetchFunc[T, Q]) *Loader[T, Q] {
	return &Loader[T, Q]{
		fetch:  fetch,
		list:   NewList[T](),
		action: action,
		logger: slog.Default(),
	}
}

// List returns the cached records, for patching after mutations.
func (l *Loader[T, Q]) List() *List[T] {
	return l.list
}

// Banner returns the last load error shown to the user, or "".
func (l *Loader[T, Q]) Banner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.banner
}

// DismissBanner clears the error banner.
func (l *Loader[T, Q]) DismissBanner() {
	l.mu.Lock()
	l.banner = ""
	l.mu.Unlock()
}

// Current returns paging information of the last committed load.
func (l *Loader[T, Q]) Current() Page[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.current
	p.Items = l.list.Items()
	return p
}

// Load fetches page of q and commits it unless a newer Load started first.
// A change of q.Key() from the previous load resets page to 1; the first
// load keeps the requested page. A page past the end of the result is
// clamped to the last page.
func (l *Loader[T, Q]) Load(ctx context.Context, q Q, page int) (Page[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.seq++
	seq := l.seq
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = cancel
	if k := q.Key(); !l.keyed || k != l.key {
		if l.keyed {
			page = 1
		}
		l.key, l.keyed = k, true
	}
	l.mu.Unlock()

	p, err := FetchPage(ctx, l.fetch, q, page)

	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.seq {
		return Page[T]{}, ErrSuperseded
	}
	l.cancel = nil
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Page[T]{}, err
		}
		l.banner = fmt.Sprintf("%s: %v", l.action, err)
		l.logger.Warn("view load failed", "action", l.action, "error", err)
		return Page[T]{}, err
	}

	l.list.Replace(p.Items)
	l.current = Page[T]{Page: p.Page, PerPage: p.PerPage, TotalItems: p.TotalItems, TotalPages: p.TotalPages}
	l.banner = ""
	return p, nil
}
