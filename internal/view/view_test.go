package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type row struct {
	ID   string
	Name string
}

func (r row) RecordID() string { return r.ID }

type query struct {
	search string
}

func (q query) Key() string { return q.search }

func TestList_PatchPreservesOrder(t *testing.T) {
	l := NewList(row{"a", "A"}, row{"b", "B"}, row{"c", "C"})

	if !l.Patch("b", func(r *row) { r.Name = "Bee" }) {
		t.Fatal("Patch(b) = false, want true")
	}
	if l.Patch("zz", func(r *row) { r.Name = "nope" }) {
		t.Error("Patch of unknown id should report false")
	}

	items := l.Items()
	got := fmt.Sprint(items[0].ID, items[1].ID, items[2].ID, items[1].Name)
	if got != "abcBee" {
		t.Errorf("items = %v, want order a b c with b patched", items)
	}
}

func TestList_PrependRemove(t *testing.T) {
	l := NewList(row{"a", "A"})
	l.Prepend(row{"b", "B"})
	l.Prepend(row{"c", "C"})

	items := l.Items()
	if len(items) != 3 || items[0].ID != "c" || items[1].ID != "b" || items[2].ID != "a" {
		t.Errorf("items = %v, want [c b a]", items)
	}
	if !l.Remove("b") || l.Remove("b") {
		t.Error("Remove should succeed once")
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d, want 2", l.Len())
	}
}

func TestList_ItemsIsACopy(t *testing.T) {
	l := NewList(row{"a", "A"})
	items := l.Items()
	items[0].Name = "changed"
	if got, _ := l.Get("a"); got.Name != "A" {
		t.Errorf("cached Name = %q, want A", got.Name)
	}
}

func TestTokens_DiscardsOutOfOrderResponse(t *testing.T) {
	var tokens Tokens
	key := Key("company1", "owner_name")

	first := tokens.Issue(key)
	second := tokens.Issue(key)

	applied := ""
	if err := tokens.Apply(key, second, func() { applied = "second" }); err != nil {
		t.Fatalf("Apply(second): %v", err)
	}
	if err := tokens.Apply(key, first, func() { applied = "first" }); !errors.Is(err, ErrStale) {
		t.Fatalf("Apply(first) err = %v, want ErrStale", err)
	}
	if applied != "second" {
		t.Errorf("applied = %q, want second", applied)
	}
}

func TestTokens_IndependentKeys(t *testing.T) {
	var tokens Tokens
	a := tokens.Issue(Key("r1", "f"))
	tokens.Issue(Key("r2", "f"))
	if err := tokens.Apply(Key("r1", "f"), a, func() {}); err != nil {
		t.Errorf("Apply on an untouched key: %v", err)
	}
}

func TestTokens_GuardSlowFirstWrite(t *testing.T) {
	var tokens Tokens
	key := Key("n1", "title")
	release := make(chan struct{})
	var mu sync.Mutex
	var applied []string

	var wg sync.WaitGroup
	wg.Add(1)
	var slowErr error
	go func() {
		defer wg.Done()
		slowErr = tokens.Guard(context.Background(), key, func(context.Context) error {
			<-release
			return nil
		}, func() {
			mu.Lock()
			applied = append(applied, "slow")
			mu.Unlock()
		})
	}()

	// Wait until the slow write holds its token.
	for {
		tokens.mu.Lock()
		issued := tokens.keys[key] != nil
		tokens.mu.Unlock()
		if issued {
			break
		}
		time.Sleep(time.Millisecond)
	}

	err := tokens.Guard(context.Background(), key, func(context.Context) error { return nil }, func() {
		mu.Lock()
		applied = append(applied, "fast")
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("fast Guard: %v", err)
	}
	close(release)
	wg.Wait()

	if !errors.Is(slowErr, ErrStale) {
		t.Errorf("slow Guard err = %v, want ErrStale", slowErr)
	}
	if len(applied) != 1 || applied[0] != "fast" {
		t.Errorf("applied = %v, want [fast]", applied)
	}
}

func TestTokens_FailedNewerWriteLetsOlderApply(t *testing.T) {
	var tokens Tokens
	key := Key("company1", "status")
	release := make(chan struct{})
	issuedA := make(chan struct{})

	cache := "old"
	var errA error
	done := make(chan struct{})
	go func() {
		defer close(done)
		errA = tokens.Guard(context.Background(), key, func(context.Context) error {
			close(issuedA)
			<-release
			return nil
		}, func() { cache = "A" })
	}()
	<-issuedA

	errB := tokens.Guard(context.Background(), key, func(context.Context) error {
		return errors.New("500 internal error")
	}, func() { cache = "B" })
	if errB == nil {
		t.Fatal("B Guard succeeded, want its write error")
	}
	close(release)
	<-done

	if errA != nil {
		t.Errorf("A Guard err = %v, want nil", errA)
	}
	if cache != "A" {
		t.Errorf("cache = %q, want the value the store holds (A)", cache)
	}
	if len(tokens.keys) != 0 {
		t.Errorf("tokens kept %d settled keys", len(tokens.keys))
	}
}

func TestTokens_HeldResultAppliesWhenNewerWriteFails(t *testing.T) {
	var tokens Tokens
	key := Key("rec1", "note")
	a := tokens.Issue(key)
	b := tokens.Issue(key)

	cache := "old"
	if err := tokens.Apply(key, a, func() { cache = "A" }); !errors.Is(err, ErrStale) {
		t.Fatalf("Apply(a) err = %v, want ErrStale while b is in flight", err)
	}
	if cache != "old" {
		t.Fatalf("cache = %q before b settled", cache)
	}
	tokens.Fail(key, b)
	if cache != "A" {
		t.Errorf("cache = %q, want A once b failed", cache)
	}
	if len(tokens.keys) != 0 {
		t.Errorf("tokens kept %d settled keys", len(tokens.keys))
	}
}

func TestTokens_NewerSuccessDropsHeldResult(t *testing.T) {
	var tokens Tokens
	key := Key("rec1", "note")
	a := tokens.Issue(key)
	b := tokens.Issue(key)
	c := tokens.Issue(key)

	cache := "old"
	tokens.Apply(key, a, func() { cache = "A" })
	if err := tokens.Apply(key, b, func() { cache = "B" }); !errors.Is(err, ErrStale) {
		t.Fatalf("Apply(b) err = %v, want ErrStale while c is in flight", err)
	}
	tokens.Fail(key, c)
	if cache != "B" {
		t.Errorf("cache = %q, want B, the newest landed write", cache)
	}
}

func TestLoader_SupersededLoadHasNoEffect(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})

	fetch := func(ctx context.Context, q query, page int) (Page[row], error) {
		if q.search == "slow" {
			close(firstStarted)
			<-releaseFirst
			return Page[row]{Items: []row{{"old", "stale"}}, Page: 1, TotalPages: 1, TotalItems: 1}, nil
		}
		return Page[row]{Items: []row{{"new", "fresh"}}, Page: 1, TotalPages: 1, TotalItems: 1}, nil
	}
	l := NewLoader("Failed to load rows", fetch)

	var firstErr error
	done := make(chan struct{})
	go func() {
		_, firstErr = l.Load(context.Background(), query{"slow"}, 1)
		close(done)
	}()
	<-firstStarted

	if _, err := l.Load(context.Background(), query{"fast"}, 1); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	close(releaseFirst)
	<-done

	if !errors.Is(firstErr, ErrSuperseded) {
		t.Errorf("first Load err = %v, want ErrSuperseded", firstErr)
	}
	items := l.List().Items()
	if len(items) != 1 || items[0].ID != "new" {
		t.Errorf("items = %v, want only the second load's rows", items)
	}
}

func TestLoader_SupersededErrorProducesNoBanner(t *testing.T) {
	firstStarted := make(chan struct{})
	fetch := func(ctx context.Context, q query, page int) (Page[row], error) {
		if q.search == "slow" {
			close(firstStarted)
			<-ctx.Done()
			return Page[row]{}, errors.New("connection reset")
		}
		return Page[row]{Items: []row{{"x", "X"}}, TotalPages: 1}, nil
	}
	l := NewLoader("Failed to load rows", fetch)

	done := make(chan error)
	go func() {
		_, err := l.Load(context.Background(), query{"slow"}, 1)
		done <- err
	}()
	<-firstStarted
	if _, err := l.Load(context.Background(), query{"fast"}, 1); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first err = %v, want ErrSuperseded", err)
	}
	if b := l.Banner(); b != "" {
		t.Errorf("Banner = %q, want empty", b)
	}
}

func TestLoader_ErrorSetsBannerAndKeepsLastGoodState(t *testing.T) {
	fail := false
	fetch := func(ctx context.Context, q query, page int) (Page[row], error) {
		if fail {
			return Page[row]{}, errors.New("boom")
		}
		return Page[row]{Items: []row{{"a", "A"}}, Page: 1, TotalPages: 1}, nil
	}
	l := NewLoader("Failed to load rows", fetch)
	if _, err := l.Load(context.Background(), query{}, 1); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fail = true
	if _, err := l.Load(context.Background(), query{}, 1); err == nil {
		t.Fatal("expected error")
	}
	if got, want := l.Banner(), "Failed to load rows: boom"; got != want {
		t.Errorf("Banner = %q, want %q", got, want)
	}
	if l.List().Len() != 1 {
		t.Errorf("cached rows = %d, want the last good page kept", l.List().Len())
	}
	l.DismissBanner()
	if l.Banner() != "" {
		t.Error("DismissBanner did not clear the banner")
	}
}

func TestLoader_FilterChangeResetsPage(t *testing.T) {
	var pages []int
	fetch := func(ctx context.Context, q query, page int) (Page[row], error) {
		pages = append(pages, page)
		return Page[row]{Page: page, TotalPages: 5}, nil
	}
	l := NewLoader("x", fetch)
	l.Load(context.Background(), query{"a"}, 3)
	l.Load(context.Background(), query{"a"}, 4)
	l.Load(context.Background(), query{"b"}, 4)
	l.Load(context.Background(), query{"b"}, 2)

	// The first load has no previous filter to change from.
	want := []int{3, 4, 1, 2}
	if fmt.Sprint(pages) != fmt.Sprint(want) {
		t.Errorf("fetched pages = %v, want %v", pages, want)
	}
}

func TestLoader_ClampsPagePastEnd(t *testing.T) {
	var pages []int
	fetch := func(ctx context.Context, q query, page int) (Page[row], error) {
		pages = append(pages, page)
		return Page[row]{Page: page, TotalPages: 2, Items: []row{{fmt.Sprint(page), ""}}}, nil
	}
	l := NewLoader("x", fetch)
	p, err := l.Load(context.Background(), query{"acme"}, 7)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Page != 2 {
		t.Errorf("Page = %d, want 2", p.Page)
	}
	if fmt.Sprint(pages) != "[7 2]" {
		t.Errorf("fetched pages = %v, want [7 2]", pages)
	}
	if l.Current().Page != 2 {
		t.Errorf("Current().Page = %d, want 2", l.Current().Page)
	}
}

func TestViews_LoadsInDifferentViewsDoNotSupersede(t *testing.T) {
	release := make(chan struct{})
	fetch := func(ctx context.Context, q query, page int) (Page[row], error) {
		if q.search == "slow" {
			<-release
		}
		return Page[row]{Page: page, TotalPages: 3, Items: []row{{q.search, ""}}}, nil
	}
	v := NewViews("x", fetch)

	done := make(chan error, 1)
	go func() {
		_, err := v.Get("tab-1").Load(context.Background(), query{"slow"}, 2)
		done <- err
	}()
	p, err := v.Get("tab-2").Load(context.Background(), query{"fast"}, 3)
	if err != nil || p.Page != 3 {
		t.Fatalf("tab-2 Load = page %d, %v", p.Page, err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("tab-1 Load: %v", err)
	}
	if got := v.Get("tab-1").Current(); got.Page != 2 || got.Items[0].ID != "slow" {
		t.Errorf("tab-1 current = %+v", got)
	}
	if got := v.Get("tab-2").Current(); got.Items[0].ID != "fast" {
		t.Errorf("tab-2 current = %+v", got)
	}
}

func TestViews_PatchReachesEveryView(t *testing.T) {
	fetch := func(ctx context.Context, q query, page int) (Page[row], error) {
		return Page[row]{Page: 1, TotalPages: 1, Items: []row{{"a", "A"}}}, nil
	}
	v := NewViews("x", fetch)
	ctx := context.Background()
	v.Default().Load(ctx, query{}, 1)
	v.Get("tab-1").Load(ctx, query{}, 1)

	v.Patch("a", func(r *row) { r.Name = "Alpha" })
	v.Prepend(row{"b", "B"})
	for _, id := range []string{DefaultView, "tab-1"} {
		items := v.Get(id).List().Items()
		if len(items) != 2 || items[0].ID != "b" || items[1].Name != "Alpha" {
			t.Errorf("view %q items = %v", id, items)
		}
	}
	v.Remove("b")
	if n := v.Get("tab-1").List().Len(); n != 1 {
		t.Errorf("tab-1 Len after Remove = %d, want 1", n)
	}
}

func TestViews_EvictsOldestClientView(t *testing.T) {
	v := NewViews("x", func(ctx context.Context, q query, page int) (Page[row], error) {
		return Page[row]{}, nil
	})
	def := v.Default()
	first := v.Get("view-0")
	for i := 1; i <= maxViews; i++ {
		v.Get(fmt.Sprint("view-", i))
	}
	if v.Get("view-0") == first {
		t.Error("oldest view was not evicted")
	}
	if v.Default() != def {
		t.Error("default view was evicted")
	}
}

func TestFetchPage_ClampsWithoutState(t *testing.T) {
	var pages []int
	fetch := func(ctx context.Context, q query, page int) (Page[row], error) {
		pages = append(pages, page)
		return Page[row]{TotalPages: 2}, nil
	}
	p, err := FetchPage(context.Background(), fetch, query{"acme"}, 5)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if p.Page != 2 || fmt.Sprint(pages) != "[5 2]" {
		t.Errorf("page = %d, fetched %v; want 2 after [5 2]", p.Page, pages)
	}
	if p, _ := FetchPage(context.Background(), fetch, query{}, 0); p.Page != 1 {
		t.Errorf("page 0 gave Page %d, want 1", p.Page)
	}
}
