package view

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrStale is returned when a mutation response arrived while a newer
// mutation of the same key was outstanding or had already landed. The
// response was not applied; it is applied later only if every newer
// mutation of the key fails.
var ErrStale = errors.New("stale response discarded")

// Tokens orders concurrent writes of the same key. The cache reflects the
// newest write the store accepted, whatever order the responses arrive in.
type Tokens struct {
	mu   sync.Mutex
	next uint64
	keys map[string]*keyState
}

type keyState struct {
	pending []uint64 // issued and not yet settled, ascending
	landed  uint64   // newest token whose write succeeded
	held    func()   // apply of landed, deferred behind newer pending writes
}

// Key builds the token key of one field of one record.
func Key(recordID, field string) string {
	return recordID + "/" + field
}

// Issue returns a new token for key. Responses of earlier tokens are
// discarded while it is outstanding.
func (t *Tokens) Issue(key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.keys == nil {
		t.keys = make(map[string]*keyState)
	}
	st := t.keys[key]
	if st == nil {
		st = &keyState{}
		t.keys[key] = st
	}
	t.next++
	st.pending = append(st.pending, t.next)
	return t.next
}

// settle removes tok from the pending set of key and returns the state.
func (t *Tokens) settle(key string, tok uint64) *keyState {
	st := t.keys[key]
	if st == nil {
		st = &keyState{}
	}
	if i := slices.Index(st.pending, tok); i >= 0 {
		st.pending = slices.Delete(st.pending, i, i+1)
	}
	return st
}

// newerPending reports whether a write issued after tok is outstanding.
func (st *keyState) newerPending(tok uint64) bool {
	return len(st.pending) > 0 && st.pending[len(st.pending)-1] > tok
}

func (t *Tokens) forgetIfIdle(key string, st *keyState) {
	if len(st.pending) == 0 {
		delete(t.keys, key)
	}
}

// Apply records that the write of tok succeeded and runs fn unless a newer
// write of key is outstanding or has already succeeded.
func (t *Tokens) Apply(key string, tok uint64, fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.settle(key, tok)
	defer t.forgetIfIdle(key, st)

	if tok < st.landed {
		return ErrStale
	}
	st.landed = tok
	if st.newerPending(tok) {
		st.held = fn
		return ErrStale
	}
	st.held = nil
	fn()
	return nil
}

// Fail records that the write of tok did not reach the store. An older
// write that succeeded meanwhile is applied if no newer write remains.
func (t *Tokens) Fail(key string, tok uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.settle(key, tok)
	defer t.forgetIfIdle(key, st)

	if st.held != nil && !st.newerPending(st.landed) {
		st.held()
		st.held = nil
	}
}

// Guard issues a token for key, performs write and applies its result with
// apply when no newer write of the same key supersedes it.
func (t *Tokens) Guard(ctx context.Context, key string, write func(context.Context) error, apply func()) error {
	tok := t.Issue(key)
	if err := write(ctx); err != nil {
		t.Fail(key, tok)
		return err
	}
	return t.Apply(key, tok, apply)
}
