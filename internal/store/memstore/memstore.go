// Package memstore is an in-process implementation of the store contract
// with the same semantics as the JetStream KV backend: per-key revisions,
// compare-and-swap transactions and replay-then-stream watches. It exists so
// the election paths can be exercised in tests without a broker; it is never
// wired into a deployment.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fridaybingo/bingo/internal/store"
)

const maxTxnAttempts = 32

type entry struct {
	value    []byte
	revision uint64
}

// Store is a mutex-guarded map with revisioned entries and watch fanout.
type Store struct {
	mu       sync.Mutex
	entries  map[string]entry
	watchers map[string][]chan []byte
}

func New() *Store {
	return &Store{
		entries:  make(map[string]entry),
		watchers: make(map[string][]chan []byte),
	}
}

func (s *Store) Get(ctx context.Context, key string, v any) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	if err := json.Unmarshal(e.value, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.mu.Lock()
	e := s.entries[key]
	s.entries[key] = entry{value: data, revision: e.revision + 1}
	s.notifyLocked(key, data)
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.notifyLocked(key, nil)
	}
	s.mu.Unlock()
	return nil
}

// Transact snapshots the entry, runs fn outside the lock so concurrent
// transactions genuinely interleave, and commits only if the revision is
// unchanged.
func (s *Store) Transact(ctx context.Context, key string, fn store.TxnFunc) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		e, ok := s.entries[key]
		s.mu.Unlock()

		var current []byte
		var revision uint64
		if ok {
			current = e.value
			revision = e.revision
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		s.mu.Lock()
		latest, stillThere := s.entries[key]
		switch {
		case !ok && !stillThere:
			// created fresh
		case ok && stillThere && latest.revision == revision:
			// unchanged since snapshot
		default:
			s.mu.Unlock()
			continue
		}
		s.entries[key] = entry{value: next, revision: revision + 1}
		s.notifyLocked(key, next)
		s.mu.Unlock()
		return nil
	}
	return store.ErrConflict
}

func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)

	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		ch <- e.value
	}
	s.watchers[key] = append(s.watchers[key], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		ws := s.watchers[key]
		for i, w := range ws {
			if w == ch {
				s.watchers[key] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// notifyLocked fans a committed value out to watchers. Slow watchers drop
// intermediate snapshots; a stale view self-heals on the next push.
func (s *Store) notifyLocked(key string, value []byte) {
	for _, ch := range s.watchers[key] {
		select {
		case ch <- value:
		default:
		}
	}
}
