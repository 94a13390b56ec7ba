// Package store defines the contract every coordinator depends on: a shared
// transactional key-value store with compare-and-swap transactions and
// change-notification watches. No process-local state is authoritative;
// invariant-bearing writes go through Transact.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no value exists at the key.
	ErrNotFound = errors.New("store: key not found")

	// ErrConflict is returned by Transact when the bounded retry budget is
	// exhausted without committing. At election sites losing the race is the
	// expected outcome for all but one caller.
	ErrConflict = errors.New("store: transaction conflict")

	// ErrAborted is returned from a transaction callback to abandon the
	// transaction without writing. Transact surfaces it unchanged so callers
	// can distinguish "declined to write" from failure.
	ErrAborted = errors.New("store: transaction aborted")

	// ErrUnavailable is returned when the backing store cannot be reached.
	// It is fatal for the in-flight call; it must never turn into a silent
	// hang.
	ErrUnavailable = errors.New("store: unavailable")
)

// TxnFunc is a transaction callback. It receives the latest committed raw
// JSON value at the key (nil when absent) and returns the value to commit.
// Returning ErrAborted abandons the transaction. The callback must
// re-validate every precondition against current: checks done before the
// transaction are advisory only.
type TxnFunc func(current []byte) ([]byte, error)

// Store is the persistence and notification contract. Keys are
// dot-separated paths such as "rooms.lucky7" or "rooms.lucky7.cards.card-3".
// The store provides per-key linearizability and no cross-entity atomicity:
// an operation spanning two keys is two independently committed writes.
type Store interface {
	// Get unmarshals the current value at key into v. ErrNotFound if absent.
	Get(ctx context.Context, key string, v any) error

	// Set writes v at key unconditionally.
	Set(ctx context.Context, key string, v any) error

	// Delete removes the value at key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// Transact runs fn against the freshly read value at key and commits its
	// result if and only if no other write landed in between, retrying on
	// conflict up to a bounded count.
	Transact(ctx context.Context, key string, fn TxnFunc) error

	// Watch pushes the full current value immediately, then on every
	// subsequent committed change, until ctx is cancelled. A nil element
	// means the key was deleted.
	Watch(ctx context.Context, key string) (<-chan []byte, error)
}
