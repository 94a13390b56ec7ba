// Package natskv implements the store contract on a NATS JetStream
// key-value bucket. Compare-and-swap transactions use revision-guarded
// updates; watches use KV watchers, which replay the current value before
// streaming changes.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/fridaybingo/bingo/internal/store"
)

const (
	maxReconnects = 10
	reconnectWait = 2 * time.Second

	// maxTxnAttempts bounds the CAS retry loop. Election sites expect to
	// lose; a loop that spins past this is contention worth surfacing.
	maxTxnAttempts = 8
)

// Store is a JetStream KV backed implementation of store.Store.
type Store struct {
	kv jetstream.KeyValue
}

// Dial connects to NATS with reconnect handlers and returns the connection
// plus a JetStream context. The caller owns the connection lifecycle.
func Dial(url string) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w: %v", store.ErrUnavailable, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return nc, js, nil
}

// New ensures the KV bucket exists and returns the store.
func New(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure KV bucket %q: %w", bucket, err)
	}
	return &Store{kv: kv}, nil
}

func (s *Store) Get(ctx context.Context, key string, v any) error {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, wrapUnavailable(err))
	}
	if err := json.Unmarshal(entry.Value(), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, wrapUnavailable(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", key, wrapUnavailable(err))
	}
	return nil
}

// Transact implements the revision CAS loop. Each attempt reads the latest
// committed entry, runs fn against it and commits with the entry revision as
// the guard, so exactly one of N concurrent writers lands per revision.
func (s *Store) Transact(ctx context.Context, key string, fn store.TxnFunc) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var current []byte
		var revision uint64
		entry, err := s.kv.Get(ctx, key)
		switch {
		case err == nil:
			current = entry.Value()
			revision = entry.Revision()
		case errors.Is(err, jetstream.ErrKeyNotFound):
			// key absent; fn sees nil
		default:
			return fmt.Errorf("read %s: %w", key, wrapUnavailable(err))
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		if revision == 0 {
			_, err = s.kv.Create(ctx, key, next)
		} else {
			_, err = s.kv.Update(ctx, key, next, revision)
		}
		if err == nil {
			return nil
		}
		if !isCASFailure(err) {
			return fmt.Errorf("commit %s: %w", key, wrapUnavailable(err))
		}
		log.Debug().Str("key", key).Int("attempt", attempt+1).Msg("transaction conflict, retrying")
	}
	return store.ErrConflict
}

// Watch forwards KV entries as raw values; deletes come through as nil.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	watcher, err := s.kv.Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", key, wrapUnavailable(err))
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// initial replay complete marker
					continue
				}
				var value []byte
				if entry.Operation() == jetstream.KeyValuePut {
					value = entry.Value()
				}
				select {
				case out <- value:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// isCASFailure reports whether err means another writer won the revision
// race, as opposed to the store being unreachable.
func isCASFailure(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}

func wrapUnavailable(err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
