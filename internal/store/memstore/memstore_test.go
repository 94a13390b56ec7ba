package memstore

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fridaybingo/bingo/internal/store"
)

func TestGetSetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.ErrorIs(t, s.Get(ctx, "k", new(int)), store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", 42))
	var v int
	require.NoError(t, s.Get(ctx, "k", &v))
	require.Equal(t, 42, v)

	require.NoError(t, s.Delete(ctx, "k"))
	require.ErrorIs(t, s.Get(ctx, "k", new(int)), store.ErrNotFound)

	// deleting an absent key is a no-op
	require.NoError(t, s.Delete(ctx, "k"))
}

func TestTransactAbortLeavesValueUntouched(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", 1))

	err := s.Transact(ctx, "k", func(current []byte) ([]byte, error) {
		return nil, store.ErrAborted
	})
	require.ErrorIs(t, err, store.ErrAborted)

	var v int
	require.NoError(t, s.Get(ctx, "k", &v))
	require.Equal(t, 1, v)
}

func TestTransactConcurrentIncrements(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "counter", 0))

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Transact(ctx, "counter", func(current []byte) ([]byte, error) {
				n, err := strconv.Atoi(string(current))
				if err != nil {
					return nil, err
				}
				return json.Marshal(n + 1)
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	var total int
	require.NoError(t, s.Get(ctx, "counter", &total))
	require.Equal(t, workers, total)
}

func TestWatchReplaysCurrentValueThenStreams(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Set(ctx, "k", "first"))

	ch, err := s.Watch(ctx, "k")
	require.NoError(t, err)

	var got string
	require.NoError(t, json.Unmarshal(<-ch, &got))
	require.Equal(t, "first", got)

	require.NoError(t, s.Set(ctx, "k", "second"))
	require.NoError(t, json.Unmarshal(<-ch, &got))
	require.Equal(t, "second", got)
}
