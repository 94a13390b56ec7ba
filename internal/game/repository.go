// Package game owns the Game entity: the immutable record one launch
// election produces, the timestamp-derived reveal of its draw sequence and
// the win-line evaluation against the revealed prefix.
package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/fridaybingo/bingo/internal/models"
	"github.com/fridaybingo/bingo/internal/store"
)

// ErrNotFound is returned when the game does not exist.
var ErrNotFound = errors.New("game: game not found")

// Key returns the store key for a game.
func Key(gameID string) string {
	return "games." + gameID
}

type Repository struct {
	store store.Store
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Create persists a new game. The draw sequence is write-once: creating an
// id that already exists aborts rather than overwriting, so a launch retry
// after a crash observes the original record.
func (r *Repository) Create(ctx context.Context, g *models.Game) error {
	err := r.store.Transact(ctx, Key(g.ID), func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, store.ErrAborted
		}
		return marshal(g)
	})
	if errors.Is(err, store.ErrAborted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create game %s: %w", g.ID, err)
	}
	return nil
}

// Get returns the game record.
func (r *Repository) Get(ctx context.Context, gameID string) (*models.Game, error) {
	var g models.Game
	if err := r.store.Get(ctx, Key(gameID), &g); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	return &g, nil
}

// End marks the game ENDED. Idempotent.
func (r *Repository) End(ctx context.Context, gameID string) error {
	err := r.store.Transact(ctx, Key(gameID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		g, err := unmarshal(current)
		if err != nil {
			return nil, err
		}
		if g.Status == models.GameStatusEnded {
			return nil, store.ErrAborted
		}
		g.Status = models.GameStatusEnded
		return marshal(g)
	})
	if errors.Is(err, store.ErrAborted) {
		return nil
	}
	return err
}
