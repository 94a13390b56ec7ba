// Package rooms is the room registry and state machine storage layer. Rooms
// live at "rooms.<id>" in the shared store; every status transition goes
// through Transact so concurrent coordinators elect exactly one writer.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/fridaybingo/bingo/internal/models"
	"github.com/fridaybingo/bingo/internal/store"
)

// ErrNotFound is returned when a room does not exist.
var ErrNotFound = errors.New("rooms: room not found")

// ErrAlreadyExists is returned by Create when the room id is taken.
var ErrAlreadyExists = errors.New("rooms: room already exists")

// Key returns the store key for a room.
func Key(roomID string) string {
	return "rooms." + roomID
}

type Repository struct {
	store store.Store
	clock clockwork.Clock
}

func NewRepository(s store.Store, clock clockwork.Clock) *Repository {
	return &Repository{store: s, clock: clock}
}

// CreateRoomParams holds administrative room configuration.
type CreateRoomParams struct {
	ID           string
	Name         string
	BetAmount    float64
	MaxPlayers   int
	CardPoolSize int
}

// Create registers a new room in WAITING state. The card pool is seeded
// separately by the cards package.
func (r *Repository) Create(ctx context.Context, params CreateRoomParams) (*models.Room, error) {
	now := r.clock.Now().UTC()
	room := &models.Room{
		ID:           params.ID,
		Name:         params.Name,
		BetAmount:    params.BetAmount,
		MaxPlayers:   params.MaxPlayers,
		CardPoolSize: params.CardPoolSize,
		Status:       models.RoomStatusWaiting,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.store.Transact(ctx, Key(room.ID), func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, ErrAlreadyExists
		}
		return json.Marshal(room)
	})
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", params.ID, err)
	}

	log.Info().Str("room_id", room.ID).Float64("bet_amount", room.BetAmount).Msg("room created")
	return room, nil
}

// Get returns the current room snapshot.
func (r *Repository) Get(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := r.store.Get(ctx, Key(roomID), &room); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return &room, nil
}

// Watch streams room snapshots: the current value immediately, then every
// committed change, until ctx is cancelled.
func (r *Repository) Watch(ctx context.Context, roomID string) (<-chan *models.Room, error) {
	raw, err := r.store.Watch(ctx, Key(roomID))
	if err != nil {
		return nil, fmt.Errorf("watch room %s: %w", roomID, err)
	}

	out := make(chan *models.Room, 16)
	go func() {
		defer close(out)
		for data := range raw {
			if data == nil {
				continue
			}
			var room models.Room
			if err := json.Unmarshal(data, &room); err != nil {
				log.Error().Err(err).Str("room_id", roomID).Msg("failed to decode room snapshot")
				continue
			}
			select {
			case out <- &room:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Transact runs fn against the freshly read room inside a store transaction.
// fn mutates the room in place; returning store.ErrAborted abandons the
// write. This is the single election primitive every state transition uses.
func (r *Repository) Transact(ctx context.Context, roomID string, fn func(room *models.Room) error) error {
	err := r.store.Transact(ctx, Key(roomID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		var room models.Room
		if err := json.Unmarshal(current, &room); err != nil {
			return nil, fmt.Errorf("decode room %s: %w", roomID, err)
		}
		if err := fn(&room); err != nil {
			return nil, err
		}
		room.UpdatedAt = r.clock.Now().UTC()
		return json.Marshal(&room)
	})
	if err != nil {
		return err
	}
	return nil
}

// SetPlayer writes the player sub-record for userID. The player record is
// owned by a single actor (the player itself), so an unconditional
// read-modify-write through the room transaction is still required only
// because players live inside the room document.
func (r *Repository) SetPlayer(ctx context.Context, roomID string, player models.Player) error {
	return r.Transact(ctx, roomID, func(room *models.Room) error {
		if room.Players == nil {
			room.Players = make(map[string]models.Player)
		}
		room.Players[player.UserID] = player
		return nil
	})
}

// RemovePlayer deletes the player sub-record. Removing an absent player is a
// no-op success.
func (r *Repository) RemovePlayer(ctx context.Context, roomID, userID string) error {
	err := r.Transact(ctx, roomID, func(room *models.Room) error {
		if _, ok := room.Players[userID]; !ok {
			return store.ErrAborted
		}
		delete(room.Players, userID)
		return nil
	})
	if errors.Is(err, store.ErrAborted) {
		return nil
	}
	return err
}
