// Package cards owns the claimable card pool: generation, seeding, the
// claim/cancel coordination and the orphan-claim reconciliation sweep.
//
// A claim is two causally ordered writes: the card compare-and-swap (the
// authoritative exactly-one-winner step) followed by the player record
// write. The store offers no cross-entity atomicity, so a crash between the
// two leaves a claimed card with no player; Reconcile releases and refunds
// those.
package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/fridaybingo/bingo/internal/models"
	"github.com/fridaybingo/bingo/internal/rooms"
	"github.com/fridaybingo/bingo/internal/store"
)

var (
	// ErrCardClaimed is returned when the card was already claimed by
	// another player. User-visible.
	ErrCardClaimed = errors.New("cards: card already claimed")

	// ErrCardNotFound is returned when no such card exists in the pool.
	ErrCardNotFound = errors.New("cards: card not found")

	// ErrRoomNotJoinable is returned when claiming into a room that is not
	// accepting bets (PLAYING or ENDED).
	ErrRoomNotJoinable = errors.New("cards: room not accepting bets")

	// ErrPlayerHasCard is returned when the user already holds a card in the
	// room. One card per player; the existing claim must be cancelled first.
	ErrPlayerHasCard = errors.New("cards: player already holds a card")

	// ErrRoomFull is returned when the room is at player capacity.
	ErrRoomFull = errors.New("cards: room is full")
)

// Ledger is the collaborating balance ledger. A failed debit aborts the
// claim before any card transaction is attempted.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount float64) error
	Credit(ctx context.Context, userID string, amount float64) error
}

// Key returns the store key for a card within a room.
func Key(roomID, cardID string) string {
	return "rooms." + roomID + ".cards." + cardID
}

// Pool coordinates claims against the shared store.
type Pool struct {
	store  store.Store
	rooms  *rooms.Repository
	ledger Ledger
}

func NewPool(s store.Store, roomRepo *rooms.Repository, ledger Ledger) *Pool {
	return &Pool{store: s, rooms: roomRepo, ledger: ledger}
}

// Seed writes a fresh card pool for the room, overwriting any previous
// generation. Seeding is owned by room administration and the reset
// election, never by players, so unconditional writes are safe here.
func (p *Pool) Seed(ctx context.Context, roomID string, size int, rng *rand.Rand) error {
	for _, card := range GeneratePool(roomID, size, rng) {
		if err := p.store.Set(ctx, Key(roomID, card.ID), card); err != nil {
			return fmt.Errorf("seed card %s: %w", card.ID, err)
		}
	}
	log.Info().Str("room_id", roomID).Int("pool_size", size).Msg("card pool seeded")
	return nil
}

// Get returns one card.
func (p *Pool) Get(ctx context.Context, roomID, cardID string) (*models.BingoCard, error) {
	var card models.BingoCard
	if err := p.store.Get(ctx, Key(roomID, cardID), &card); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("get card %s: %w", cardID, err)
	}
	return &card, nil
}

// List returns the current pool by walking the deterministic serial range.
func (p *Pool) List(ctx context.Context, room *models.Room) ([]models.BingoCard, error) {
	pool := make([]models.BingoCard, 0, room.CardPoolSize)
	for serial := 1; serial <= room.CardPoolSize; serial++ {
		card, err := p.Get(ctx, room.ID, CardID(room.ID, serial))
		if err != nil {
			if errors.Is(err, ErrCardNotFound) {
				continue
			}
			return nil, err
		}
		pool = append(pool, *card)
	}
	return pool, nil
}

// Claimed returns the claimed subset of the pool.
func (p *Pool) Claimed(ctx context.Context, room *models.Room) ([]models.BingoCard, error) {
	pool, err := p.List(ctx, room)
	if err != nil {
		return nil, err
	}
	claimed := pool[:0]
	for _, card := range pool {
		if card.Claimed {
			claimed = append(claimed, card)
		}
	}
	return claimed, nil
}

// Claim debits the bet, then claims the card with a compare-and-swap whose
// callback re-reads the authoritative value, guaranteeing exactly one winner
// among concurrent claimants, and finally registers the player record. The
// debit is refunded if the claim loses.
func (p *Pool) Claim(ctx context.Context, roomID, cardID, userID, username string) error {
	room, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusWaiting && room.Status != models.RoomStatusCountdown {
		return ErrRoomNotJoinable
	}
	if existing, ok := room.Players[userID]; ok && existing.CardID != "" {
		return ErrPlayerHasCard
	}
	if room.MaxPlayers > 0 && len(room.Players) >= room.MaxPlayers {
		return ErrRoomFull
	}

	if err := p.ledger.Debit(ctx, userID, room.BetAmount); err != nil {
		return fmt.Errorf("debit bet for %s: %w", userID, err)
	}

	err = p.store.Transact(ctx, Key(roomID, cardID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrCardNotFound
		}
		var card models.BingoCard
		if err := json.Unmarshal(current, &card); err != nil {
			return nil, fmt.Errorf("decode card %s: %w", cardID, err)
		}
		if card.Claimed {
			return nil, ErrCardClaimed
		}
		card.Claimed = true
		card.ClaimedBy = userID
		return json.Marshal(&card)
	})
	if err != nil {
		if refundErr := p.ledger.Credit(ctx, userID, room.BetAmount); refundErr != nil {
			log.Error().Err(refundErr).
				Str("user_id", userID).
				Str("card_id", cardID).
				Msg("failed to refund lost claim")
		}
		return err
	}

	player := models.Player{
		UserID:    userID,
		Username:  username,
		BetAmount: room.BetAmount,
		CardID:    cardID,
	}
	if err := p.rooms.SetPlayer(ctx, roomID, player); err != nil {
		// The card is claimed but the player record never landed; the
		// reconciliation sweep will release it.
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("card_id", cardID).
			Str("user_id", userID).
			Msg("player record write failed after claim")
		return fmt.Errorf("register player %s: %w", userID, err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("card_id", cardID).
		Str("user_id", userID).
		Msg("card claimed")
	return nil
}

// Cancel releases the caller's claim and removes the player record. It is an
// idempotent no-op when the card is already unclaimed, and it never touches
// a card claimed by someone else.
func (p *Pool) Cancel(ctx context.Context, roomID, cardID, userID string) error {
	room, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusWaiting && room.Status != models.RoomStatusCountdown {
		return ErrRoomNotJoinable
	}

	released := false
	err = p.store.Transact(ctx, Key(roomID, cardID), func(current []byte) ([]byte, error) {
		released = false
		if current == nil {
			return nil, ErrCardNotFound
		}
		var card models.BingoCard
		if err := json.Unmarshal(current, &card); err != nil {
			return nil, fmt.Errorf("decode card %s: %w", cardID, err)
		}
		if !card.Claimed || card.ClaimedBy != userID {
			return nil, store.ErrAborted
		}
		card.Claimed = false
		card.ClaimedBy = ""
		released = true
		return json.Marshal(&card)
	})
	if err != nil && !errors.Is(err, store.ErrAborted) {
		return err
	}
	if !released {
		return nil
	}

	// Refund before touching the player record: if the removal fails the
	// ghost record is swept by Reconcile, which never re-issues refunds.
	if err := p.ledger.Credit(ctx, userID, room.BetAmount); err != nil {
		return fmt.Errorf("refund bet for %s: %w", userID, err)
	}
	if err := p.rooms.RemovePlayer(ctx, roomID, userID); err != nil {
		return fmt.Errorf("remove player %s: %w", userID, err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("card_id", cardID).
		Str("user_id", userID).
		Msg("claim cancelled")
	return nil
}

// Reconcile repairs the two halves of a torn claim. A claimed card with no
// matching player record is released and its bet refunded, since the debit
// committed before the card transaction. A player record whose card is no
// longer claimed by that player is removed without a refund, since refunds
// ride with the card release. It only runs while the room is joinable;
// during play the roster snapshot is authoritative.
func (p *Pool) Reconcile(ctx context.Context, roomID string) error {
	room, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusWaiting && room.Status != models.RoomStatusCountdown {
		return nil
	}

	claimed, err := p.Claimed(ctx, room)
	if err != nil {
		return err
	}

	for _, card := range claimed {
		player, ok := room.Players[card.ClaimedBy]
		if ok && player.CardID == card.ID {
			continue
		}
		owner := card.ClaimedBy
		err := p.store.Transact(ctx, Key(roomID, card.ID), func(current []byte) ([]byte, error) {
			if current == nil {
				return nil, store.ErrAborted
			}
			var c models.BingoCard
			if err := json.Unmarshal(current, &c); err != nil {
				return nil, err
			}
			if !c.Claimed || c.ClaimedBy != owner {
				return nil, store.ErrAborted
			}
			c.Claimed = false
			c.ClaimedBy = ""
			return json.Marshal(&c)
		})
		if err != nil && !errors.Is(err, store.ErrAborted) {
			return fmt.Errorf("release orphaned claim on %s: %w", card.ID, err)
		}
		if err == nil {
			if refundErr := p.ledger.Credit(ctx, owner, room.BetAmount); refundErr != nil {
				log.Error().Err(refundErr).
					Str("room_id", roomID).
					Str("card_id", card.ID).
					Str("user_id", owner).
					Msg("failed to refund released claim")
			}
			log.Warn().
				Str("room_id", roomID).
				Str("card_id", card.ID).
				Str("user_id", owner).
				Msg("released and refunded orphaned card claim")
		}
	}

	for userID, player := range room.Players {
		if player.CardID == "" {
			continue
		}
		card, err := p.Get(ctx, roomID, player.CardID)
		if err != nil && !errors.Is(err, ErrCardNotFound) {
			return err
		}
		if err == nil && card.Claimed && card.ClaimedBy == userID {
			continue
		}
		if err := p.rooms.RemovePlayer(ctx, roomID, userID); err != nil {
			return fmt.Errorf("remove ghost player %s: %w", userID, err)
		}
		log.Warn().
			Str("room_id", roomID).
			Str("card_id", player.CardID).
			Str("user_id", userID).
			Msg("removed player record with no backing claim")
	}
	return nil
}
