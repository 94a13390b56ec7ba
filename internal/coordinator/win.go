package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fridaybingo/bingo/internal/cards"
	"github.com/fridaybingo/bingo/internal/events"
	"github.com/fridaybingo/bingo/internal/game"
	"github.com/fridaybingo/bingo/internal/models"
	"github.com/fridaybingo/bingo/internal/store"
)

// ClaimWin validates the caller's card against the currently revealed
// numbers and, on success, runs the winner election. It returns true only
// for the single caller whose transaction commits the winner. A failed
// local validation or a lost election is a silent no-op, not an error.
func (c *Coordinator) ClaimWin(ctx context.Context, roomID, userID string) (bool, error) {
	room, err := c.rooms.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	if room.Status != models.RoomStatusPlaying || room.GameID == "" {
		return false, nil
	}

	player, ok := room.Players[userID]
	if !ok || player.CardID == "" {
		return false, nil
	}

	g, err := c.games.Get(ctx, room.GameID)
	if err != nil {
		if errors.Is(err, game.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	card, err := c.cards.Get(ctx, roomID, player.CardID)
	if err != nil {
		if errors.Is(err, cards.ErrCardNotFound) {
			return false, nil
		}
		return false, err
	}
	if card.ClaimedBy != userID {
		return false, nil
	}

	revealed := g.Revealed(c.clock.Now().UTC())
	if !game.HasBingo(card, revealed) {
		log.Debug().
			Str("room_id", roomID).
			Str("user_id", userID).
			Int("revealed", len(revealed)).
			Msg("win claim failed local validation")
		return false, nil
	}

	gameID := g.ID
	pot := g.Pot
	var declaredAt, resetAt time.Time
	err = c.rooms.Transact(ctx, roomID, func(room *models.Room) error {
		if room.Status != models.RoomStatusPlaying ||
			room.GameID != gameID ||
			room.Winner != "" {
			return store.ErrAborted
		}
		declaredAt = c.clock.Now().UTC()
		resetAt = declaredAt.Add(c.cfg.Cooldown)
		room.Winner = userID
		room.Payout = pot
		room.Status = models.RoomStatusEnded
		room.GameID = ""
		room.NextResetAt = &resetAt
		return nil
	})
	if err != nil {
		if electionLost(err) {
			return false, nil
		}
		return false, err
	}

	if err := c.ledger.Credit(ctx, userID, pot); err != nil {
		// The winner is committed; the payout must not be lost silently.
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Float64("payout", pot).
			Msg("payout credit failed")
	}
	if err := c.games.End(ctx, gameID); err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("failed to mark game ended")
	}

	log.Info().
		Str("room_id", roomID).
		Str("game_id", gameID).
		Str("user_id", userID).
		Float64("payout", pot).
		Msg("winner declared")
	c.publish(ctx, events.TypeWinnerDeclared, roomID, events.WinnerDeclaredPayload{
		RoomID:     roomID,
		GameID:     gameID,
		UserID:     userID,
		Payout:     pot,
		DeclaredAt: declaredAt,
	})
	return true, nil
}
