// Package coordinator drives a room's lifecycle from the client side. There
// is no owning server process: every node runs the same loop against the
// shared store, and each state transition is a compare-and-swap transaction
// whose callback re-validates all preconditions against the fresh snapshot.
// Among N simultaneous attempts exactly one commits; the rest lose the
// election silently, which is the correct outcome.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/fridaybingo/bingo/internal/cards"
	"github.com/fridaybingo/bingo/internal/events"
	"github.com/fridaybingo/bingo/internal/game"
	"github.com/fridaybingo/bingo/internal/models"
	"github.com/fridaybingo/bingo/internal/rooms"
	"github.com/fridaybingo/bingo/internal/store"
)

// Config holds the coordination timings and the payout formula knob.
type Config struct {
	CountdownDuration time.Duration
	DrawInterval      time.Duration
	Cooldown          time.Duration
	TickInterval      time.Duration
	PayoutRatio       float64
	MinPlayers        int
	ReconcileEvery    int // sweeps once per this many ticks
}

// DefaultConfig mirrors the production game: 30 s countdown, 5 s draws,
// 60 s cooldown, pot = claimed cards x bet x 0.9.
func DefaultConfig() Config {
	return Config{
		CountdownDuration: 30 * time.Second,
		DrawInterval:      5 * time.Second,
		Cooldown:          60 * time.Second,
		TickInterval:      time.Second,
		PayoutRatio:       0.9,
		MinPlayers:        2,
		ReconcileEvery:    10,
	}
}

type Coordinator struct {
	rooms     *rooms.Repository
	cards     *cards.Pool
	games     *game.Repository
	ledger    cards.Ledger
	publisher events.Publisher
	clock     clockwork.Clock
	cfg       Config

	instanceID string
}

func New(roomRepo *rooms.Repository, pool *cards.Pool, gameRepo *game.Repository, ledger cards.Ledger, publisher events.Publisher, clock clockwork.Clock, cfg Config) *Coordinator {
	return &Coordinator{
		rooms:      roomRepo,
		cards:      pool,
		games:      gameRepo,
		ledger:     ledger,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		instanceID: uuid.New().String()[:8],
	}
}

// Run drives one room until ctx is cancelled: it re-evaluates on every
// committed room change pushed by the store watch and on a periodic tick
// that checks wall-clock conditions (countdown expiry, draw exhaustion,
// cooldown). State is always re-derived from the latest snapshot, so a
// stale view self-heals on the next push.
func (c *Coordinator) Run(ctx context.Context, roomID string) error {
	snapshots, err := c.rooms.Watch(ctx, roomID)
	if err != nil {
		return fmt.Errorf("watch room %s: %w", roomID, err)
	}

	ticker := c.clock.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().
		Str("room_id", roomID).
		Str("instance", c.instanceID).
		Msg("coordinator started")

	var current *models.Room
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("room_id", roomID).Str("instance", c.instanceID).Msg("coordinator stopped")
			return nil

		case room, ok := <-snapshots:
			if !ok {
				if ctx.Err() != nil {
					log.Info().Str("room_id", roomID).Str("instance", c.instanceID).Msg("coordinator stopped")
					return nil
				}
				return fmt.Errorf("room %s watch closed: %w", roomID, store.ErrUnavailable)
			}
			current = room
			c.evaluate(ctx, current)

		case <-ticker.Chan():
			if current == nil {
				continue
			}
			c.evaluate(ctx, current)
			ticks++
			if c.cfg.ReconcileEvery > 0 && ticks%c.cfg.ReconcileEvery == 0 {
				if err := c.cards.Reconcile(ctx, roomID); err != nil {
					log.Error().Err(err).Str("room_id", roomID).Msg("reconciliation sweep failed")
				}
			}
		}
	}
}

// evaluate inspects a snapshot and attempts whichever transition its state
// and the wall clock call for. Pre-checks here are advisory; the authority
// is always the re-validation inside the transaction callback.
func (c *Coordinator) evaluate(ctx context.Context, room *models.Room) {
	now := c.clock.Now().UTC()

	switch room.Status {
	case models.RoomStatusWaiting:
		if len(room.ActivePlayers()) >= c.cfg.MinPlayers && room.CountdownOwner == "" {
			c.tryStartCountdown(ctx, room.ID)
		}
	case models.RoomStatusCountdown:
		if room.CountdownEndAt == nil {
			return
		}
		if now.Before(*room.CountdownEndAt) {
			if len(room.ActivePlayers()) < c.cfg.MinPlayers {
				c.tryCancelCountdown(ctx, room.ID)
			}
			return
		}
		c.tryLaunchGame(ctx, room.ID)
	case models.RoomStatusPlaying:
		if room.GameID != "" {
			c.tryEndDraw(ctx, room)
		}
	case models.RoomStatusEnded:
		if room.NextResetAt != nil && !now.Before(*room.NextResetAt) {
			c.tryResetRoom(ctx, room.ID)
		}
	}
}

// electionLost reports whether err is the expected outcome of losing an
// election: the callback declined to write, or another writer committed
// first on every retry.
func electionLost(err error) bool {
	return errors.Is(err, store.ErrAborted) || errors.Is(err, store.ErrConflict)
}

func (c *Coordinator) tryStartCountdown(ctx context.Context, roomID string) {
	var endAt time.Time
	var playerCount int
	err := c.rooms.Transact(ctx, roomID, func(room *models.Room) error {
		active := room.ActivePlayers()
		if room.Status != models.RoomStatusWaiting ||
			len(active) < c.cfg.MinPlayers ||
			room.CountdownOwner != "" {
			return store.ErrAborted
		}
		endAt = c.clock.Now().UTC().Add(c.cfg.CountdownDuration)
		playerCount = len(active)
		room.Status = models.RoomStatusCountdown
		room.CountdownEndAt = &endAt
		room.CountdownOwner = c.instanceID
		return nil
	})
	if err != nil {
		if !electionLost(err) {
			log.Error().Err(err).Str("room_id", roomID).Msg("countdown start failed")
		}
		return
	}

	log.Info().
		Str("room_id", roomID).
		Str("instance", c.instanceID).
		Time("countdown_end_at", endAt).
		Msg("countdown started")
	c.publish(ctx, events.TypeCountdownStarted, roomID, events.CountdownStartedPayload{
		RoomID:         roomID,
		CountdownEndAt: endAt,
		PlayerCount:    playerCount,
	})
}

func (c *Coordinator) tryCancelCountdown(ctx context.Context, roomID string) {
	var playerCount int
	err := c.rooms.Transact(ctx, roomID, func(room *models.Room) error {
		now := c.clock.Now().UTC()
		active := room.ActivePlayers()
		if room.Status != models.RoomStatusCountdown ||
			room.CountdownEndAt == nil ||
			!now.Before(*room.CountdownEndAt) ||
			len(active) >= c.cfg.MinPlayers {
			return store.ErrAborted
		}
		playerCount = len(active)
		room.Status = models.RoomStatusWaiting
		room.CountdownEndAt = nil
		room.CountdownOwner = ""
		return nil
	})
	if err != nil {
		if !electionLost(err) {
			log.Error().Err(err).Str("room_id", roomID).Msg("countdown cancel failed")
		}
		return
	}

	log.Info().Str("room_id", roomID).Str("instance", c.instanceID).Msg("countdown cancelled, quorum lost")
	c.publish(ctx, events.TypeCountdownCancelled, roomID, events.CountdownCancelledPayload{
		RoomID:      roomID,
		PlayerCount: playerCount,
	})
}

// tryLaunchGame runs the launch election and, on winning, materializes the
// Game entity: roster from the claimed cards, pot from the payout formula,
// a write-once draw sequence seeded from roomID+countdownEndAt, then the
// room update that installs the game id and clears the countdown fields.
// A contender that loses the initial election aborts with no side effects.
func (c *Coordinator) tryLaunchGame(ctx context.Context, roomID string) {
	gameID := uuid.New().String()
	var countdownEndAt time.Time
	err := c.rooms.Transact(ctx, roomID, func(room *models.Room) error {
		now := c.clock.Now().UTC()
		if room.Status != models.RoomStatusCountdown ||
			!room.CountdownExpired(now) ||
			room.GameID != "" {
			return store.ErrAborted
		}
		countdownEndAt = *room.CountdownEndAt
		room.Status = models.RoomStatusPlaying
		room.GameID = gameID
		return nil
	})
	if err != nil {
		if !electionLost(err) {
			log.Error().Err(err).Str("room_id", roomID).Msg("launch election failed")
		}
		return
	}

	if err := c.materializeGame(ctx, roomID, gameID, countdownEndAt); err != nil {
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("game_id", gameID).
			Msg("game materialization failed")
	}
}

// materializeGame is safe to run from any node: the game record is
// write-once, so concurrent materializers converge on the first committed
// one, and the countdown-clearing transaction elects the single announcer.
func (c *Coordinator) materializeGame(ctx context.Context, roomID, gameID string, countdownEndAt time.Time) error {
	room, err := c.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}

	claimed, err := c.cards.Claimed(ctx, room)
	if err != nil {
		return fmt.Errorf("collect roster: %w", err)
	}

	roster := make([]models.RosterEntry, 0, len(claimed))
	for _, card := range claimed {
		roster = append(roster, models.RosterEntry{
			UserID: card.ClaimedBy,
			CardID: card.ID,
			Card:   card,
		})
	}

	g := &models.Game{
		ID:           gameID,
		RoomID:       roomID,
		DrawSequence: game.NewDrawSequence(game.SeedFor(roomID, countdownEndAt)),
		StartedAt:    c.clock.Now().UTC(),
		DrawInterval: c.cfg.DrawInterval,
		Status:       models.GameStatusPlaying,
		Pot:          float64(len(claimed)) * room.BetAmount * c.cfg.PayoutRatio,
		Roster:       roster,
	}
	if err := c.games.Create(ctx, g); err != nil {
		return err
	}

	// Re-read the committed record: when another materializer won the
	// write-once create, its contents are the authoritative ones.
	g, err = c.games.Get(ctx, gameID)
	if err != nil {
		return err
	}

	err = c.rooms.Transact(ctx, roomID, func(room *models.Room) error {
		if room.GameID != gameID || room.CountdownEndAt == nil {
			return store.ErrAborted
		}
		room.CountdownEndAt = nil
		room.CountdownOwner = ""
		return nil
	})
	if err != nil {
		if electionLost(err) {
			return nil
		}
		return fmt.Errorf("clear countdown fields: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("game_id", gameID).
		Str("instance", c.instanceID).
		Int("players", len(g.Roster)).
		Float64("pot", g.Pot).
		Msg("game launched")
	c.publish(ctx, events.TypeGameStarted, roomID, events.GameStartedPayload{
		RoomID:          roomID,
		GameID:          gameID,
		StartedAt:       g.StartedAt,
		DrawIntervalSec: int(g.DrawInterval / time.Second),
		PlayerCount:     len(g.Roster),
		Pot:             g.Pot,
	})
	return nil
}

// tryEndDraw runs the end-of-draw election once the whole sequence has been
// revealed with no winning claim. A PLAYING room whose game record is
// missing means the launch winner died between the room commit and the game
// write; any node re-materializes it from the still-present countdown
// expiry, landing on the identical sequence.
func (c *Coordinator) tryEndDraw(ctx context.Context, room *models.Room) {
	roomID, gameID := room.ID, room.GameID
	g, err := c.games.Get(ctx, gameID)
	if err != nil {
		if !errors.Is(err, game.ErrNotFound) {
			log.Error().Err(err).Str("game_id", gameID).Msg("draw check failed")
			return
		}
		if room.CountdownEndAt == nil {
			log.Error().
				Str("room_id", roomID).
				Str("game_id", gameID).
				Msg("playing room has no game record and no countdown expiry to recover from")
			return
		}
		// Give the election winner one tick to finish its own write.
		if c.clock.Now().UTC().Sub(room.UpdatedAt) < c.cfg.TickInterval {
			return
		}
		log.Warn().
			Str("room_id", roomID).
			Str("game_id", gameID).
			Str("instance", c.instanceID).
			Msg("recovering unmaterialized game")
		if err := c.materializeGame(ctx, roomID, gameID, *room.CountdownEndAt); err != nil {
			log.Error().Err(err).Str("game_id", gameID).Msg("game recovery failed")
		}
		return
	}
	if !g.FullyRevealed(c.clock.Now().UTC()) {
		return
	}

	var endedAt, resetAt time.Time
	err = c.rooms.Transact(ctx, roomID, func(room *models.Room) error {
		if room.Status != models.RoomStatusPlaying ||
			room.GameID != gameID ||
			room.Winner != "" {
			return store.ErrAborted
		}
		endedAt = c.clock.Now().UTC()
		resetAt = endedAt.Add(c.cfg.Cooldown)
		room.Status = models.RoomStatusEnded
		room.GameID = ""
		room.NextResetAt = &resetAt
		return nil
	})
	if err != nil {
		if !electionLost(err) {
			log.Error().Err(err).Str("room_id", roomID).Msg("draw-end election failed")
		}
		return
	}

	if err := c.games.End(ctx, gameID); err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("failed to mark game ended")
	}

	log.Info().
		Str("room_id", roomID).
		Str("game_id", gameID).
		Str("instance", c.instanceID).
		Msg("draw sequence exhausted, no winner")
	c.publish(ctx, events.TypeGameEnded, roomID, events.GameEndedPayload{
		RoomID:      roomID,
		GameID:      gameID,
		EndedAt:     endedAt,
		NextResetAt: resetAt,
	})
}

// tryResetRoom returns an ended room to joinable state after the cooldown
// and reseeds the card pool; the pool is regenerated per game.
func (c *Coordinator) tryResetRoom(ctx context.Context, roomID string) {
	var poolSize int
	err := c.rooms.Transact(ctx, roomID, func(room *models.Room) error {
		now := c.clock.Now().UTC()
		if room.Status != models.RoomStatusEnded ||
			room.NextResetAt == nil ||
			now.Before(*room.NextResetAt) {
			return store.ErrAborted
		}
		poolSize = room.CardPoolSize
		room.Status = models.RoomStatusWaiting
		room.Winner = ""
		room.Payout = 0
		room.GameID = ""
		room.Players = nil
		room.NextResetAt = nil
		room.CountdownEndAt = nil
		room.CountdownOwner = ""
		return nil
	})
	if err != nil {
		if !electionLost(err) {
			log.Error().Err(err).Str("room_id", roomID).Msg("room reset failed")
		}
		return
	}

	rng := rand.New(rand.NewSource(c.clock.Now().UnixNano()))
	if err := c.cards.Seed(ctx, roomID, poolSize, rng); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("pool reseed failed")
	}

	log.Info().Str("room_id", roomID).Str("instance", c.instanceID).Msg("room reset to waiting")
	c.publish(ctx, events.TypeRoomReset, roomID, events.RoomResetPayload{
		RoomID:  roomID,
		ResetAt: c.clock.Now().UTC(),
	})
}

func (c *Coordinator) publish(ctx context.Context, eventType events.EventType, roomID string, payload any) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, eventType, roomID, payload); err != nil {
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("event_type", string(eventType)).
			Msg("event publish failed")
	}
}
