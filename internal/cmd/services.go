package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/fridaybingo/bingo/internal/cards"
	"github.com/fridaybingo/bingo/internal/coordinator"
	"github.com/fridaybingo/bingo/internal/events"
	"github.com/fridaybingo/bingo/internal/game"
	"github.com/fridaybingo/bingo/internal/gateway"
	"github.com/fridaybingo/bingo/internal/ledger"
	"github.com/fridaybingo/bingo/internal/rooms"
	"github.com/fridaybingo/bingo/internal/store/natskv"
)

type Services struct {
	Rooms       *rooms.Repository
	Cards       *cards.Pool
	Games       *game.Repository
	Ledger      *ledger.Repository
	Coordinator *coordinator.Coordinator
	Gateway     *gateway.Service
	RoomIDs     []string
}

func setupServices(ctx context.Context, config *Config, js jetstream.JetStream, database *sql.DB) (*Services, error) {
	kvStore, err := natskv.New(ctx, js, getEnv("KV_BUCKET", "bingo"))
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()

	ledgerRepo := ledger.NewRepository(database)
	if err := ledgerRepo.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	roomRepo := rooms.NewRepository(kvStore, clock)
	pool := cards.NewPool(kvStore, roomRepo, ledgerRepo)
	gameRepo := game.NewRepository(kvStore)

	publisher, err := events.NewJetStreamPublisher(ctx, js)
	if err != nil {
		return nil, err
	}

	cfg := coordinator.DefaultConfig()
	cfg.DrawInterval = time.Duration(getEnvAsInt("DRAW_INTERVAL_SEC", 5)) * time.Second
	coord := coordinator.New(roomRepo, pool, gameRepo, ledgerRepo, publisher, clock, cfg)

	roomIDs := make([]string, 0, len(config.Rooms))
	for _, rc := range config.Rooms {
		roomIDs = append(roomIDs, rc.ID)
	}
	gw := gateway.NewService(gateway.DefaultConnectionConfig(), roomRepo, roomIDs)

	services := &Services{
		Rooms:       roomRepo,
		Cards:       pool,
		Games:       gameRepo,
		Ledger:      ledgerRepo,
		Coordinator: coord,
		Gateway:     gw,
		RoomIDs:     roomIDs,
	}

	if err := seedRooms(ctx, config, services); err != nil {
		return nil, err
	}
	return services, nil
}

// seedRooms creates the configured rooms and their card pools. Rooms that
// already exist in the store are left as they are.
func seedRooms(ctx context.Context, config *Config, services *Services) error {
	for _, rc := range config.Rooms {
		_, err := services.Rooms.Create(ctx, rooms.CreateRoomParams{
			ID:           rc.ID,
			Name:         rc.Name,
			BetAmount:    rc.BetAmount,
			MaxPlayers:   rc.MaxPlayers,
			CardPoolSize: rc.CardPoolSize,
		})
		if errors.Is(err, rooms.ErrAlreadyExists) {
			log.Debug().Str("room_id", rc.ID).Msg("room already seeded")
			continue
		}
		if err != nil {
			return fmt.Errorf("seed room %s: %w", rc.ID, err)
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		if err := services.Cards.Seed(ctx, rc.ID, rc.CardPoolSize, rng); err != nil {
			return fmt.Errorf("seed pool for room %s: %w", rc.ID, err)
		}
	}
	return nil
}
