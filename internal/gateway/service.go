package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fridaybingo/bingo/internal/rooms"
)

// Service bridges store watches to WebSocket clients: one feeder goroutine
// per room forwards every committed room snapshot to the connection pool.
type Service struct {
	connectionManager *ConnectionManager
	rooms             *rooms.Repository
	roomIDs           []string
}

func NewService(config ConnectionConfig, roomRepo *rooms.Repository, roomIDs []string) *Service {
	return &Service{
		connectionManager: NewConnectionManager(config),
		rooms:             roomRepo,
		roomIDs:           roomIDs,
	}
}

// Start runs the connection manager and one feeder per room until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.connectionManager.Start(ctx)
		return nil
	})
	for _, roomID := range s.roomIDs {
		roomID := roomID
		g.Go(func() error {
			return s.feedRoom(ctx, roomID)
		})
	}
	return g.Wait()
}

func (s *Service) feedRoom(ctx context.Context, roomID string) error {
	snapshots, err := s.rooms.Watch(ctx, roomID)
	if err != nil {
		return err
	}
	for room := range snapshots {
		data, err := json.Marshal(room)
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to marshal room snapshot")
			continue
		}
		s.connectionManager.BroadcastToRoom(roomID, data)
	}
	return nil
}

// HandleRoomConnection upgrades a client WebSocket subscribed to one room.
func (s *Service) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	if err := s.connectionManager.UpgradeConnection(w, r, userID, roomID); err != nil {
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleConnectionStats returns counts of active connections.
func (s *Service) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, perRoom := s.connectionManager.ConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{\"total_connections\":" + strconv.Itoa(total) +
		",\"active_rooms\":" + strconv.Itoa(len(perRoom)) + "}"))
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", s.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", s.HandleConnectionStats)
	log.Info().Msg("gateway routes registered")
}
