package events

import (
	"time"
)

// Event payload types shared between the coordinator and downstream
// consumers (the chat front-end and the gateway).

// EventType identifies a domain event.
type EventType string

const (
	TypeCountdownStarted   EventType = "CountdownStarted"
	TypeCountdownCancelled EventType = "CountdownCancelled"
	TypeGameStarted        EventType = "GameStarted"
	TypeWinnerDeclared     EventType = "WinnerDeclared"
	TypeGameEnded          EventType = "GameEnded"
	TypeRoomReset          EventType = "RoomReset"
)

// CountdownStartedPayload is the payload for a CountdownStarted event.
type CountdownStartedPayload struct {
	RoomID         string    `json:"room_id"`
	CountdownEndAt time.Time `json:"countdown_end_at"`
	PlayerCount    int       `json:"player_count"`
}

// CountdownCancelledPayload is the payload for a CountdownCancelled event.
type CountdownCancelledPayload struct {
	RoomID      string `json:"room_id"`
	PlayerCount int    `json:"player_count"`
}

// GameStartedPayload is the payload for a GameStarted event.
type GameStartedPayload struct {
	RoomID          string    `json:"room_id"`
	GameID          string    `json:"game_id"`
	StartedAt       time.Time `json:"started_at"`
	DrawIntervalSec int       `json:"draw_interval_sec"`
	PlayerCount     int       `json:"player_count"`
	Pot             float64   `json:"pot"`
}

// WinnerDeclaredPayload is the payload for a WinnerDeclared event.
type WinnerDeclaredPayload struct {
	RoomID     string    `json:"room_id"`
	GameID     string    `json:"game_id"`
	UserID     string    `json:"user_id"`
	Payout     float64   `json:"payout"`
	DeclaredAt time.Time `json:"declared_at"`
}

// GameEndedPayload is the payload for a GameEnded event. Winner is empty
// when the sequence exhausted with no winning claim.
type GameEndedPayload struct {
	RoomID      string    `json:"room_id"`
	GameID      string    `json:"game_id"`
	Winner      string    `json:"winner,omitempty"`
	EndedAt     time.Time `json:"ended_at"`
	NextResetAt time.Time `json:"next_reset_at"`
}

// RoomResetPayload is the payload for a RoomReset event.
type RoomResetPayload struct {
	RoomID  string    `json:"room_id"`
	ResetAt time.Time `json:"reset_at"`
}
