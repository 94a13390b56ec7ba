package models

import (
	"time"
)

// RoomStatus defines the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusWaiting   RoomStatus = "WAITING"
	RoomStatusCountdown RoomStatus = "COUNTDOWN"
	RoomStatusPlaying   RoomStatus = "PLAYING"
	RoomStatusEnded     RoomStatus = "ENDED"
)

// Player is a participant derived from a successful card claim.
type Player struct {
	UserID    string  `json:"user_id"`
	Username  string  `json:"username"`
	BetAmount float64 `json:"bet_amount"`
	CardID    string  `json:"card_id"`
}

// Active reports whether the player has actually placed a bet and holds a card.
func (p Player) Active() bool {
	return p.BetAmount > 0 && p.CardID != ""
}

// Room represents a persistent multiplayer lobby with a fixed bet amount and
// capacity. All mutable fields that more than one actor can influence are
// only ever written through store transactions.
type Room struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	BetAmount      float64           `json:"bet_amount"`
	MaxPlayers     int               `json:"max_players"`
	CardPoolSize   int               `json:"card_pool_size"`
	Status         RoomStatus        `json:"status"`
	CountdownEndAt *time.Time        `json:"countdown_end_at,omitempty"`
	CountdownOwner string            `json:"countdown_owner,omitempty"`
	Players        map[string]Player `json:"players,omitempty"`
	GameID         string            `json:"game_id,omitempty"`
	Winner         string            `json:"winner,omitempty"`
	Payout         float64           `json:"payout,omitempty"`
	NextResetAt    *time.Time        `json:"next_reset_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ActivePlayers returns the players that have both a bet and a claimed card.
func (r *Room) ActivePlayers() []Player {
	var active []Player
	for _, p := range r.Players {
		if p.Active() {
			active = append(active, p)
		}
	}
	return active
}

// CountdownExpired reports whether the countdown window has passed.
func (r *Room) CountdownExpired(now time.Time) bool {
	return r.CountdownEndAt != nil && !now.Before(*r.CountdownEndAt)
}
