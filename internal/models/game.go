package models

import (
	"time"
)

// GameStatus defines the status of a game.
type GameStatus string

const (
	GameStatusPlaying GameStatus = "PLAYING"
	GameStatusEnded   GameStatus = "ENDED"
)

// NumberDomainSize is the size of the draw domain (numbers 1..75).
const NumberDomainSize = 75

// RosterEntry snapshots one claimed card at launch time.
type RosterEntry struct {
	UserID string    `json:"user_id"`
	CardID string    `json:"card_id"`
	Card   BingoCard `json:"card"`
}

// Game is the immutable record of one round. DrawSequence is write-once:
// it is generated by the launch election winner and never mutated, so every
// observer derives the revealed prefix purely from wall-clock time.
type Game struct {
	ID           string        `json:"id"`
	RoomID       string        `json:"room_id"`
	DrawSequence []int         `json:"draw_sequence"`
	StartedAt    time.Time     `json:"started_at"`
	DrawInterval time.Duration `json:"draw_interval"`
	Status       GameStatus    `json:"status"`
	Pot          float64       `json:"pot"`
	Roster       []RosterEntry `json:"roster"`
}

// RevealedCount derives how many numbers are revealed at time now. It is
// monotonic non-decreasing in now and clamped to the sequence length.
func (g *Game) RevealedCount(now time.Time) int {
	if g.DrawInterval <= 0 {
		return len(g.DrawSequence)
	}
	elapsed := now.Sub(g.StartedAt)
	if elapsed < 0 {
		return 0
	}
	n := int(elapsed / g.DrawInterval)
	if n > len(g.DrawSequence) {
		n = len(g.DrawSequence)
	}
	return n
}

// Revealed returns the currently revealed prefix of the draw sequence.
func (g *Game) Revealed(now time.Time) []int {
	return g.DrawSequence[:g.RevealedCount(now)]
}

// FullyRevealed reports whether the whole sequence has been revealed.
func (g *Game) FullyRevealed(now time.Time) bool {
	return g.RevealedCount(now) == len(g.DrawSequence)
}
