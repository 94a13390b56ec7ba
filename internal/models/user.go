package models

import (
	"time"
)

// User is a ledger account keyed by the chat platform user id.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}
