// Package ledger is the collaborating balance ledger, backed by Postgres.
// The coordinator only needs two guarantees from it: a debit fails before
// any card transaction is attempted when funds are short, and every balance
// movement leaves a transaction row behind for the admin.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/fridaybingo/bingo/internal/models"
)

// StartingBalance is credited to every new user on first touch.
const StartingBalance = 50

var (
	// ErrInsufficientFunds is returned when a debit would take the balance
	// negative. User-visible.
	ErrInsufficientFunds = errors.New("ledger: insufficient balance")

	// ErrUserNotFound is returned when the account does not exist.
	ErrUserNotFound = errors.New("ledger: user not found")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the ledger tables when absent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    username   TEXT NOT NULL DEFAULT '',
    balance    NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS transactions (
    id         UUID PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES users(id),
    amount     NUMERIC NOT NULL,
    kind       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return nil
}

// GetOrCreateUser returns the account, creating it with the starting
// balance on first touch.
func (r *Repository) GetOrCreateUser(ctx context.Context, userID, username string) (*models.User, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		userID, username, StartingBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", userID, err)
	}

	var user models.User
	err = r.db.QueryRowContext(ctx,
		`SELECT id, username, balance, created_at FROM users WHERE id = $1`,
		userID).Scan(&user.ID, &user.Username, &user.Balance, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return &user, nil
}

// Balance returns the current balance.
func (r *Repository) Balance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance for %s: %w", userID, err)
	}
	return balance, nil
}

// Debit withdraws amount if and only if the balance covers it. The balance
// guard is a single conditional UPDATE so concurrent debits cannot
// overdraw.
func (r *Repository) Debit(ctx context.Context, userID string, amount float64) error {
	return r.move(ctx, userID, -amount, "debit")
}

// Credit deposits amount.
func (r *Repository) Credit(ctx context.Context, userID string, amount float64) error {
	return r.move(ctx, userID, amount, "credit")
}

func (r *Repository) move(ctx context.Context, userID string, amount float64, kind string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s: %w", kind, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1 AND balance + $2 >= 0`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", kind, userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", kind, userID, err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check user %s: %w", userID, err)
		}
		if !exists {
			return ErrUserNotFound
		}
		return ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, amount, kind, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), userID, amount, kind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record %s for %s: %w", kind, userID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", kind, err)
	}

	log.Debug().
		Str("user_id", userID).
		Float64("amount", amount).
		Str("kind", kind).
		Msg("ledger movement")
	return nil
}
