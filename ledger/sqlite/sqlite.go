// Package sqlite persists credit balances and their audit trail in an
// SQLite database via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/redraft/ledger"
)

// Options configures the SQLite ledger.
type Options struct {
	// InitialCredits is the welcome grant applied when a user is first seen.
	// Defaults to ledger.DefaultInitialCredits.
	InitialCredits int
}

// Ledger is a ledger.Ledger backed by an SQLite database. The balance check
// and update of a deduction share one database transaction, so concurrent
// deductions cannot drive a balance negative.
type Ledger struct {
	db             *sql.DB
	path           string
	initialCredits int
	mu             sync.RWMutex
}

// Compile time check to ensure Ledger satisfies the ledger.Ledger interface.
var _ ledger.Ledger = (*Ledger)(nil)

// Open opens an SQLite ledger at the given path, creating parent directories
// and applying pending schema migrations. WAL mode is enabled for concurrent
// reads.
func Open(path string, optFns ...func(o *Options)) (*Ledger, error) {
	opts := Options{InitialCredits: ledger.DefaultInitialCredits}

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	l := &Ledger{
		db:             db,
		path:           path,
		initialCredits: opts.InitialCredits,
	}

	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// Path returns the path to the database file.
func (l *Ledger) Path() string {
	return l.path
}

// migrate applies all pending schema migrations.
func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Credits},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Credits = `
CREATE TABLE IF NOT EXISTS credit_balances (
	user_id TEXT PRIMARY KEY,
	balance INTEGER NOT NULL DEFAULT 0,
	lifetime_used INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT,
	amount INTEGER NOT NULL,
	type TEXT NOT NULL,
	description TEXT,
	balance_after INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_session ON credit_transactions(session_id);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_created ON credit_transactions(created_at);
`

// Balance returns the user's balance, granting welcome credits on first
// touch.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	var balance int

	err := l.transaction(ctx, func(tx *sql.Tx) error {
		var txErr error
		balance, txErr = l.ensureBalance(ctx, tx, userID)
		return txErr
	})
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// Deduct subtracts amount from the user's balance and records a usage
// transaction, all within one database transaction.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int, sessionID, description string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	if description == "" {
		description = "AI usage"
	}

	var newBalance int

	err := l.transaction(ctx, func(tx *sql.Tx) error {
		balance, err := l.ensureBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if balance < amount {
			return &ledger.InsufficientCreditsError{UserID: userID, Requested: amount, Available: balance}
		}

		newBalance = balance - amount

		if _, err := tx.ExecContext(ctx, `
			UPDATE credit_balances
			SET balance = ?, lifetime_used = lifetime_used + ?, updated_at = ?
			WHERE user_id = ?
		`, newBalance, amount, formatTime(time.Now()), userID); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		return insertTransaction(ctx, tx, ledger.Transaction{
			UserID:       userID,
			SessionID:    sessionID,
			Amount:       -amount,
			Type:         ledger.TransactionUsage,
			Description:  description,
			BalanceAfter: newBalance,
		})
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// Grant adds credits to the user's balance and records an admin grant
// transaction.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, description string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	var newBalance int

	err := l.transaction(ctx, func(tx *sql.Tx) error {
		balance, err := l.ensureBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		newBalance = balance + amount

		if _, err := tx.ExecContext(ctx, `
			UPDATE credit_balances SET balance = ?, updated_at = ? WHERE user_id = ?
		`, newBalance, formatTime(time.Now()), userID); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		return insertTransaction(ctx, tx, ledger.Transaction{
			UserID:       userID,
			Amount:       amount,
			Type:         ledger.TransactionAdminGrant,
			Description:  description,
			BalanceAfter: newBalance,
		})
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// Transactions returns the user's audit trail, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(session_id, ''), amount, type, COALESCE(description, ''), balance_after, created_at
		FROM credit_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction

	for rows.Next() {
		var (
			tx        ledger.Transaction
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.SessionID, &tx.Amount, &tx.Type, &tx.Description, &tx.BalanceAfter, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t, err := parseTime(createdAt); err == nil {
			tx.CreatedAt = t
		}
		out = append(out, tx)
	}

	return out, rows.Err()
}

// ensureBalance returns the user's balance row, inserting it with the
// welcome grant when missing. Runs inside the caller's transaction.
func (l *Ledger) ensureBalance(ctx context.Context, tx *sql.Tx, userID string) (int, error) {
	var balance int

	err := tx.QueryRowContext(ctx, "SELECT balance FROM credit_balances WHERE user_id = ?", userID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, lifetime_used, updated_at)
		VALUES (?, ?, 0, ?)
	`, userID, l.initialCredits, formatTime(time.Now())); err != nil {
		return 0, fmt.Errorf("create balance: %w", err)
	}

	if l.initialCredits > 0 {
		if err := insertTransaction(ctx, tx, ledger.Transaction{
			UserID:       userID,
			Amount:       l.initialCredits,
			Type:         ledger.TransactionInitialGrant,
			Description:  "Welcome credits for new user",
			BalanceAfter: l.initialCredits,
		}); err != nil {
			return 0, err
		}
	}

	return l.initialCredits, nil
}

// insertTransaction writes one audit row inside the caller's transaction.
func insertTransaction(ctx context.Context, tx *sql.Tx, t ledger.Transaction) error {
	var sessionID any
	if t.SessionID != "" {
		sessionID = t.SessionID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, session_id, amount, type, description, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), t.UserID, sessionID, t.Amount, t.Type, t.Description, t.BalanceAfter, formatTime(time.Now())); err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}

	return nil
}

// transaction runs fn within a database transaction, serialized against
// other writers on this handle.
func (l *Ledger) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
