// Package sqlite persists sessions and exchange turns in an SQLite database
// via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/session"
)

// Store is a session.Store backed by an SQLite database. The session config
// is stored as a JSON snapshot next to the queryable runtime columns, so a
// record round-trips exactly.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Compile time check to ensure Store satisfies the session.Store interface.
var _ session.Store = (*Store)(nil)

// Open opens an SQLite session store at the given path, creating parent
// directories and applying pending schema migrations. WAL mode is enabled for
// concurrent reads.
func Open(path string) (*Store, error) {
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

	s := &Store{db: db, path: path}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// migrate applies all pending schema migrations.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Sessions},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
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

const migrationV1Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	project_id TEXT,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'created',
	config TEXT NOT NULL,
	working_document TEXT,
	current_round INTEGER NOT NULL DEFAULT 0,
	termination_reason TEXT,
	total_credits_used INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions(user_id, status);

CREATE TABLE IF NOT EXISTS exchange_turns (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	turn_number INTEGER NOT NULL,
	round_number INTEGER NOT NULL,
	phase INTEGER NOT NULL,
	agent_id TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	output TEXT NOT NULL,
	raw_response TEXT,
	working_document TEXT,
	evaluation TEXT,
	parse_error TEXT,
	tokens_input INTEGER NOT NULL DEFAULT 0,
	tokens_output INTEGER NOT NULL DEFAULT 0,
	credits_used INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_session_round ON exchange_turns(session_id, round_number);
CREATE INDEX IF NOT EXISTS idx_turns_session_turn ON exchange_turns(session_id, turn_number);
`

// CreateSession inserts a new session row in core.StatusCreated.
func (s *Store) CreateSession(ctx context.Context, cfg core.SessionConfig, userID string) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}

	now := formatTime(time.Now())

	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO sessions (id, user_id, project_id, title, status, config, working_document, current_round, total_credits_used, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
		`, cfg.SessionID, userID, cfg.ProjectID, cfg.Title, string(core.StatusCreated), string(configJSON), cfg.WorkingDocument, now, now); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// UpdateStatus transitions the lifecycle status, stamping completed_at for
// terminal statuses.
func (s *Store) UpdateStatus(ctx context.Context, sessionID string, status core.Status, reason string) error {
	now := formatTime(time.Now())

	var completedAt any
	if status.Terminal() {
		completedAt = now
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET status = ?,
			    termination_reason = CASE WHEN ? != '' THEN ? ELSE termination_reason END,
			    completed_at = COALESCE(?, completed_at),
			    updated_at = ?
			WHERE id = ?
		`, string(status), reason, reason, completedAt, now, sessionID)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return requireRow(res)
	})
}

// AppendTurn inserts one exchange turn and rolls the session's credit total
// forward in the same transaction.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn core.ExchangeTurn) error {
	var evaluation any
	if turn.Evaluation != nil {
		data, err := json.Marshal(turn.Evaluation)
		if err != nil {
			return fmt.Errorf("marshal evaluation: %w", err)
		}
		evaluation = string(data)
	}

	timestamp := turn.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exchange_turns (id, session_id, turn_number, round_number, phase, agent_id, agent_name, output, raw_response, working_document, evaluation, parse_error, tokens_input, tokens_output, credits_used, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), sessionID, turn.TurnNumber, turn.RoundNumber, int(turn.Phase), turn.AgentID, turn.AgentName,
			turn.Output, turn.RawResponse, turn.WorkingDocument, evaluation, turn.ParseError,
			turn.TokensInput, turn.TokensOutput, turn.CreditsUsed, formatTime(timestamp)); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET total_credits_used = total_credits_used + ?, updated_at = ? WHERE id = ?
		`, turn.CreditsUsed, formatTime(time.Now()), sessionID)
		if err != nil {
			return fmt.Errorf("update credit total: %w", err)
		}
		return requireRow(res)
	})
}

// UpdateWorkingDocument stores the latest document snapshot.
func (s *Store) UpdateWorkingDocument(ctx context.Context, sessionID, text string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET working_document = ?, updated_at = ? WHERE id = ?
		`, text, formatTime(time.Now()), sessionID)
		if err != nil {
			return fmt.Errorf("update working document: %w", err)
		}
		return requireRow(res)
	})
}

// UpdateRound stores the current round counter.
func (s *Store) UpdateRound(ctx context.Context, sessionID string, round int) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET current_round = ?, updated_at = ? WHERE id = ?
		`, round, formatTime(time.Now()), sessionID)
		if err != nil {
			return fmt.Errorf("update round: %w", err)
		}
		return requireRow(res)
	})
}

// GetSession loads and rehydrates the persisted record.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, status, config, COALESCE(working_document, ''), current_round, COALESCE(termination_reason, ''), total_credits_used, created_at, updated_at, completed_at
		FROM sessions WHERE id = ?
	`, sessionID)

	var (
		rec         session.Record
		status      string
		configJSON  string
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&rec.UserID, &status, &configJSON, &rec.WorkingDocument, &rec.CurrentRound, &rec.TerminationReason, &rec.TotalCreditsUsed, &createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &rec.Config); err != nil {
		return nil, fmt.Errorf("unmarshal session config: %w", err)
	}

	rec.Status = core.Status(status)
	if t, err := parseTime(createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	rec.CompletedAt = parseNullableTime(completedAt)

	return &rec, nil
}

// ListTurns returns the session's turns ordered by turn number.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]core.ExchangeTurn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_number, round_number, phase, agent_id, agent_name, output, COALESCE(raw_response, ''), COALESCE(working_document, ''), evaluation, COALESCE(parse_error, ''), tokens_input, tokens_output, credits_used, created_at
		FROM exchange_turns
		WHERE session_id = ?
		ORDER BY turn_number ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []core.ExchangeTurn

	for rows.Next() {
		var (
			turn       core.ExchangeTurn
			phase      int
			evaluation sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&turn.TurnNumber, &turn.RoundNumber, &phase, &turn.AgentID, &turn.AgentName,
			&turn.Output, &turn.RawResponse, &turn.WorkingDocument, &evaluation, &turn.ParseError,
			&turn.TokensInput, &turn.TokensOutput, &turn.CreditsUsed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}

		turn.Phase = core.Phase(phase)
		if evaluation.Valid {
			var eval core.Evaluation
			if err := json.Unmarshal([]byte(evaluation.String), &eval); err != nil {
				return nil, fmt.Errorf("unmarshal evaluation: %w", err)
			}
			turn.Evaluation = &eval
		}
		if t, err := parseTime(createdAt); err == nil {
			turn.Timestamp = t
		}

		out = append(out, turn)
	}

	return out, rows.Err()
}

// write runs fn within a database transaction, serialized against other
// writers on this handle.
func (s *Store) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// requireRow converts a zero-row update into core.ErrSessionNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
