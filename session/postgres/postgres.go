// Package postgres persists sessions and exchange turns in PostgreSQL via a
// pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/session"
)

// Store is a session.Store backed by PostgreSQL.
type Store struct {
	Pool *pgxpool.Pool
}

// Compile time check to ensure Store satisfies the session.Store interface.
var _ session.Store = (*Store)(nil)

// Open opens a PostgreSQL connection pool and runs migrations. dsn may be
// empty to use the DATABASE_URL environment variable.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{Pool: pool}
	if err := s.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	s.Pool.Close()
	return nil
}

// Migrate runs pending migrations (only those not already recorded in
// schema_migrations).
func (s *Store) Migrate(ctx context.Context) error {
	applied := make(map[int]bool)
	rows, err := s.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				break
			}
			applied[v] = true
		}
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Sessions},
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if _, err := s.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := s.Pool.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2) ON CONFLICT (version) DO NOTHING`, m.version, time.Now().Unix()); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Sessions = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	project_id TEXT,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'created',
	config JSONB NOT NULL,
	working_document TEXT,
	current_round INTEGER NOT NULL DEFAULT 0,
	termination_reason TEXT,
	total_credits_used INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
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
	evaluation JSONB,
	parse_error TEXT,
	tokens_input INTEGER NOT NULL DEFAULT 0,
	tokens_output INTEGER NOT NULL DEFAULT 0,
	credits_used INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
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

	now := time.Now().UTC()
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO sessions(id, user_id, project_id, title, status, config, working_document, current_round, total_credits_used, created_at, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, 0, 0, $8, $8)
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, cfg.SessionID, userID, cfg.ProjectID, cfg.Title, string(core.StatusCreated), string(configJSON), cfg.WorkingDocument, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// UpdateStatus transitions the lifecycle status, stamping completed_at for
// terminal statuses.
func (s *Store) UpdateStatus(ctx context.Context, sessionID string, status core.Status, reason string) error {
	now := time.Now().UTC()

	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &now
	}

	res, err := s.Pool.Exec(ctx, `
		UPDATE sessions
		SET status = $1,
		    termination_reason = CASE WHEN $2 != '' THEN $2 ELSE termination_reason END,
		    completed_at = COALESCE($3, completed_at),
		    updated_at = $4
		WHERE id = $5
	`, string(status), reason, completedAt, now, sessionID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if res.RowsAffected() == 0 {
		return core.ErrSessionNotFound
	}

	return nil
}

// AppendTurn inserts one exchange turn and rolls the session's credit total
// forward.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn core.ExchangeTurn) error {
	var evaluation *string
	if turn.Evaluation != nil {
		data, err := json.Marshal(turn.Evaluation)
		if err != nil {
			return fmt.Errorf("marshal evaluation: %w", err)
		}
		text := string(data)
		evaluation = &text
	}

	timestamp := turn.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO exchange_turns(id, session_id, turn_number, round_number, phase, agent_id, agent_name, output, raw_response, working_document, evaluation, parse_error, tokens_input, tokens_output, credits_used, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, uuid.NewString(), sessionID, turn.TurnNumber, turn.RoundNumber, int(turn.Phase), turn.AgentID, turn.AgentName,
		turn.Output, turn.RawResponse, turn.WorkingDocument, evaluation, turn.ParseError,
		turn.TokensInput, turn.TokensOutput, turn.CreditsUsed, timestamp.UTC()); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	res, err := tx.Exec(ctx, `
		UPDATE sessions SET total_credits_used = total_credits_used + $1, updated_at = $2 WHERE id = $3
	`, turn.CreditsUsed, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update credit total: %w", err)
	}
	if res.RowsAffected() == 0 {
		return core.ErrSessionNotFound
	}

	return tx.Commit(ctx)
}

// UpdateWorkingDocument stores the latest document snapshot.
func (s *Store) UpdateWorkingDocument(ctx context.Context, sessionID, text string) error {
	res, err := s.Pool.Exec(ctx, `
		UPDATE sessions SET working_document = $1, updated_at = $2 WHERE id = $3
	`, text, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update working document: %w", err)
	}
	if res.RowsAffected() == 0 {
		return core.ErrSessionNotFound
	}

	return nil
}

// UpdateRound stores the current round counter.
func (s *Store) UpdateRound(ctx context.Context, sessionID string, round int) error {
	res, err := s.Pool.Exec(ctx, `
		UPDATE sessions SET current_round = $1, updated_at = $2 WHERE id = $3
	`, round, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	if res.RowsAffected() == 0 {
		return core.ErrSessionNotFound
	}

	return nil
}

// GetSession loads and rehydrates the persisted record.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*session.Record, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT user_id, status, config, COALESCE(working_document, ''), current_round, COALESCE(termination_reason, ''), total_credits_used, created_at, updated_at, completed_at
		FROM sessions WHERE id = $1
	`, sessionID)

	var (
		rec        session.Record
		status     string
		configJSON string
	)
	err := row.Scan(&rec.UserID, &status, &configJSON, &rec.WorkingDocument, &rec.CurrentRound, &rec.TerminationReason, &rec.TotalCreditsUsed, &rec.CreatedAt, &rec.UpdatedAt, &rec.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &rec.Config); err != nil {
		return nil, fmt.Errorf("unmarshal session config: %w", err)
	}
	rec.Status = core.Status(status)

	return &rec, nil
}

// ListTurns returns the session's turns ordered by turn number.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]core.ExchangeTurn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT turn_number, round_number, phase, agent_id, agent_name, output, COALESCE(raw_response, ''), COALESCE(working_document, ''), evaluation, COALESCE(parse_error, ''), tokens_input, tokens_output, credits_used, created_at
		FROM exchange_turns
		WHERE session_id = $1
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
			evaluation *string
		)
		if err := rows.Scan(&turn.TurnNumber, &turn.RoundNumber, &phase, &turn.AgentID, &turn.AgentName,
			&turn.Output, &turn.RawResponse, &turn.WorkingDocument, &evaluation, &turn.ParseError,
			&turn.TokensInput, &turn.TokensOutput, &turn.CreditsUsed, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}

		turn.Phase = core.Phase(phase)
		if evaluation != nil {
			var eval core.Evaluation
			if err := json.Unmarshal([]byte(*evaluation), &eval); err != nil {
				return nil, fmt.Errorf("unmarshal evaluation: %w", err)
			}
			turn.Evaluation = &eval
		}

		out = append(out, turn)
	}

	return out, rows.Err()
}
