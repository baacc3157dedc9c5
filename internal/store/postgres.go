// Package store provides storage backends for ChatFlow.
//
// This file implements a PostgreSQL-backed StateStore. The conditional write
// relies on row-level atomicity of a version-guarded UPDATE and on
// ON CONFLICT DO NOTHING for the first-contact insert.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ChatFlow/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a StateStore backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN and runs
// migrations to ensure the schema exists.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// GetState retrieves the state for a user, or nil when absent.
func (s *PostgresStore) GetState(ctx context.Context, userID string) (*models.State, error) {
	query := `SELECT user_id, current_module_id, current_instruction_id, version, created_at, updated_at
			  FROM dialogue_states WHERE user_id = $1`

	var st models.State
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&st.UserID, &st.CurrentModuleID, &st.CurrentInstructionID, &st.Version, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetState not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetState failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("PostgresStore GetState found", "userID", userID, "module", st.CurrentModuleID, "instruction", st.CurrentInstructionID, "version", st.Version)
	return &st, nil
}

// CompareAndSetState applies next iff the stored version equals expected.Version.
func (s *PostgresStore) CompareAndSetState(ctx context.Context, expected, next models.State) (bool, error) {
	now := time.Now()

	if expected.Version == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO dialogue_states (user_id, current_module_id, current_instruction_id, version, created_at, updated_at)
			 VALUES ($1, $2, $3, 1, $4, $5)
			 ON CONFLICT (user_id) DO NOTHING`,
			next.UserID, next.CurrentModuleID, next.CurrentInstructionID, now, now)
		if err != nil {
			slog.Error("PostgresStore CompareAndSetState insert failed", "error", err, "userID", next.UserID)
			return false, fmt.Errorf("failed to insert state for %s: %w", next.UserID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		slog.Debug("PostgresStore CompareAndSetState insert", "userID", next.UserID, "applied", n > 0)
		return n > 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE dialogue_states
		 SET current_module_id = $1, current_instruction_id = $2, version = $3, updated_at = $4
		 WHERE user_id = $5 AND version = $6`,
		next.CurrentModuleID, next.CurrentInstructionID, expected.Version+1, now, next.UserID, expected.Version)
	if err != nil {
		slog.Error("PostgresStore CompareAndSetState update failed", "error", err, "userID", next.UserID)
		return false, fmt.Errorf("failed to update state for %s: %w", next.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	slog.Debug("PostgresStore CompareAndSetState update", "userID", next.UserID, "expectedVersion", expected.Version, "applied", n > 0)
	return n > 0, nil
}

// DeleteState removes a user's state.
func (s *PostgresStore) DeleteState(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dialogue_states WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteState failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("PostgresStore DeleteState succeeded", "userID", userID)
	return nil
}

// AddAnswer records an answer captured by instruction fulfillment.
func (s *PostgresStore) AddAnswer(ctx context.Context, a models.Answer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (user_id, instruction_id, text, created_at) VALUES ($1, $2, $3, $4)`,
		a.UserID, a.InstructionID, a.Text, a.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddAnswer failed", "error", err, "userID", a.UserID, "instructionID", a.InstructionID)
		return fmt.Errorf("failed to insert answer for %s: %w", a.UserID, err)
	}
	slog.Debug("PostgresStore AddAnswer succeeded", "userID", a.UserID, "instructionID", a.InstructionID)
	return nil
}

// ListAnswers returns a user's captured answers in insertion order.
func (s *PostgresStore) ListAnswers(ctx context.Context, userID string) ([]models.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, instruction_id, text, created_at FROM answers WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		slog.Error("PostgresStore ListAnswers failed", "error", err, "userID", userID)
		return nil, err
	}
	defer rows.Close()

	var answers []models.Answer
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.UserID, &a.InstructionID, &a.Text, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan answer failed: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL connection pool")
	return s.db.Close()
}
