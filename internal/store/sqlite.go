// Package store provides storage backends for ChatFlow.
//
// This file implements an SQLite-backed StateStore. The conditional write is a
// version-guarded UPDATE (or an INSERT OR IGNORE for first contact); SQLite's
// single-writer semantics make the check-and-write atomic.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/ChatFlow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a StateStore backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetState retrieves the state for a user, or nil when absent.
func (s *SQLiteStore) GetState(ctx context.Context, userID string) (*models.State, error) {
	query := `SELECT user_id, current_module_id, current_instruction_id, version, created_at, updated_at
			  FROM dialogue_states WHERE user_id = ?`

	var st models.State
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&st.UserID, &st.CurrentModuleID, &st.CurrentInstructionID, &st.Version, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetState not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetState failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("SQLiteStore GetState found", "userID", userID, "module", st.CurrentModuleID, "instruction", st.CurrentInstructionID, "version", st.Version)
	return &st, nil
}

// CompareAndSetState applies next iff the stored version equals expected.Version.
func (s *SQLiteStore) CompareAndSetState(ctx context.Context, expected, next models.State) (bool, error) {
	now := time.Now()

	if expected.Version == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO dialogue_states (user_id, current_module_id, current_instruction_id, version, created_at, updated_at)
			 VALUES (?, ?, ?, 1, ?, ?)`,
			next.UserID, next.CurrentModuleID, next.CurrentInstructionID, now, now)
		if err != nil {
			slog.Error("SQLiteStore CompareAndSetState insert failed", "error", err, "userID", next.UserID)
			return false, fmt.Errorf("failed to insert state for %s: %w", next.UserID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		slog.Debug("SQLiteStore CompareAndSetState insert", "userID", next.UserID, "applied", n > 0)
		return n > 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE dialogue_states
		 SET current_module_id = ?, current_instruction_id = ?, version = ?, updated_at = ?
		 WHERE user_id = ? AND version = ?`,
		next.CurrentModuleID, next.CurrentInstructionID, expected.Version+1, now, next.UserID, expected.Version)
	if err != nil {
		slog.Error("SQLiteStore CompareAndSetState update failed", "error", err, "userID", next.UserID)
		return false, fmt.Errorf("failed to update state for %s: %w", next.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	slog.Debug("SQLiteStore CompareAndSetState update", "userID", next.UserID, "expectedVersion", expected.Version, "applied", n > 0)
	return n > 0, nil
}

// DeleteState removes a user's state.
func (s *SQLiteStore) DeleteState(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dialogue_states WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteState failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("SQLiteStore DeleteState succeeded", "userID", userID)
	return nil
}

// AddAnswer records an answer captured by instruction fulfillment.
func (s *SQLiteStore) AddAnswer(ctx context.Context, a models.Answer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (user_id, instruction_id, text, created_at) VALUES (?, ?, ?, ?)`,
		a.UserID, a.InstructionID, a.Text, a.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddAnswer failed", "error", err, "userID", a.UserID, "instructionID", a.InstructionID)
		return fmt.Errorf("failed to insert answer for %s: %w", a.UserID, err)
	}
	slog.Debug("SQLiteStore AddAnswer succeeded", "userID", a.UserID, "instructionID", a.InstructionID)
	return nil
}

// ListAnswers returns a user's captured answers in insertion order.
func (s *SQLiteStore) ListAnswers(ctx context.Context, userID string) ([]models.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, instruction_id, text, created_at FROM answers WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListAnswers failed", "error", err, "userID", userID)
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

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
