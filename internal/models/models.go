// Package models defines the core data structures for ChatFlow.
//
// It includes the per-user dialogue cursor, captured answers, the error
// taxonomy, and API request/response types shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for an incoming message
	MaxMessageLength = 4096
	// MaxUserIDLength defines the maximum allowed length for a user identifier
	MaxUserIDLength = 128
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID     = errors.New("user id cannot be empty")
	ErrUserIDTooLong   = errors.New("user id exceeds maximum length")
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrEmptyModuleID   = errors.New("module id cannot be empty")
	ErrEmptyInstructID = errors.New("instruction id cannot be empty")
)

// State is the durable dialogue cursor for one user: which module the user is
// in and which instruction is expected next. Version is the optimistic
// concurrency token used by the store's conditional write; Version 0 means the
// state has never been persisted (first contact).
type State struct {
	UserID               string    `json:"user_id"`
	CurrentModuleID      string    `json:"current_module_id"`
	CurrentInstructionID string    `json:"current_instruction_id"`
	Version              int64     `json:"version"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Validate checks that the state references are well formed. It does not check
// registry membership; that is the engine's concern.
func (s State) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return ErrEmptyUserID
	}
	if s.CurrentModuleID == "" {
		return ErrEmptyModuleID
	}
	if s.CurrentInstructionID == "" {
		return ErrEmptyInstructID
	}
	return nil
}

// Answer records a user's accepted reply to an instruction. Captured by
// instruction fulfillment and persisted alongside the state.
type Answer struct {
	UserID        string    `json:"user_id"`
	InstructionID string    `json:"instruction_id"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// TurnRequest is the request body for POST /turns.
type TurnRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// Validate checks a turn request before it reaches the engine.
func (r TurnRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUserID
	}
	if len(r.UserID) > MaxUserIDLength {
		return ErrUserIDTooLong
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// TurnResult is the response payload for a processed turn.
type TurnResult struct {
	UserID        string `json:"user_id"`
	InstructionID string `json:"instruction_id"`
}

// EnrollmentRequest is the request body for POST /participants. UserID is
// optional; when empty the server generates one.
type EnrollmentRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// Validate checks an enrollment request.
func (r EnrollmentRequest) Validate() error {
	if len(r.UserID) > MaxUserIDLength {
		return ErrUserIDTooLong
	}
	return nil
}

// EnrollmentResult is the response payload for a successful enrollment.
type EnrollmentResult struct {
	UserID        string `json:"user_id"`
	ModuleID      string `json:"module_id"`
	InstructionID string `json:"instruction_id"`
}
