// Package engine implements the dialogue engine, the turn-processing core of
// ChatFlow.
//
// A turn matches the incoming message against the user's current instruction,
// advances the cursor within the module or across a module boundary (firing
// the completion hook exactly once per transition), and falls back to intent
// routing on non-match. The cursor write is conditional on the state read at
// turn start; a losing write retries the whole turn from a fresh read.
package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ChatFlow/internal/intent"
	"github.com/BTreeMap/ChatFlow/internal/models"
	"github.com/BTreeMap/ChatFlow/internal/registry"
)

// DefaultMaxWriteRetries bounds the optimistic-write retry loop per turn.
const DefaultMaxWriteRetries = 3

// InstructionSource is the instruction registry contract the engine consumes.
type InstructionSource interface {
	Get(id string) (*registry.Instruction, error)
}

// ModuleSource is the module registry contract the engine consumes.
type ModuleSource interface {
	Get(id string) (*registry.Module, error)
	SuccessorInstruction(moduleID, instructionID string) (string, bool, error)
	NextModuleID(moduleID string) (string, error)
	FirstInstructionID(moduleID string) (string, error)
}

// IntentSource is the intent router contract the engine consumes. BestMatch
// must be deterministic for identical input and return at most one intent.
type IntentSource interface {
	BestMatch(message string) *intent.Intent
}

// StateSource is the slice of the state store the engine writes through.
type StateSource interface {
	GetState(ctx context.Context, userID string) (*models.State, error)
	CompareAndSetState(ctx context.Context, expected, next models.State) (bool, error)
}

// Config carries the script-level policy the engine needs: where new users
// start, what to return when nothing matches, and the write retry budget.
type Config struct {
	EntryModuleID        string
	EntryInstructionID   string
	DefaultInstructionID string
	MaxWriteRetries      int // 0 selects DefaultMaxWriteRetries
}

// Engine orchestrates registries, intent router, and state store to process
// turns. It holds no per-user state between turns; the store is the single
// source of truth for cursors.
type Engine struct {
	instructions InstructionSource
	modules      ModuleSource
	intents      IntentSource
	store        StateSource
	cfg          Config
}

// New creates a dialogue engine. The intent source may be nil, in which case
// every non-match returns the default instruction.
func New(instructions InstructionSource, modules ModuleSource, intents IntentSource, store StateSource, cfg Config) *Engine {
	if cfg.MaxWriteRetries <= 0 {
		cfg.MaxWriteRetries = DefaultMaxWriteRetries
	}
	slog.Debug("Creating dialogue engine",
		"entryModule", cfg.EntryModuleID,
		"entryInstruction", cfg.EntryInstructionID,
		"defaultInstruction", cfg.DefaultInstructionID,
		"maxWriteRetries", cfg.MaxWriteRetries)
	return &Engine{
		instructions: instructions,
		modules:      modules,
		intents:      intents,
		store:        store,
		cfg:          cfg,
	}
}

// ProcessTurn processes one incoming message for a user and returns the id of
// the next instruction to present.
//
// On a match the cursor advances and is persisted with a conditional write;
// a stale write retries the whole turn (bounded) from a fresh read. On a
// non-match the engine mutates no state: it either returns the best-matching
// intent's fulfillment result or the default instruction id.
func (e *Engine) ProcessTurn(ctx context.Context, message, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", &models.ValidationError{Field: "userID", Reason: "must not be empty"}
	}
	slog.Debug("ProcessTurn invoked", "userID", userID, "messageLen", len(message))

	for attempt := 1; attempt <= e.cfg.MaxWriteRetries; attempt++ {
		next, matched, err := e.tryTurn(ctx, message, userID)
		if err != nil {
			return "", err
		}
		if !matched {
			// Non-match path performed no write; nothing to retry.
			return e.routeIntent(ctx, message, userID)
		}
		if next != "" {
			slog.Debug("ProcessTurn committed", "userID", userID, "nextInstruction", next, "attempt", attempt)
			return next, nil
		}
		slog.Debug("ProcessTurn lost optimistic write, retrying", "userID", userID, "attempt", attempt)
	}

	slog.Warn("ProcessTurn conflict after retries", "userID", userID, "attempts", e.cfg.MaxWriteRetries)
	return "", &models.ConflictError{UserID: userID, Attempts: e.cfg.MaxWriteRetries}
}

// tryTurn runs one read-match-advance-write cycle. It returns the committed
// instruction id ("" when the conditional write lost the race), whether the
// current instruction matched, and any fatal error.
func (e *Engine) tryTurn(ctx context.Context, message, userID string) (string, bool, error) {
	state, err := e.store.GetState(ctx, userID)
	if err != nil {
		return "", false, &models.CollaboratorError{Step: "state read", UserID: userID, Err: err}
	}

	if state == nil {
		// First contact: seed the entry cursor. Version 0 makes the later
		// conditional write an insert-if-absent, so a duplicate first message
		// races safely.
		state = &models.State{
			UserID:               userID,
			CurrentModuleID:      e.cfg.EntryModuleID,
			CurrentInstructionID: e.cfg.EntryInstructionID,
			Version:              0,
		}
		slog.Info("ProcessTurn first contact, seeding entry cursor", "userID", userID, "module", state.CurrentModuleID, "instruction", state.CurrentInstructionID)
	}

	instr, err := e.instructions.Get(state.CurrentInstructionID)
	if err != nil {
		// Corrupted or stale cursor. Fatal for the turn, never retried.
		slog.Error("ProcessTurn current instruction missing from registry", "userID", userID, "instructionID", state.CurrentInstructionID)
		return "", false, err
	}

	if strings.TrimSpace(message) == "" || !instr.Matches(message) {
		return "", false, nil
	}

	if err := instr.Fulfil(ctx, userID, message); err != nil {
		return "", true, &models.CollaboratorError{Step: "fulfillment", UserID: userID, Err: err}
	}

	newModuleID := state.CurrentModuleID
	newInstructionID, ok, err := e.modules.SuccessorInstruction(state.CurrentModuleID, state.CurrentInstructionID)
	if err != nil {
		return "", true, err
	}
	if !ok {
		// End of module: resolve the successor module and fire the completion
		// hook exactly once, before any persistence, iff the module changes.
		newModuleID, err = e.modules.NextModuleID(state.CurrentModuleID)
		if err != nil {
			return "", true, err
		}
		if newModuleID != state.CurrentModuleID {
			completed, err := e.modules.Get(state.CurrentModuleID)
			if err != nil {
				return "", true, err
			}
			if err := completed.FireOnComplete(ctx, userID); err != nil {
				return "", true, &models.CollaboratorError{Step: "completion hook", UserID: userID, Err: err}
			}
			slog.Info("ProcessTurn module boundary", "userID", userID, "from", state.CurrentModuleID, "to", newModuleID)
		}
		newInstructionID, err = e.modules.FirstInstructionID(newModuleID)
		if err != nil {
			return "", true, err
		}
	}

	newState := models.State{
		UserID:               userID,
		CurrentModuleID:      newModuleID,
		CurrentInstructionID: newInstructionID,
	}
	applied, err := e.store.CompareAndSetState(ctx, *state, newState)
	if err != nil {
		return "", true, &models.CollaboratorError{Step: "state write", UserID: userID, Err: err}
	}
	if !applied {
		return "", true, nil
	}
	return newInstructionID, true, nil
}

// routeIntent handles the non-match path: best-effort intent lookup with no
// engine-level state mutation.
func (e *Engine) routeIntent(ctx context.Context, message, userID string) (string, error) {
	if e.intents == nil {
		slog.Debug("ProcessTurn non-match, no intent router configured", "userID", userID)
		return e.cfg.DefaultInstructionID, nil
	}

	in := e.intents.BestMatch(message)
	if in == nil {
		slog.Debug("ProcessTurn non-match, no intent matched", "userID", userID)
		return e.cfg.DefaultInstructionID, nil
	}

	instructionID, err := in.Fulfil(ctx, userID)
	if err != nil {
		return "", &models.CollaboratorError{Step: "intent fulfillment", UserID: userID, Err: err}
	}
	slog.Debug("ProcessTurn intent fallback", "userID", userID, "intent", in.ID, "instructionID", instructionID)
	return instructionID, nil
}
