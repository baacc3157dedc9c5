// Package intent provides keyword-based intent routing for free-form messages.
//
// The router is consulted only when the user's current instruction does not
// match the incoming message. Matching is a keyword hit count with a
// deterministic total order: the highest-scoring intent wins and ties break on
// lexicographic intent id, so identical input always yields the same intent.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
)

// StateResetter deletes a user's persisted dialogue state. The state store
// satisfies this interface; the restart action uses it to send the user back
// to the entry cursor on their next turn.
type StateResetter interface {
	DeleteState(ctx context.Context, userID string) error
}

// Intent actions accepted by the script configuration.
const (
	ActionNone    = "none"
	ActionRestart = "restart"
)

// Definition describes an intent for router construction.
type Definition struct {
	ID            string
	Keywords      []string
	InstructionID string
	Action        string // empty or ActionNone or ActionRestart
}

// Intent is a free-form-text classifier with a fallback instruction. Fulfil
// returns the instruction to present; the restart variant additionally resets
// the user's state through the resetter.
type Intent struct {
	ID            string
	InstructionID string

	keywords []string
	restart  bool
	resetter StateResetter
}

// Fulfil runs the intent's fulfillment action for the given user and returns
// the instruction id to present.
func (in *Intent) Fulfil(ctx context.Context, userID string) (string, error) {
	if in.restart {
		if in.resetter == nil {
			return "", fmt.Errorf("intent %q requires restart but no state resetter is configured", in.ID)
		}
		if err := in.resetter.DeleteState(ctx, userID); err != nil {
			slog.Error("Intent restart failed", "error", err, "intent", in.ID, "userID", userID)
			return "", fmt.Errorf("intent %q restart failed: %w", in.ID, err)
		}
		slog.Info("Intent reset user state", "intent", in.ID, "userID", userID)
	}
	slog.Debug("Intent fulfilled", "intent", in.ID, "userID", userID, "instructionID", in.InstructionID)
	return in.InstructionID, nil
}

// score counts how many of the intent's keywords occur in the tokenized message.
func (in *Intent) score(tokens map[string]bool) int {
	n := 0
	for _, kw := range in.keywords {
		if tokens[kw] {
			n++
		}
	}
	return n
}

// Router holds the immutable intent table, ordered by intent id.
type Router struct {
	intents []*Intent
}

// NewRouter builds a router from definitions. The resetter may be nil when no
// intent uses the restart action.
func NewRouter(defs []Definition, resetter StateResetter) (*Router, error) {
	seen := make(map[string]bool, len(defs))
	intents := make([]*Intent, 0, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("intent with empty id")
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate intent id %q", d.ID)
		}
		seen[d.ID] = true
		if len(d.Keywords) == 0 {
			return nil, fmt.Errorf("intent %q has no keywords", d.ID)
		}
		if d.InstructionID == "" {
			return nil, fmt.Errorf("intent %q has no instruction", d.ID)
		}

		var restart bool
		switch d.Action {
		case "", ActionNone:
		case ActionRestart:
			restart = true
		default:
			return nil, fmt.Errorf("intent %q has unknown action %q", d.ID, d.Action)
		}

		keywords := make([]string, len(d.Keywords))
		for i, kw := range d.Keywords {
			keywords[i] = strings.ToLower(strings.TrimSpace(kw))
		}
		intents = append(intents, &Intent{
			ID:            d.ID,
			InstructionID: d.InstructionID,
			keywords:      keywords,
			restart:       restart,
			resetter:      resetter,
		})
	}

	// Lexicographic order makes the tie-break in BestMatch deterministic.
	sort.Slice(intents, func(i, j int) bool { return intents[i].ID < intents[j].ID })

	slog.Debug("Intent router built", "intents", len(intents))
	return &Router{intents: intents}, nil
}

// BestMatch returns the intent with the most keyword hits for the message, or
// nil when no intent scores above zero. Ties resolve to the lexicographically
// smallest intent id.
func (r *Router) BestMatch(message string) *Intent {
	tokens := tokenize(message)
	if len(tokens) == 0 {
		return nil
	}

	var best *Intent
	bestScore := 0
	for _, in := range r.intents {
		if s := in.score(tokens); s > bestScore {
			best, bestScore = in, s
		}
	}
	if best != nil {
		slog.Debug("Intent router matched", "intent", best.ID, "score", bestScore)
	}
	return best
}

// tokenize lowercases the message and splits it on non-letter, non-digit runes.
func tokenize(message string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[f] = true
	}
	return tokens
}
