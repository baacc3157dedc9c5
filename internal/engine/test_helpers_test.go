package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/BTreeMap/ChatFlow/internal/intent"
	"github.com/BTreeMap/ChatFlow/internal/models"
	"github.com/BTreeMap/ChatFlow/internal/registry"
	"github.com/BTreeMap/ChatFlow/internal/store"
)

// testConfig is the engine config for the onboarding/survey test script.
var testConfig = Config{
	EntryModuleID:        "onboarding",
	EntryInstructionID:   "ask_name",
	DefaultInstructionID: "fallback_unrecognized",
}

// buildTestRegistries constructs the onboarding/survey script used throughout
// the engine tests:
//
//	onboarding = [ask_name(any), ask_email(email)] -> survey, hook counted
//	survey     = [q1(any)]                          terminal
func buildTestRegistries(t *testing.T, sink registry.AnswerSink, hookCount *int) (*registry.InstructionRegistry, *registry.ModuleRegistry) {
	t.Helper()

	emailMatcher, err := registry.NewMatcher(registry.MatcherKindEmail, "", nil)
	if err != nil {
		t.Fatalf("failed to build email matcher: %v", err)
	}

	var hook registry.CompletionHook
	if hookCount != nil {
		hook = func(ctx context.Context, userID string) error {
			*hookCount++
			return nil
		}
	}

	instrReg, modReg, err := registry.Build(
		[]registry.ModuleDef{
			{ID: "onboarding", InstructionIDs: []string{"ask_name", "ask_email"}, Next: "survey", OnComplete: hook},
			{ID: "survey", InstructionIDs: []string{"q1"}},
		},
		[]registry.InstructionDef{
			{ID: "ask_name", Prompt: "What is your name?"},
			{ID: "ask_email", Prompt: "What is your email?", Matcher: emailMatcher},
			{ID: "q1", Prompt: "How did you hear about us?"},
		},
		sink,
	)
	if err != nil {
		t.Fatalf("failed to build test registries: %v", err)
	}
	return instrReg, modReg
}

// buildTestRouter constructs an intent router with a single help intent.
func buildTestRouter(t *testing.T, resetter intent.StateResetter) *intent.Router {
	t.Helper()
	router, err := intent.NewRouter([]intent.Definition{
		{ID: "help_intent", Keywords: []string{"help", "what", "bot"}, InstructionID: "help_response"},
	}, resetter)
	if err != nil {
		t.Fatalf("failed to build test router: %v", err)
	}
	return router
}

// seedState writes an initial cursor for a user directly through the store.
func seedState(t *testing.T, st *store.InMemoryStore, userID, moduleID, instructionID string) {
	t.Helper()
	applied, err := st.CompareAndSetState(context.Background(), models.State{UserID: userID}, models.State{
		UserID:               userID,
		CurrentModuleID:      moduleID,
		CurrentInstructionID: instructionID,
	})
	if err != nil || !applied {
		t.Fatalf("failed to seed state for %s: applied=%v err=%v", userID, applied, err)
	}
}

// mustGetState reads a user's state and fails the test on error or absence.
func mustGetState(t *testing.T, st *store.InMemoryStore, userID string) models.State {
	t.Helper()
	state, err := st.GetState(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to read state for %s: %v", userID, err)
	}
	if state == nil {
		t.Fatalf("expected state for %s, got none", userID)
	}
	return *state
}

// failingAction is a fulfillment action that always fails.
type failingAction struct{}

func (failingAction) Fulfil(ctx context.Context, userID, message string) error {
	return errors.New("fulfillment backend unavailable")
}

// flakyStore wraps a StateSource and forces the next failWrites conditional
// writes to report a stale read without touching the underlying store.
type flakyStore struct {
	inner      StateSource
	mu         sync.Mutex
	failWrites int
	getCalls   int
}

func (f *flakyStore) GetState(ctx context.Context, userID string) (*models.State, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	return f.inner.GetState(ctx, userID)
}

func (f *flakyStore) CompareAndSetState(ctx context.Context, expected, next models.State) (bool, error) {
	f.mu.Lock()
	if f.failWrites > 0 {
		f.failWrites--
		f.mu.Unlock()
		return false, nil
	}
	f.mu.Unlock()
	return f.inner.CompareAndSetState(ctx, expected, next)
}
