// Package testutil provides common test utilities and helpers for ChatFlow tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ChatFlow/internal/api"
	"github.com/BTreeMap/ChatFlow/internal/engine"
	"github.com/BTreeMap/ChatFlow/internal/intent"
	"github.com/BTreeMap/ChatFlow/internal/registry"
	"github.com/BTreeMap/ChatFlow/internal/store"
)

// TestEngineConfig is the engine config matching NewTestServer's script.
var TestEngineConfig = engine.Config{
	EntryModuleID:        "onboarding",
	EntryInstructionID:   "ask_name",
	DefaultInstructionID: "fallback_unrecognized",
}

// NewTestServer creates a test API server with in-memory dependencies and the
// onboarding/survey script used across API tests. It returns the server and
// its backing store for state assertions.
func NewTestServer(t *testing.T) (*api.Server, *store.InMemoryStore) {
	t.Helper()

	st := store.NewInMemoryStore()

	emailMatcher, err := registry.NewMatcher(registry.MatcherKindEmail, "", nil)
	if err != nil {
		t.Fatalf("failed to build email matcher: %v", err)
	}
	instrReg, modReg, err := registry.Build(
		[]registry.ModuleDef{
			{ID: "onboarding", InstructionIDs: []string{"ask_name", "ask_email"}, Next: "survey"},
			{ID: "survey", InstructionIDs: []string{"q1"}},
		},
		[]registry.InstructionDef{
			{ID: "ask_name", Prompt: "What is your name?"},
			{ID: "ask_email", Prompt: "What is your email?", Matcher: emailMatcher},
			{ID: "q1", Prompt: "How did you hear about us?"},
		},
		st,
	)
	if err != nil {
		t.Fatalf("failed to build test registries: %v", err)
	}

	router, err := intent.NewRouter([]intent.Definition{
		{ID: "help_intent", Keywords: []string{"help", "what", "bot"}, InstructionID: "help_response"},
	}, st)
	if err != nil {
		t.Fatalf("failed to build test intent router: %v", err)
	}

	eng := engine.New(instrReg, modReg, router, st, TestEngineConfig)
	return api.NewServer(eng, st, TestEngineConfig), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
