package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ChatFlow/internal/models"
	"github.com/BTreeMap/ChatFlow/internal/testutil"
)

func TestEnrollParticipant(t *testing.T) {
	server, st := testutil.NewTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants", models.EnrollmentRequest{UserID: "u1"}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "enroll")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %v", resp["result"])
	}
	if result["instruction_id"] != "ask_name" {
		t.Errorf("expected entry instruction ask_name, got %v", result["instruction_id"])
	}

	state, err := st.GetState(context.Background(), "u1")
	if err != nil || state == nil {
		t.Fatalf("expected seeded state, got %v err=%v", state, err)
	}
	if state.CurrentModuleID != "onboarding" || state.CurrentInstructionID != "ask_name" {
		t.Errorf("expected entry cursor, got (%s, %s)", state.CurrentModuleID, state.CurrentInstructionID)
	}
}

func TestEnrollGeneratesUserID(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants", nil))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "enroll without body")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result := resp["result"].(map[string]interface{})
	if id, _ := result["user_id"].(string); id == "" {
		t.Errorf("expected generated user id, got %v", result["user_id"])
	}
}

func TestEnrollDuplicateConflicts(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants", models.EnrollmentRequest{UserID: "u1"}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "first enroll")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants", models.EnrollmentRequest{UserID: "u1"}))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "duplicate enroll")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestTurnAdvancesCursor(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants", models.EnrollmentRequest{UserID: "u1"}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "enroll")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/turns", models.TurnRequest{UserID: "u1", Message: "Alice"}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "turn")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result := resp["result"].(map[string]interface{})
	if result["instruction_id"] != "ask_email" {
		t.Errorf("expected ask_email, got %v", result["instruction_id"])
	}
}

func TestTurnIntentFallback(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants", models.EnrollmentRequest{UserID: "u1"}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "enroll")

	// Advance past ask_name so the current matcher (email) rejects free text.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/turns", models.TurnRequest{UserID: "u1", Message: "Alice"}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "advance turn")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/turns", models.TurnRequest{UserID: "u1", Message: "what is this bot"}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "intent turn")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result := resp["result"].(map[string]interface{})
	if result["instruction_id"] != "help_response" {
		t.Errorf("expected help_response, got %v", result["instruction_id"])
	}
}

func TestTurnInvalidJSON(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/turns", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid JSON")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestTurnEmptyUserIDRejected(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/turns", models.TurnRequest{Message: "hello"}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty user id")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestStateEndpoint(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/ghost/state", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown participant")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants", models.EnrollmentRequest{UserID: "u1"}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "enroll")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/u1/state", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "state")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result := resp["result"].(map[string]interface{})
	if result["current_instruction_id"] != "ask_name" {
		t.Errorf("expected cursor at ask_name, got %v", result["current_instruction_id"])
	}
}

func TestAnswersEndpoint(t *testing.T) {
	server, _ := testutil.NewTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/participants", models.EnrollmentRequest{UserID: "u1"}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "enroll")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/turns", models.TurnRequest{UserID: "u1", Message: "Alice"}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "turn")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodGet, "/participants/u1/answers", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "answers")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	answers, ok := resp["result"].([]interface{})
	if !ok || len(answers) != 1 {
		t.Fatalf("expected one captured answer, got %v", resp["result"])
	}
	first := answers[0].(map[string]interface{})
	if first["text"] != "Alice" || first["instruction_id"] != "ask_name" {
		t.Errorf("unexpected captured answer %v", first)
	}
}
