// Package api provides HTTP handlers for ChatFlow endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ChatFlow/internal/models"
	"github.com/google/uuid"
)

// turnHandler handles POST /turns: process one incoming message for a user.
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.turnHandler: processing turn request", "method", r.Method, "path", r.URL.Path)

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.turnHandler: validation failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	instructionID, err := s.eng.ProcessTurn(r.Context(), req.Message, req.UserID)
	if err != nil {
		status := statusForError(err)
		slog.Error("Server.turnHandler: turn failed", "error", err, "userID", req.UserID, "status", status)
		writeJSONResponse(w, status, models.Error(err.Error()))
		return
	}

	slog.Debug("Server.turnHandler: turn processed", "userID", req.UserID, "instructionID", instructionID)
	writeJSONResponse(w, http.StatusOK, models.Success(models.TurnResult{
		UserID:        req.UserID,
		InstructionID: instructionID,
	}))
}

// enrollHandler handles POST /participants: seed a user at the entry cursor.
func (s *Server) enrollHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.enrollHandler: processing enrollment", "method", r.Method, "path", r.URL.Path)

	var req models.EnrollmentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Server.enrollHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.enrollHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = uuid.NewString()
	}

	entry := models.State{
		UserID:               userID,
		CurrentModuleID:      s.cfg.EntryModuleID,
		CurrentInstructionID: s.cfg.EntryInstructionID,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	applied, err := s.st.CompareAndSetState(r.Context(), models.State{UserID: userID}, entry)
	if err != nil {
		slog.Error("Server.enrollHandler: state seed failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to enroll participant"))
		return
	}
	if !applied {
		slog.Warn("Server.enrollHandler: participant already enrolled", "userID", userID)
		writeJSONResponse(w, http.StatusConflict, models.Error("Participant already enrolled"))
		return
	}

	slog.Info("Server.enrollHandler: participant enrolled", "userID", userID, "module", entry.CurrentModuleID, "instruction", entry.CurrentInstructionID)
	writeJSONResponse(w, http.StatusCreated, models.Success(models.EnrollmentResult{
		UserID:        userID,
		ModuleID:      entry.CurrentModuleID,
		InstructionID: entry.CurrentInstructionID,
	}))
}

// stateHandler handles GET /participants/{id}/state: return the user's cursor.
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	slog.Debug("Server.stateHandler: fetching state", "userID", userID)

	state, err := s.st.GetState(r.Context(), userID)
	if err != nil {
		slog.Error("Server.stateHandler: state read failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read state"))
		return
	}
	if state == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Participant not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// answersHandler handles GET /participants/{id}/answers: return captured answers.
func (s *Server) answersHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	slog.Debug("Server.answersHandler: fetching answers", "userID", userID)

	answers, err := s.st.ListAnswers(r.Context(), userID)
	if err != nil {
		slog.Error("Server.answersHandler: answer read failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read answers"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(answers))
}

// statusForError maps the engine's error taxonomy to HTTP status codes.
func statusForError(err error) int {
	var validationErr *models.ValidationError
	var notFoundErr *models.NotFoundError
	var conflictErr *models.ConflictError
	var collaboratorErr *models.CollaboratorError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.As(err, &collaboratorErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
