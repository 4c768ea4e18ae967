package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/careloop/engageflow/internal/models"
)

// StateSnapshot is everything the widget needs to render one frame.
type StateSnapshot struct {
	Step               models.Step            `json:"step"`
	OnboardingComplete bool                   `json:"onboarding_complete"`
	Authenticated      bool                   `json:"authenticated"`
	AuthState          string                 `json:"auth_state"`
	Messages           []models.Message       `json:"messages"`
	Streaming          bool                   `json:"streaming"`
	StreamingText      string                 `json:"streaming_text,omitempty"`
	PendingMessages    int                    `json:"pending_messages"`
	Suggestions        models.SuggestionState `json:"suggestions"`
	Pharmacy           interface{}            `json:"pharmacy,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// commandResult is the envelope payload for dispatched commands.
type commandResult struct {
	Step     models.Step `json:"step"`
	Redirect bool        `json:"redirect,omitempty"`
}

func (s *Server) commandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	inst := s.instance(w, r)

	var cmd models.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		slog.Warn("Server.commandHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	step, err := inst.Controller.Dispatch(r.Context(), cmd)
	if err != nil {
		if errors.Is(err, models.ErrGuardRejected) {
			// A guard rejection is a redirect, not a user-visible error.
			slog.Debug("Server.commandHandler: guard redirect", "command", cmd.Type, "step", step)
			writeJSONResponse(w, http.StatusOK, models.Success(commandResult{Step: step, Redirect: true}))
			return
		}
		slog.Warn("Server.commandHandler: dispatch failed", "command", cmd.Type, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(commandResult{Step: step}))
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	inst := s.instance(w, r)

	snap := StateSnapshot{
		Step:               inst.Controller.Step(),
		OnboardingComplete: inst.Controller.OnboardingComplete(),
		Authenticated:      inst.Auth.Authenticated(),
		AuthState:          string(inst.Auth.State()),
		Messages:           inst.Chat.Messages(),
		Streaming:          inst.Chat.IsStreaming(),
		StreamingText:      inst.Chat.StreamingText(),
		PendingMessages:    inst.Chat.PendingCount(),
		Suggestions:        inst.Suggest.Snapshot(),
	}
	if inst.Pharmacy != nil {
		snap.Pharmacy = inst.Pharmacy.Machine.State()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

func (s *Server) authOTPHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	inst := s.instance(w, r)

	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	step, err := inst.Controller.Dispatch(r.Context(), models.Command{Type: models.CommandSubmitPhone, Phone: req.Phone})
	if err != nil {
		slog.Warn("Server.authOTPHandler: send failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(commandResult{Step: step}))
}

func (s *Server) authVerifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	inst := s.instance(w, r)

	var req struct {
		Code      string `json:"code"`
		BirthDate string `json:"birth_date"`
		SSN       string `json:"ssn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	cmd := models.Command{Type: models.CommandSubmitOTP, Code: req.Code}
	if req.Code == "" {
		cmd = models.Command{Type: models.CommandSubmitAdditionalInfo, BirthDate: req.BirthDate, SSN: req.SSN}
	}
	step, err := inst.Controller.Dispatch(r.Context(), cmd)
	if err != nil {
		slog.Warn("Server.authVerifyHandler: verification failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(commandResult{Step: step}))
}

func (s *Server) authProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	inst := s.instance(w, r)

	var profile models.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	step, err := inst.Controller.Dispatch(r.Context(), models.Command{Type: models.CommandSubmitProfile, Profile: &profile})
	if err != nil {
		slog.Warn("Server.authProfileHandler: confirmation failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(commandResult{Step: step}))
}

// restoreResult reports whether a persisted session came back, plus the
// continuity record for greeting a returning user either way.
type restoreResult struct {
	Restored      bool                  `json:"restored"`
	Expired       bool                  `json:"expired,omitempty"`
	Step          models.Step           `json:"step,omitempty"`
	LastKnownUser *models.LastKnownUser `json:"last_known_user,omitempty"`
}

func (s *Server) authRestoreHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	inst := s.instance(w, r)

	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result := restoreResult{}
	restored, err := inst.Auth.Restore(req.Phone)
	switch {
	case errors.Is(err, models.ErrSessionExpired):
		result.Expired = true
	case err != nil:
		slog.Error("Server.authRestoreHandler: restore failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to restore session"))
		return
	case restored:
		result.Restored = true
		result.Step = inst.Controller.ResumeAfterAuth(r.Context())
	}

	if last, lkErr := inst.Auth.LastKnownUser(req.Phone); lkErr == nil {
		result.LastKnownUser = last
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) chatMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	inst := s.instance(w, r)

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Text == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Message text is required"))
		return
	}

	step, err := inst.Controller.Dispatch(r.Context(), models.Command{Type: models.CommandSendMessage, Text: req.Text})
	if err != nil {
		slog.Warn("Server.chatMessageHandler: enqueue failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(commandResult{Step: step}))
}

func (s *Server) streamBeginHandler(w http.ResponseWriter, r *http.Request) {
	inst := s.instance(w, r)
	inst.Chat.BeginStreaming()
	inst.Suggest.StreamingStarted()
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) streamChunkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	inst := s.instance(w, r)

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	inst.Chat.AppendStreamChunk(req.Text)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) streamEndHandler(w http.ResponseWriter, r *http.Request) {
	inst := s.instance(w, r)
	msg, ok := inst.Chat.EndStreaming()
	if ok {
		// The flag transition is what triggers suggestion recompute.
		inst.Suggest.Refresh(r.Context())
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"message": msg, "finalized": ok}))
}

func (s *Server) suggestionSearchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	inst := s.instance(w, r)

	var req struct {
		Mode   string `json:"mode,omitempty"`
		Text   string `json:"text"`
		Submit bool   `json:"submit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if req.Mode != "" {
		inst.Suggest.SetMode(models.SuggestionMode(req.Mode))
	}
	if req.Submit {
		inst.Suggest.SubmitSearch(r.Context(), req.Text)
	} else if req.Text != "" {
		inst.Suggest.SearchInput(r.Context(), req.Text)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(inst.Suggest.Snapshot()))
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidPhone),
		errors.Is(err, models.ErrInvalidOTP),
		errors.Is(err, models.ErrMissingProfile):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAuthRejected):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrBackendRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
