package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/practicepulse/careprep-platform/pkg/logging"
)

// QuestionGenerator produces the symptom questionnaire for a chief complaint.
// Satisfied by the questionnaire package's generators.
type QuestionGenerator interface {
	Generate(ctx context.Context, chiefComplaint string) ([]GeneratedQuestion, error)
}

// Handler handles HTTP requests for the intake workflow.
type Handler struct {
	service   *Service
	generator QuestionGenerator
	logger    *logging.Logger
}

// NewHandler creates a new intake handler.
func NewHandler(service *Service, generator QuestionGenerator, logger *logging.Logger) *Handler {
	if service == nil {
		panic("intake: service required")
	}
	if generator == nil {
		panic("intake: question generator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service:   service,
		generator: generator,
		logger:    logger,
	}
}

// RegisterPatientRoutes mounts the token-gated patient endpoints.
func (h *Handler) RegisterPatientRoutes(r chi.Router) {
	r.Get("/api/careprep/forms/token/{token}", h.ResolveToken)
	r.Get("/api/careprep/forms/form/{token}", h.GetFormState)
	r.Post("/api/careprep/forms/form/{token}/generate-questionnaire", h.GenerateQuestionnaire)
	r.Post("/api/careprep/forms/form/{token}/submit", h.SubmitSection)
	r.Get("/api/careprep/forms/summary/{token}", h.GetSummary)
}

// RegisterAdminRoutes mounts the provider-facing invite endpoints. Callers
// wrap these in staff authentication.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/api/careprep/invites", h.CreateInvite)
	r.Delete("/api/careprep/invites/{inviteID}", h.RevokeInvite)
}

// ResolveToken handles GET /api/careprep/forms/token/{token}.
func (h *Handler) ResolveToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	tc, err := h.service.ResolveToken(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, "resolve token", err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

// GetFormState handles GET /api/careprep/forms/form/{token}.
func (h *Handler) GetFormState(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	state, err := h.service.FormState(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, "load form state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type generateRequest struct {
	ChiefComplaint string `json:"chief_complaint"`
}

type generateResponse struct {
	Questions []GeneratedQuestion `json:"questions"`
}

// GenerateQuestionnaire handles POST /api/careprep/forms/form/{token}/generate-questionnaire.
func (h *Handler) GenerateQuestionnaire(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if _, err := h.service.ResolveToken(r.Context(), token); err != nil {
		h.writeServiceError(w, "resolve token", err)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Reject blank complaints before spending a generation call.
	complaint := strings.TrimSpace(req.ChiefComplaint)
	if complaint == "" {
		http.Error(w, "chief_complaint is required", http.StatusBadRequest)
		return
	}

	questions, err := h.generator.Generate(r.Context(), complaint)
	if err != nil {
		h.logger.Error("questionnaire generation failed", "error", err)
		http.Error(w, "questionnaire generation failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Questions: questions})
}

// SubmitSection handles POST /api/careprep/forms/form/{token}/submit.
func (h *Handler) SubmitSection(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var payload SubmissionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	state, err := h.service.SubmitSection(r.Context(), token, &payload)
	if err != nil {
		h.writeServiceError(w, "submit section", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetSummary handles GET /api/careprep/forms/summary/{token}.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	view, err := h.service.Summary(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, "load summary", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CreateInvite handles POST /api/careprep/invites.
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req CreateInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateInvite(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create invite", err)
		return
	}

	h.logger.Info("careprep invite created", "invite_id", created.Invite.ID)
	writeJSON(w, http.StatusCreated, created)
}

// RevokeInvite handles DELETE /api/careprep/invites/{inviteID}.
func (h *Handler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	inviteID := chi.URLParam(r, "inviteID")

	if err := h.service.RevokeInvite(r.Context(), inviteID); err != nil {
		h.writeServiceError(w, "revoke invite", err)
		return
	}

	h.logger.Info("careprep invite revoked", "invite_id", inviteID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrTokenInvalid):
		http.Error(w, "invalid form link", http.StatusUnauthorized)
	case errors.Is(err, ErrTokenExpired):
		http.Error(w, "form link has expired", http.StatusGone)
	case errors.Is(err, ErrTokenRevoked):
		http.Error(w, "form link has been revoked", http.StatusGone)
	case errors.Is(err, ErrInviteNotFound):
		http.Error(w, "invite not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidSubmission):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("intake request failed", "action", action, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
