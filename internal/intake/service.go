package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/practicepulse/careprep-platform/internal/observability/metrics"
	"github.com/practicepulse/careprep-platform/pkg/logging"
)

// ErrInvalidSubmission marks client-correctable submission problems.
var ErrInvalidSubmission = errors.New("intake: invalid submission")

// AuditLogger records PHI access events. Failures are logged, never
// propagated to patients.
type AuditLogger interface {
	LogIntakeEvent(ctx context.Context, eventType, inviteID, patientID, section string) error
}

// InviteDelivery carries what the delivery pipeline needs to email a link.
type InviteDelivery struct {
	InviteID         string     `json:"invite_id"`
	Email            string     `json:"email"`
	PatientFirstName string     `json:"patient_first_name"`
	FormURL          string     `json:"form_url"`
	AppointmentAt    *time.Time `json:"appointment_at,omitempty"`
}

// DeliveryPublisher enqueues invite link delivery.
type DeliveryPublisher interface {
	EnqueueInvite(ctx context.Context, delivery InviteDelivery) (string, error)
}

// Service coordinates the intake workflow: token resolution, form
// hydration, per-section submission, and the summary projection.
type Service struct {
	repo          Repository
	signer        *TokenSigner
	cache         ContextCache
	audit         AuditLogger
	publisher     DeliveryPublisher
	metrics       *metrics.IntakeMetrics
	publicBaseURL string
	logger        *logging.Logger
	now           func() time.Time
}

// ServiceConfig wires the service's collaborators. Cache, audit, publisher,
// and metrics are optional.
type ServiceConfig struct {
	Repo          Repository
	Signer        *TokenSigner
	Cache         ContextCache
	Audit         AuditLogger
	Publisher     DeliveryPublisher
	Metrics       *metrics.IntakeMetrics
	PublicBaseURL string
	Logger        *logging.Logger
}

// NewService creates the intake service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Repo == nil {
		panic("intake: repository required")
	}
	if cfg.Signer == nil {
		panic("intake: token signer required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:          cfg.Repo,
		signer:        cfg.Signer,
		cache:         cfg.Cache,
		audit:         cfg.Audit,
		publisher:     cfg.Publisher,
		metrics:       cfg.Metrics,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger,
		now:           time.Now,
	}
}

// ResolveToken validates a raw token and returns the patient/appointment
// context the form renders against. Exactly one invite lookup happens per
// call unless the cache already holds the context.
func (s *Service) ResolveToken(ctx context.Context, rawToken string) (*TokenContext, error) {
	claims, err := s.signer.Verify(rawToken)
	if err != nil {
		s.metrics.ObserveResolution(resolutionStatus(err))
		return nil, err
	}

	if s.cache != nil {
		if cached, cacheErr := s.cache.Get(ctx, claims.ID); cacheErr != nil {
			s.logger.Debug("intake: context cache read failed", "error", cacheErr, "invite_id", claims.ID)
		} else if cached != nil {
			s.recordAudit(ctx, "intake.token_resolved", claims.ID, cached.PatientID, "")
			s.metrics.ObserveResolution("ok")
			return cached, nil
		}
	}

	invite, err := s.authorizedInvite(ctx, claims)
	if err != nil {
		s.metrics.ObserveResolution(resolutionStatus(err))
		return nil, err
	}

	tc := contextForInvite(invite)
	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, invite.ID, tc); cacheErr != nil {
			s.logger.Debug("intake: context cache write failed", "error", cacheErr, "invite_id", invite.ID)
		}
	}

	s.recordAudit(ctx, "intake.token_resolved", invite.ID, invite.PatientID, "")
	s.metrics.ObserveResolution("ok")
	return tc, nil
}

// FormState returns prior submission state for the token. A missing form is
// a confirmed empty state, not an error; storage failures propagate so the
// client can distinguish the two.
func (s *Service) FormState(ctx context.Context, rawToken string) (*FormState, error) {
	invite, err := s.authorize(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.GetForm(ctx, invite.ID)
	if errors.Is(err, ErrFormNotFound) {
		s.recordAudit(ctx, "intake.form_viewed", invite.ID, invite.PatientID, "")
		return &FormState{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "intake.form_viewed", invite.ID, invite.PatientID, "")
	return stateFromRecord(record), nil
}

// SubmitSection persists one section's payload, latching its completion
// flag. Re-submission is idempotent: the flag stays true and the payload is
// replaced (last write wins).
func (s *Service) SubmitSection(ctx context.Context, rawToken string, payload *SubmissionPayload) (*FormState, error) {
	invite, err := s.authorize(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: missing body", ErrInvalidSubmission)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSubmission, err)
	}

	if err := s.repo.SaveSection(ctx, invite.ID, payload); err != nil {
		s.metrics.ObserveSubmission(string(payload.Section), "error")
		return nil, err
	}
	s.metrics.ObserveSubmission(string(payload.Section), "ok")
	s.recordAudit(ctx, "intake.section_submitted", invite.ID, invite.PatientID, string(payload.Section))

	record, err := s.repo.GetForm(ctx, invite.ID)
	if err != nil {
		// The write succeeded; report the state implied by this submission
		// rather than failing the request.
		s.logger.Warn("intake: form re-read after submit failed", "error", err, "invite_id", invite.ID)
		state := &FormState{Exists: true}
		switch payload.Section {
		case SectionGeneral:
			state.GeneralCompleted = true
			state.General = payload.General
		case SectionSymptoms:
			state.SymptomsCompleted = true
			state.Symptoms = payload.Symptoms
		}
		return state, nil
	}
	return stateFromRecord(record), nil
}

// Summary builds the read-only aggregate for the summary page.
func (s *Service) Summary(ctx context.Context, rawToken string) (*SummaryView, error) {
	invite, err := s.authorize(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.GetForm(ctx, invite.ID)
	if errors.Is(err, ErrFormNotFound) {
		record = &FormRecord{InviteID: invite.ID}
	} else if err != nil {
		return nil, err
	}

	view := &SummaryView{
		PatientID:         invite.PatientID,
		PatientFirstName:  invite.PatientFirstName,
		Appointment:       appointmentForInvite(invite),
		General:           record.General,
		Symptoms:          record.Symptoms,
		GeneralCompleted:  record.GeneralCompleted,
		SymptomsCompleted: record.SymptomsCompleted,
	}
	view.fillProjections()

	s.recordAudit(ctx, "intake.summary_viewed", invite.ID, invite.PatientID, "")
	return view, nil
}

// CreateInviteRequest is the provider-facing link generation input.
type CreateInviteRequest struct {
	PatientID        string     `json:"patient_id"`
	PatientFirstName string     `json:"patient_first_name"`
	Email            string     `json:"email,omitempty"`
	AppointmentID    string     `json:"appointment_id,omitempty"`
	AppointmentAt    *time.Time `json:"appointment_at,omitempty"`
	ProviderID       string     `json:"provider_id,omitempty"`
}

// CreatedInvite is returned to the provider after link generation.
type CreatedInvite struct {
	Invite        *Invite `json:"invite"`
	Token         string  `json:"token"`
	FormURL       string  `json:"form_url"`
	DeliveryJobID string  `json:"delivery_job_id,omitempty"`
}

// CreateInvite mints a new invite, signs its token, and (when an email is
// present and delivery is wired) enqueues the link email.
func (s *Service) CreateInvite(ctx context.Context, req CreateInviteRequest) (*CreatedInvite, error) {
	if strings.TrimSpace(req.PatientID) == "" || strings.TrimSpace(req.PatientFirstName) == "" {
		return nil, fmt.Errorf("%w: patient_id and patient_first_name are required", ErrInvalidSubmission)
	}

	invite := &Invite{
		ID:               uuid.NewString(),
		PatientID:        req.PatientID,
		PatientFirstName: req.PatientFirstName,
		Email:            req.Email,
		AppointmentID:    req.AppointmentID,
		AppointmentAt:    req.AppointmentAt,
		ProviderID:       req.ProviderID,
		ExpiresAt:        s.now().UTC().Add(s.signer.TTL()),
	}
	if err := s.repo.CreateInvite(ctx, invite); err != nil {
		return nil, err
	}

	token, err := s.signer.Issue(invite.ID, invite.PatientID, invite.AppointmentID)
	if err != nil {
		return nil, err
	}

	created := &CreatedInvite{
		Invite:  invite,
		Token:   token,
		FormURL: s.FormURL(token),
	}

	if s.publisher != nil && strings.TrimSpace(invite.Email) != "" {
		jobID, err := s.publisher.EnqueueInvite(ctx, InviteDelivery{
			InviteID:         invite.ID,
			Email:            invite.Email,
			PatientFirstName: invite.PatientFirstName,
			FormURL:          created.FormURL,
			AppointmentAt:    invite.AppointmentAt,
		})
		if err != nil {
			// The invite exists and the link is returned to the provider;
			// delivery can be retried out-of-band.
			s.logger.Error("intake: failed to enqueue invite delivery", "error", err, "invite_id", invite.ID)
		} else {
			created.DeliveryJobID = jobID
			s.metrics.ObserveInviteEnqueued()
		}
	}

	s.recordAudit(ctx, "intake.invite_created", invite.ID, invite.PatientID, "")
	return created, nil
}

// RevokeInvite revokes an invite and drops its cached context so revocation
// takes effect immediately.
func (s *Service) RevokeInvite(ctx context.Context, inviteID string) error {
	if err := s.repo.RevokeInvite(ctx, inviteID); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, inviteID); err != nil {
			s.logger.Warn("intake: cache invalidate after revoke failed", "error", err, "invite_id", inviteID)
		}
	}
	s.recordAudit(ctx, "intake.invite_revoked", inviteID, "", "")
	return nil
}

// FormURL builds the patient-facing link for a signed token.
func (s *Service) FormURL(token string) string {
	return fmt.Sprintf("%s/careprep/form/%s", s.publicBaseURL, token)
}

// authorize verifies the token and loads its invite. Mutating and
// state-reading paths always hit the repository so revocation is enforced
// without waiting out the context cache TTL.
func (s *Service) authorize(ctx context.Context, rawToken string) (*Invite, error) {
	claims, err := s.signer.Verify(rawToken)
	if err != nil {
		return nil, err
	}
	return s.authorizedInvite(ctx, claims)
}

func (s *Service) authorizedInvite(ctx context.Context, claims *TokenClaims) (*Invite, error) {
	invite, err := s.repo.GetInvite(ctx, claims.ID)
	if errors.Is(err, ErrInviteNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if invite.RevokedAt != nil {
		return nil, ErrTokenRevoked
	}
	if s.now().UTC().After(invite.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return invite, nil
}

func (s *Service) recordAudit(ctx context.Context, eventType, inviteID, patientID, section string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogIntakeEvent(ctx, eventType, inviteID, patientID, section); err != nil {
		s.logger.Warn("intake: audit log failed", "error", err, "event_type", eventType, "invite_id", inviteID)
	}
}

func contextForInvite(invite *Invite) *TokenContext {
	return &TokenContext{
		Valid:            true,
		PatientID:        invite.PatientID,
		PatientFirstName: invite.PatientFirstName,
		Appointment:      appointmentForInvite(invite),
	}
}

func appointmentForInvite(invite *Invite) *Appointment {
	if invite.AppointmentID == "" {
		return nil
	}
	appt := &Appointment{ID: invite.AppointmentID, ProviderID: invite.ProviderID}
	if invite.AppointmentAt != nil {
		appt.Date = *invite.AppointmentAt
	}
	return appt
}

func stateFromRecord(record *FormRecord) *FormState {
	return &FormState{
		Exists:            true,
		GeneralCompleted:  record.GeneralCompleted,
		SymptomsCompleted: record.SymptomsCompleted,
		General:           record.General,
		Symptoms:          record.Symptoms,
	}
}

func resolutionStatus(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}
