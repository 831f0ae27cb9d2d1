// Package compliance provides healthcare regulatory compliance features.
package compliance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventTokenResolved is logged when a form link resolves to a patient context.
	EventTokenResolved AuditEventType = "intake.token_resolved"
	// EventFormViewed is logged when prior submission state is read.
	EventFormViewed AuditEventType = "intake.form_viewed"
	// EventSectionSubmitted is logged when a form section is saved.
	EventSectionSubmitted AuditEventType = "intake.section_submitted"
	// EventSummaryViewed is logged when the summary aggregate is read.
	EventSummaryViewed AuditEventType = "intake.summary_viewed"
	// EventInviteCreated is logged when a provider mints a form link.
	EventInviteCreated AuditEventType = "intake.invite_created"
	// EventInviteRevoked is logged when a form link is revoked.
	EventInviteRevoked AuditEventType = "intake.invite_revoked"
)

// AuditEvent represents an immutable PHI access record.
type AuditEvent struct {
	ID        string         `json:"id"`
	EventType AuditEventType `json:"event_type"`
	InviteID  string         `json:"invite_id,omitempty"`
	PatientID string         `json:"patient_id,omitempty"`
	Section   string         `json:"section,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditService handles PHI access audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO careprep_audit_events (
			id, event_type, invite_id, patient_id, section, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		nullString(event.InviteID),
		nullString(event.PatientID),
		nullString(event.Section),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogIntakeEvent records an intake workflow event. It satisfies the intake
// service's audit interface.
func (s *AuditService) LogIntakeEvent(ctx context.Context, eventType, inviteID, patientID, section string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType: AuditEventType(eventType),
		InviteID:  inviteID,
		PatientID: patientID,
		Section:   section,
	})
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
