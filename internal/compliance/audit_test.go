package compliance

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	tests := []struct {
		name  string
		event AuditEvent
	}{
		{
			name: "token resolved",
			event: AuditEvent{
				EventType: EventTokenResolved,
				InviteID:  "inv-1",
				PatientID: "abc123",
			},
		},
		{
			name: "section submitted",
			event: AuditEvent{
				EventType: EventSectionSubmitted,
				InviteID:  "inv-1",
				PatientID: "abc123",
				Section:   "general",
			},
		},
		{
			name: "invite revoked without patient",
			event: AuditEvent{
				EventType: EventInviteRevoked,
				InviteID:  "inv-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO careprep_audit_events").
				WillReturnResult(sqlmock.NewResult(1, 1))

			err := service.LogEvent(context.Background(), tt.event)
			assert.NoError(t, err)
		})
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogEventGeneratesDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO careprep_audit_events").
		WithArgs(sqlmock.AnyArg(), string(EventFormViewed), "inv-1", "abc123", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	service := NewAuditService(db)
	err = service.LogEvent(context.Background(), AuditEvent{
		EventType: EventFormViewed,
		InviteID:  "inv-1",
		PatientID: "abc123",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogIntakeEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO careprep_audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	service := NewAuditService(db)
	err = service.LogIntakeEvent(context.Background(), "intake.section_submitted", "inv-1", "abc123", "symptoms")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
