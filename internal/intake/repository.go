package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInviteNotFound indicates the token's invite row does not exist.
	ErrInviteNotFound = errors.New("intake: invite not found")
	// ErrFormNotFound is the confirmed "no prior submission" state, distinct
	// from a storage failure.
	ErrFormNotFound = errors.New("intake: form not found")
)

// Repository persists invites and form submission records.
type Repository interface {
	CreateInvite(ctx context.Context, invite *Invite) error
	GetInvite(ctx context.Context, id string) (*Invite, error)
	RevokeInvite(ctx context.Context, id string) error
	GetForm(ctx context.Context, inviteID string) (*FormRecord, error)
	SaveSection(ctx context.Context, inviteID string, payload *SubmissionPayload) error
}

// intakeDB is the pgx surface the repository needs, narrowed for mocking.
type intakeDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository stores intake state in the relational database.
type PostgresRepository struct {
	db intakeDB
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("intake: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

// NewPostgresRepositoryWithDB allows injecting a mock database for testing.
func NewPostgresRepositoryWithDB(db intakeDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

// CreateInvite inserts a new invite row.
func (r *PostgresRepository) CreateInvite(ctx context.Context, invite *Invite) error {
	if invite == nil || invite.ID == "" {
		return errors.New("intake: invite with id required")
	}
	query := `
		INSERT INTO careprep_invites (id, patient_id, patient_first_name, email, appointment_id, appointment_at, provider_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.db.QueryRow(ctx, query,
		invite.ID,
		invite.PatientID,
		invite.PatientFirstName,
		invite.Email,
		invite.AppointmentID,
		invite.AppointmentAt,
		invite.ProviderID,
		invite.ExpiresAt,
	).Scan(&createdAt); err != nil {
		return fmt.Errorf("intake: insert invite failed: %w", err)
	}
	invite.CreatedAt = createdAt
	return nil
}

// GetInvite fetches an invite by ID.
func (r *PostgresRepository) GetInvite(ctx context.Context, id string) (*Invite, error) {
	query := `
		SELECT id, patient_id, patient_first_name, email, appointment_id, appointment_at, provider_id, expires_at, revoked_at, created_at
		FROM careprep_invites
		WHERE id = $1
	`
	var invite Invite
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&invite.ID,
		&invite.PatientID,
		&invite.PatientFirstName,
		&invite.Email,
		&invite.AppointmentID,
		&invite.AppointmentAt,
		&invite.ProviderID,
		&invite.ExpiresAt,
		&invite.RevokedAt,
		&invite.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("intake: select invite failed: %w", err)
	}
	return &invite, nil
}

// RevokeInvite marks an invite revoked. Revoking twice is a no-op.
func (r *PostgresRepository) RevokeInvite(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE careprep_invites SET revoked_at = COALESCE(revoked_at, now()) WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("intake: revoke invite failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInviteNotFound
	}
	return nil
}

// GetForm loads the submission record for an invite.
func (r *PostgresRepository) GetForm(ctx context.Context, inviteID string) (*FormRecord, error) {
	query := `
		SELECT invite_id, general, symptoms, general_completed, symptoms_completed, updated_at
		FROM careprep_forms
		WHERE invite_id = $1
	`
	var (
		record      FormRecord
		generalRaw  []byte
		symptomsRaw []byte
	)
	if err := r.db.QueryRow(ctx, query, inviteID).Scan(
		&record.InviteID,
		&generalRaw,
		&symptomsRaw,
		&record.GeneralCompleted,
		&record.SymptomsCompleted,
		&record.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFormNotFound
		}
		return nil, fmt.Errorf("intake: select form failed: %w", err)
	}

	if len(generalRaw) > 0 {
		record.General = &GeneralPayload{}
		if err := json.Unmarshal(generalRaw, record.General); err != nil {
			return nil, fmt.Errorf("intake: decode general payload: %w", err)
		}
	}
	if len(symptomsRaw) > 0 {
		record.Symptoms = &SymptomsPayload{}
		if err := json.Unmarshal(symptomsRaw, record.Symptoms); err != nil {
			return nil, fmt.Errorf("intake: decode symptoms payload: %w", err)
		}
	}
	return &record, nil
}

// SaveSection upserts one section's payload and latches its completion flag.
// Last write wins on the payload; the flag never resets to false.
func (r *PostgresRepository) SaveSection(ctx context.Context, inviteID string, payload *SubmissionPayload) error {
	if payload == nil {
		return errors.New("intake: payload required")
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	switch payload.Section {
	case SectionGeneral:
		data, err := json.Marshal(payload.General)
		if err != nil {
			return fmt.Errorf("intake: encode general payload: %w", err)
		}
		query := `
			INSERT INTO careprep_forms (invite_id, general, general_completed)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (invite_id)
			DO UPDATE SET general = EXCLUDED.general, general_completed = TRUE, updated_at = now()
		`
		if _, err := r.db.Exec(ctx, query, inviteID, data); err != nil {
			return fmt.Errorf("intake: save general section failed: %w", err)
		}
	case SectionSymptoms:
		data, err := json.Marshal(payload.Symptoms)
		if err != nil {
			return fmt.Errorf("intake: encode symptoms payload: %w", err)
		}
		query := `
			INSERT INTO careprep_forms (invite_id, symptoms, symptoms_completed)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (invite_id)
			DO UPDATE SET symptoms = EXCLUDED.symptoms, symptoms_completed = TRUE, updated_at = now()
		`
		if _, err := r.db.Exec(ctx, query, inviteID, data); err != nil {
			return fmt.Errorf("intake: save symptoms section failed: %w", err)
		}
	default:
		return fmt.Errorf("intake: unknown section %q", payload.Section)
	}
	return nil
}
