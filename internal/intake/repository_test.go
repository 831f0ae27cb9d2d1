package intake

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func TestPostgresRepositoryCreateInvite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	expires := time.Now().Add(72 * time.Hour).UTC()
	created := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO careprep_invites`).
		WithArgs("inv-1", "pid1", "Jane", "jane@example.com", "apt1", pgxmock.AnyArg(), "prov1", expires).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))

	repo := NewPostgresRepositoryWithDB(mock)
	invite := &Invite{
		ID:               "inv-1",
		PatientID:        "pid1",
		PatientFirstName: "Jane",
		Email:            "jane@example.com",
		AppointmentID:    "apt1",
		ProviderID:       "prov1",
		ExpiresAt:        expires,
	}
	if err := repo.CreateInvite(context.Background(), invite); err != nil {
		t.Fatalf("CreateInvite failed: %v", err)
	}
	if !invite.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", invite.CreatedAt, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryGetInviteNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, patient_id, patient_first_name`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresRepositoryWithDB(mock)
	if _, err := repo.GetInvite(context.Background(), "missing"); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("err = %v, want ErrInviteNotFound", err)
	}
}

func TestPostgresRepositoryRevokeInvite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`UPDATE careprep_invites SET revoked_at`).
		WithArgs("inv-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE careprep_invites SET revoked_at`).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewPostgresRepositoryWithDB(mock)
	if err := repo.RevokeInvite(context.Background(), "inv-1"); err != nil {
		t.Fatalf("RevokeInvite failed: %v", err)
	}
	if err := repo.RevokeInvite(context.Background(), "missing"); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("err = %v, want ErrInviteNotFound", err)
	}
}

func TestPostgresRepositoryGetForm(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	general, _ := json.Marshal(GeneralPayload{Medications: []string{"Lisinopril"}, Allergies: []string{"None"}})
	updated := time.Now().UTC()
	mock.ExpectQuery(`SELECT invite_id, general, symptoms`).
		WithArgs("inv-1").
		WillReturnRows(pgxmock.NewRows([]string{"invite_id", "general", "symptoms", "general_completed", "symptoms_completed", "updated_at"}).
			AddRow("inv-1", general, []byte(nil), true, false, updated))

	repo := NewPostgresRepositoryWithDB(mock)
	record, err := repo.GetForm(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("GetForm failed: %v", err)
	}
	if !record.GeneralCompleted || record.SymptomsCompleted {
		t.Errorf("completion flags = %v/%v, want true/false", record.GeneralCompleted, record.SymptomsCompleted)
	}
	if record.General == nil || len(record.General.Medications) != 1 || record.General.Medications[0] != "Lisinopril" {
		t.Errorf("unexpected general payload: %#v", record.General)
	}
	if record.Symptoms != nil {
		t.Errorf("symptoms = %#v, want nil", record.Symptoms)
	}
}

func TestPostgresRepositoryGetFormNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT invite_id, general, symptoms`).
		WithArgs("inv-1").
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresRepositoryWithDB(mock)
	if _, err := repo.GetForm(context.Background(), "inv-1"); !errors.Is(err, ErrFormNotFound) {
		t.Errorf("err = %v, want ErrFormNotFound", err)
	}
}

func TestPostgresRepositorySaveSectionLatchesCompletion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	payload := &SubmissionPayload{
		Section: SectionGeneral,
		General: &GeneralPayload{Medications: []string{"Lisinopril"}, Allergies: []string{"None"}},
	}
	data, _ := json.Marshal(payload.General)

	// Submitting twice issues the same latching upsert both times.
	mock.ExpectExec(`INSERT INTO careprep_forms \(invite_id, general, general_completed\)`).
		WithArgs("inv-1", data).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO careprep_forms \(invite_id, general, general_completed\)`).
		WithArgs("inv-1", data).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewPostgresRepositoryWithDB(mock)
	if err := repo.SaveSection(context.Background(), "inv-1", payload); err != nil {
		t.Fatalf("SaveSection failed: %v", err)
	}
	if err := repo.SaveSection(context.Background(), "inv-1", payload); err != nil {
		t.Fatalf("second SaveSection failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositorySaveSectionRejectsUnknown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepositoryWithDB(mock)
	payload := &SubmissionPayload{Section: Section("vitals")}
	if err := repo.SaveSection(context.Background(), "inv-1", payload); err == nil {
		t.Fatal("expected error for unknown section")
	}
}
