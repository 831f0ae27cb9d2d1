package intake

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeRepo struct {
	invites    map[string]*Invite
	forms      map[string]*FormRecord
	getFormErr error
	inviteGets int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		invites: make(map[string]*Invite),
		forms:   make(map[string]*FormRecord),
	}
}

func (f *fakeRepo) CreateInvite(_ context.Context, invite *Invite) error {
	invite.CreatedAt = time.Now().UTC()
	f.invites[invite.ID] = invite
	return nil
}

func (f *fakeRepo) GetInvite(_ context.Context, id string) (*Invite, error) {
	f.inviteGets++
	invite, ok := f.invites[id]
	if !ok {
		return nil, ErrInviteNotFound
	}
	return invite, nil
}

func (f *fakeRepo) RevokeInvite(_ context.Context, id string) error {
	invite, ok := f.invites[id]
	if !ok {
		return ErrInviteNotFound
	}
	if invite.RevokedAt == nil {
		now := time.Now().UTC()
		invite.RevokedAt = &now
	}
	return nil
}

func (f *fakeRepo) GetForm(_ context.Context, inviteID string) (*FormRecord, error) {
	if f.getFormErr != nil {
		return nil, f.getFormErr
	}
	record, ok := f.forms[inviteID]
	if !ok {
		return nil, ErrFormNotFound
	}
	return record, nil
}

func (f *fakeRepo) SaveSection(_ context.Context, inviteID string, payload *SubmissionPayload) error {
	record, ok := f.forms[inviteID]
	if !ok {
		record = &FormRecord{InviteID: inviteID}
		f.forms[inviteID] = record
	}
	switch payload.Section {
	case SectionGeneral:
		record.General = payload.General
		record.GeneralCompleted = true
	case SectionSymptoms:
		record.Symptoms = payload.Symptoms
		record.SymptomsCompleted = true
	}
	record.UpdatedAt = time.Now().UTC()
	return nil
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) LogIntakeEvent(_ context.Context, eventType, _, _, _ string) error {
	f.events = append(f.events, eventType)
	return nil
}

type fakePublisher struct {
	deliveries []InviteDelivery
	err        error
}

func (f *fakePublisher) EnqueueInvite(_ context.Context, delivery InviteDelivery) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.deliveries = append(f.deliveries, delivery)
	return "job-1", nil
}

type memoryCache struct {
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, inviteID string) (*TokenContext, error) {
	data, ok := m.entries[inviteID]
	if !ok {
		return nil, nil
	}
	var tc TokenContext
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (m *memoryCache) Set(_ context.Context, inviteID string, tc *TokenContext) error {
	data, err := json.Marshal(tc)
	if err != nil {
		return err
	}
	m.entries[inviteID] = data
	return nil
}

func (m *memoryCache) Invalidate(_ context.Context, inviteID string) error {
	delete(m.entries, inviteID)
	return nil
}

func newTestService(t *testing.T, repo Repository) (*Service, *TokenSigner) {
	t.Helper()
	signer, err := NewTokenSigner("test-secret", 72*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner failed: %v", err)
	}
	svc := NewService(ServiceConfig{
		Repo:          repo,
		Signer:        signer,
		PublicBaseURL: "https://portal.example.com",
	})
	return svc, signer
}

func seedInvite(t *testing.T, repo *fakeRepo, signer *TokenSigner, invite *Invite) string {
	t.Helper()
	if invite.ExpiresAt.IsZero() {
		invite.ExpiresAt = time.Now().UTC().Add(time.Hour)
	}
	repo.invites[invite.ID] = invite
	token, err := signer.Issue(invite.ID, invite.PatientID, invite.AppointmentID)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return token
}

func TestServiceResolveToken(t *testing.T) {
	repo := newFakeRepo()
	svc, signer := newTestService(t, repo)

	apptAt := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	token := seedInvite(t, repo, signer, &Invite{
		ID:               "inv-1",
		PatientID:        "abc123",
		PatientFirstName: "Jane",
		AppointmentID:    "apt-9",
		AppointmentAt:    &apptAt,
		ProviderID:       "prov-2",
	})

	tc, err := svc.ResolveToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}
	if !tc.Valid || tc.PatientID != "abc123" || tc.PatientFirstName != "Jane" {
		t.Fatalf("unexpected context: %#v", tc)
	}
	if tc.Appointment == nil || tc.Appointment.ID != "apt-9" || !tc.Appointment.Date.Equal(apptAt) {
		t.Fatalf("unexpected appointment: %#v", tc.Appointment)
	}
}

func TestServiceResolveTokenGarbage(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	if _, err := svc.ResolveToken(context.Background(), "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestServiceResolveTokenMissingInvite(t *testing.T) {
	repo := newFakeRepo()
	svc, signer := newTestService(t, repo)

	token, err := signer.Issue("gone", "pid", "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := svc.ResolveToken(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestServiceResolveTokenRevoked(t *testing.T) {
	repo := newFakeRepo()
	svc, signer := newTestService(t, repo)

	revoked := time.Now().UTC()
	token := seedInvite(t, repo, signer, &Invite{
		ID:               "inv-1",
		PatientID:        "abc123",
		PatientFirstName: "Jane",
		RevokedAt:        &revoked,
	})
	if _, err := svc.ResolveToken(context.Background(), token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("err = %v, want ErrTokenRevoked", err)
	}
}

func TestServiceResolveTokenExpiredInvite(t *testing.T) {
	repo := newFakeRepo()
	svc, signer := newTestService(t, repo)

	token := seedInvite(t, repo, signer, &Invite{
		ID:               "inv-1",
		PatientID:        "abc123",
		PatientFirstName: "Jane",
		ExpiresAt:        time.Now().UTC().Add(-time.Minute),
	})
	if _, err := svc.ResolveToken(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestServiceResolveTokenUsesCache(t *testing.T) {
	repo := newFakeRepo()
	signer, err := NewTokenSigner("test-secret", 72*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner failed: %v", err)
	}
	cache := newMemoryCache()
	svc := NewService(ServiceConfig{
		Repo:          repo,
		Signer:        signer,
		Cache:         cache,
		PublicBaseURL: "https://portal.example.com",
	})

	token := seedInvite(t, repo, signer, &Invite{
		ID:               "inv-1",
		PatientID:        "abc123",
		PatientFirstName: "Jane",
	})

	if _, err := svc.ResolveToken(context.Background(), token); err != nil {
		t.Fatalf("first ResolveToken failed: %v", err)
	}
	if _, err := svc.ResolveToken(context.Background(), token); err != nil {
		t.Fatalf("second ResolveToken failed: %v", err)
	}
	if repo.inviteGets != 1 {
		t.Errorf("invite lookups = %d, want 1 (second resolve should hit the cache)", repo.inviteGets)
	}
}

func TestServiceFormStateNoPriorSubmission(t *testing.T) {
	repo := newFakeRepo()
	svc, signer := newTestService(t, repo)
	token := seedInvite(t, repo, signer, &Invite{ID: "inv-1", PatientID: "abc123", PatientFirstName: "Jane"})

	state, err := svc.FormState(context.Background(), token)
	if err != nil {
		t.Fatalf("FormState failed: %v", err)
	}
	if state.Exists || state.GeneralCompleted || state.SymptomsCompleted {
		t.Errorf("unexpected state for fresh invite: %#v", state)
	}
}

func TestServiceFormStateStorageFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.getFormErr = errors.New("connection reset")
	svc, signer := newTestService(t, repo)
	token := seedInvite(t, repo, signer, &Invite{ID: "inv-1", PatientID: "abc123", PatientFirstName: "Jane"})

	if _, err := svc.FormState(context.Background(), token); err == nil {
		t.Fatal("expected storage failure to propagate, got nil")
	}
}

func TestServiceSubmitSectionLatches(t *testing.T) {
	repo := newFakeRepo()
	svc, signer := newTestService(t, repo)
	token := seedInvite(t, repo, signer, &Invite{ID: "inv-1", PatientID: "abc123", PatientFirstName: "Jane"})

	general := &SubmissionPayload{
		Section: SectionGeneral,
		General: &GeneralPayload{Medications: []string{"Lisinopril"}, Allergies: []string{"None"}},
	}
	state, err := svc.SubmitSection(context.Background(), token, general)
	if err != nil {
		t.Fatalf("SubmitSection failed: %v", err)
	}
	if !state.Exists || !state.GeneralCompleted || state.SymptomsCompleted {
		t.Fatalf("unexpected state after general submit: %#v", state)
	}

	// Re-submitting replaces the payload and keeps the flag latched.
	general.General.Medications = []string{"Lisinopril", "Metformin"}
	state, err = svc.SubmitSection(context.Background(), token, general)
	if err != nil {
		t.Fatalf("second SubmitSection failed: %v", err)
	}
	if !state.GeneralCompleted || len(state.General.Medications) != 2 {
		t.Fatalf("unexpected state after re-submit: %#v", state)
	}

	symptoms := &SubmissionPayload{
		Section: SectionSymptoms,
		Symptoms: &SymptomsPayload{
			ChiefComplaint: "severe headache",
			Answers:        map[string]any{"q1": 7},
		},
	}
	state, err = svc.SubmitSection(context.Background(), token, symptoms)
	if err != nil {
		t.Fatalf("symptoms SubmitSection failed: %v", err)
	}
	if !state.GeneralCompleted || !state.SymptomsCompleted {
		t.Fatalf("flags = %v/%v, want both true", state.GeneralCompleted, state.SymptomsCompleted)
	}
}

func TestServiceSubmitSectionValidation(t *testing.T) {
	repo := newFakeRepo()
	svc, signer := newTestService(t, repo)
	token := seedInvite(t, repo, signer, &Invite{ID: "inv-1", PatientID: "abc123", PatientFirstName: "Jane"})

	cases := []*SubmissionPayload{
		nil,
		{Section: Section("vitals")},
		{Section: SectionGeneral},
		{Section: SectionSymptoms, Symptoms: &SymptomsPayload{ChiefComplaint: "   "}},
	}
	for _, payload := range cases {
		if _, err := svc.SubmitSection(context.Background(), token, payload); !errors.Is(err, ErrInvalidSubmission) {
			t.Errorf("payload %#v: err = %v, want ErrInvalidSubmission", payload, err)
		}
	}
}

func TestServiceSummaryFallbacks(t *testing.T) {
	repo := newFakeRepo()
	svc, signer := newTestService(t, repo)
	token := seedInvite(t, repo, signer, &Invite{ID: "inv-1", PatientID: "abc123", PatientFirstName: "Jane"})

	view, err := svc.Summary(context.Background(), token)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if view.MedicationsText != "none listed" || view.AllergiesText != "none listed" {
		t.Errorf("list fallbacks = %q/%q, want \"none listed\"", view.MedicationsText, view.AllergiesText)
	}
	if view.ChiefComplaintText != "no details provided" {
		t.Errorf("chief complaint fallback = %q, want \"no details provided\"", view.ChiefComplaintText)
	}
}

func TestServiceSummaryWithSubmissions(t *testing.T) {
	repo := newFakeRepo()
	svc, signer := newTestService(t, repo)
	token := seedInvite(t, repo, signer, &Invite{ID: "inv-1", PatientID: "abc123", PatientFirstName: "Jane"})

	if _, err := svc.SubmitSection(context.Background(), token, &SubmissionPayload{
		Section: SectionGeneral,
		General: &GeneralPayload{Medications: []string{"Lisinopril"}, Allergies: []string{"Penicillin"}},
	}); err != nil {
		t.Fatalf("general submit failed: %v", err)
	}
	if _, err := svc.SubmitSection(context.Background(), token, &SubmissionPayload{
		Section:  SectionSymptoms,
		Symptoms: &SymptomsPayload{ChiefComplaint: "severe headache", Answers: map[string]any{"q1": "often"}},
	}); err != nil {
		t.Fatalf("symptoms submit failed: %v", err)
	}

	view, err := svc.Summary(context.Background(), token)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if view.PatientFirstName != "Jane" {
		t.Errorf("PatientFirstName = %q, want Jane", view.PatientFirstName)
	}
	if view.MedicationsText != "Lisinopril" || view.AllergiesText != "Penicillin" {
		t.Errorf("projections = %q/%q", view.MedicationsText, view.AllergiesText)
	}
	if view.ChiefComplaintText != "severe headache" {
		t.Errorf("ChiefComplaintText = %q, want \"severe headache\"", view.ChiefComplaintText)
	}
	if !view.GeneralCompleted || !view.SymptomsCompleted {
		t.Errorf("flags = %v/%v, want both true", view.GeneralCompleted, view.SymptomsCompleted)
	}
}

func TestServiceCreateInvite(t *testing.T) {
	repo := newFakeRepo()
	signer, err := NewTokenSigner("test-secret", 72*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner failed: %v", err)
	}
	publisher := &fakePublisher{}
	audit := &fakeAudit{}
	svc := NewService(ServiceConfig{
		Repo:          repo,
		Signer:        signer,
		Publisher:     publisher,
		Audit:         audit,
		PublicBaseURL: "https://portal.example.com/",
	})

	created, err := svc.CreateInvite(context.Background(), CreateInviteRequest{
		PatientID:        "abc123",
		PatientFirstName: "Jane",
		Email:            "jane@example.com",
		AppointmentID:    "apt-9",
	})
	if err != nil {
		t.Fatalf("CreateInvite failed: %v", err)
	}
	if created.Invite.ID == "" {
		t.Fatal("expected generated invite ID")
	}
	if _, ok := repo.invites[created.Invite.ID]; !ok {
		t.Fatal("invite not persisted")
	}
	claims, err := signer.Verify(created.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.ID != created.Invite.ID || claims.PatientID != "abc123" {
		t.Errorf("claims = %#v", claims)
	}
	if !strings.HasPrefix(created.FormURL, "https://portal.example.com/careprep/form/") {
		t.Errorf("FormURL = %q", created.FormURL)
	}
	if created.DeliveryJobID != "job-1" || len(publisher.deliveries) != 1 {
		t.Errorf("delivery not enqueued: %#v", publisher.deliveries)
	}
	if publisher.deliveries[0].Email != "jane@example.com" {
		t.Errorf("delivery email = %q", publisher.deliveries[0].Email)
	}
}

func TestServiceCreateInviteRequiresPatient(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	if _, err := svc.CreateInvite(context.Background(), CreateInviteRequest{PatientFirstName: "Jane"}); !errors.Is(err, ErrInvalidSubmission) {
		t.Errorf("err = %v, want ErrInvalidSubmission", err)
	}
}

func TestServiceCreateInviteDeliveryFailureIsNonFatal(t *testing.T) {
	repo := newFakeRepo()
	signer, err := NewTokenSigner("test-secret", 72*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner failed: %v", err)
	}
	svc := NewService(ServiceConfig{
		Repo:          repo,
		Signer:        signer,
		Publisher:     &fakePublisher{err: errors.New("queue unavailable")},
		PublicBaseURL: "https://portal.example.com",
	})

	created, err := svc.CreateInvite(context.Background(), CreateInviteRequest{
		PatientID:        "abc123",
		PatientFirstName: "Jane",
		Email:            "jane@example.com",
	})
	if err != nil {
		t.Fatalf("CreateInvite failed: %v", err)
	}
	if created.DeliveryJobID != "" {
		t.Errorf("DeliveryJobID = %q, want empty", created.DeliveryJobID)
	}
}

func TestServiceRevokeInvite(t *testing.T) {
	repo := newFakeRepo()
	signer, err := NewTokenSigner("test-secret", 72*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner failed: %v", err)
	}
	cache := newMemoryCache()
	svc := NewService(ServiceConfig{
		Repo:          repo,
		Signer:        signer,
		Cache:         cache,
		PublicBaseURL: "https://portal.example.com",
	})

	token := seedInvite(t, repo, signer, &Invite{ID: "inv-1", PatientID: "abc123", PatientFirstName: "Jane"})
	if _, err := svc.ResolveToken(context.Background(), token); err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}

	if err := svc.RevokeInvite(context.Background(), "inv-1"); err != nil {
		t.Fatalf("RevokeInvite failed: %v", err)
	}
	// Revocation must take effect immediately, not after cache TTL.
	if _, err := svc.ResolveToken(context.Background(), token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("err = %v, want ErrTokenRevoked", err)
	}

	if err := svc.RevokeInvite(context.Background(), "missing"); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("err = %v, want ErrInviteNotFound", err)
	}
}

func TestServiceAuditEvents(t *testing.T) {
	repo := newFakeRepo()
	signer, err := NewTokenSigner("test-secret", 72*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner failed: %v", err)
	}
	audit := &fakeAudit{}
	svc := NewService(ServiceConfig{
		Repo:          repo,
		Signer:        signer,
		Cache:         newMemoryCache(),
		Audit:         audit,
		PublicBaseURL: "https://portal.example.com",
	})

	token := seedInvite(t, repo, signer, &Invite{ID: "inv-1", PatientID: "abc123", PatientFirstName: "Jane"})
	if _, err := svc.ResolveToken(context.Background(), token); err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}
	// The second resolve is served from the cache and must still be audited.
	if _, err := svc.ResolveToken(context.Background(), token); err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}
	// A form read before any submission is a PHI access even though the
	// record does not exist yet.
	if _, err := svc.FormState(context.Background(), token); err != nil {
		t.Fatalf("FormState failed: %v", err)
	}
	if _, err := svc.SubmitSection(context.Background(), token, &SubmissionPayload{
		Section: SectionGeneral,
		General: &GeneralPayload{},
	}); err != nil {
		t.Fatalf("SubmitSection failed: %v", err)
	}
	if _, err := svc.Summary(context.Background(), token); err != nil {
		t.Fatalf("Summary failed: %v", err)
	}

	want := []string{
		"intake.token_resolved",
		"intake.token_resolved",
		"intake.form_viewed",
		"intake.section_submitted",
		"intake.summary_viewed",
	}
	if len(audit.events) != len(want) {
		t.Fatalf("audit events = %v, want %v", audit.events, want)
	}
	for i, event := range want {
		if audit.events[i] != event {
			t.Errorf("event[%d] = %q, want %q", i, audit.events[i], event)
		}
	}
}
