// Package intake implements the CarePrep pre-visit intake workflow: signed
// form tokens, per-section submissions, and the provider-facing summary.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Section identifies one of the intake sub-forms tracked for completion.
type Section string

const (
	SectionGeneral  Section = "general"
	SectionSymptoms Section = "symptoms"
)

// ParseSection validates a section name from the wire.
func ParseSection(s string) (Section, error) {
	switch Section(strings.ToLower(strings.TrimSpace(s))) {
	case SectionGeneral:
		return SectionGeneral, nil
	case SectionSymptoms:
		return SectionSymptoms, nil
	default:
		return "", fmt.Errorf("intake: unknown section %q", s)
	}
}

// QuestionType is the closed set of renderable question kinds. Anything a
// generator produces outside this set is normalized to QuestionText so the
// form degrades to a free-text input instead of failing to render.
type QuestionType string

const (
	QuestionScale   QuestionType = "scale"
	QuestionSelect  QuestionType = "select"
	QuestionText    QuestionType = "text"
	QuestionBoolean QuestionType = "boolean"
)

// NormalizeQuestionType maps arbitrary type strings onto the closed enum.
func NormalizeQuestionType(s string) QuestionType {
	switch QuestionType(strings.ToLower(strings.TrimSpace(s))) {
	case QuestionScale:
		return QuestionScale
	case QuestionSelect:
		return QuestionSelect
	case QuestionBoolean:
		return QuestionBoolean
	case QuestionText:
		return QuestionText
	default:
		return QuestionText
	}
}

// GeneratedQuestion is a server-produced, dynamically typed question.
// Options is populated for select questions; MinValue/MaxValue for scale.
type GeneratedQuestion struct {
	ID       string       `json:"id"`
	Type     QuestionType `json:"type"`
	Text     string       `json:"text"`
	Options  []string     `json:"options,omitempty"`
	MinValue int          `json:"min_value,omitempty"`
	MaxValue int          `json:"max_value,omitempty"`
}

// Appointment is the visit the intake token is bound to.
type Appointment struct {
	ID         string    `json:"id"`
	Date       time.Time `json:"date"`
	ProviderID string    `json:"provider_id"`
}

// TokenContext is the resolved view of an intake token.
type TokenContext struct {
	Valid            bool         `json:"valid"`
	PatientID        string       `json:"patient_id"`
	PatientFirstName string       `json:"patient_first_name"`
	Appointment      *Appointment `json:"appointment,omitempty"`
}

// Invite binds a patient+appointment pair to a form session for a bounded
// time window. The signed token carries the invite ID as its jti claim.
type Invite struct {
	ID               string     `json:"id"`
	PatientID        string     `json:"patient_id"`
	PatientFirstName string     `json:"patient_first_name"`
	Email            string     `json:"email,omitempty"`
	AppointmentID    string     `json:"appointment_id,omitempty"`
	AppointmentAt    *time.Time `json:"appointment_at,omitempty"`
	ProviderID       string     `json:"provider_id,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// GeneralPayload is the general-history section submission.
type GeneralPayload struct {
	Medications []string `json:"medications"`
	Allergies   []string `json:"allergies"`
	Questions   string   `json:"questions,omitempty"`
}

// SymptomsPayload is the symptom-assessment section submission. Answers are
// keyed by generated question ID; values keep whatever JSON shape the client
// sent (integers for scale answers, strings for select/text).
type SymptomsPayload struct {
	ChiefComplaint string         `json:"chief_complaint"`
	Symptoms       []string       `json:"symptoms,omitempty"`
	Answers        map[string]any `json:"answers"`
}

// SubmissionPayload is the shared submit-endpoint body, keyed by section.
type SubmissionPayload struct {
	Section  Section          `json:"section"`
	General  *GeneralPayload  `json:"general,omitempty"`
	Symptoms *SymptomsPayload `json:"symptoms,omitempty"`
}

// Validate rejects structurally unusable submissions before they hit storage.
func (p *SubmissionPayload) Validate() error {
	section, err := ParseSection(string(p.Section))
	if err != nil {
		return err
	}
	switch section {
	case SectionGeneral:
		if p.General == nil {
			return errors.New("intake: general section requires a general payload")
		}
	case SectionSymptoms:
		if p.Symptoms == nil {
			return errors.New("intake: symptoms section requires a symptoms payload")
		}
		if strings.TrimSpace(p.Symptoms.ChiefComplaint) == "" {
			return errors.New("intake: chief complaint is required")
		}
	}
	return nil
}

// FormRecord is the per-invite server-side submission record. Completion
// flags latch: once a section submit succeeds the flag never resets, and
// re-submission replaces the payload (last write wins).
type FormRecord struct {
	InviteID          string           `json:"invite_id"`
	General           *GeneralPayload  `json:"general,omitempty"`
	Symptoms          *SymptomsPayload `json:"symptoms,omitempty"`
	GeneralCompleted  bool             `json:"general_completed"`
	SymptomsCompleted bool             `json:"symptoms_completed"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// FormState is the hydration response. Exists distinguishes a confirmed
// "no prior submission" from a storage failure, which is surfaced as an
// error instead of an empty state.
type FormState struct {
	Exists            bool             `json:"exists"`
	GeneralCompleted  bool             `json:"general_completed"`
	SymptomsCompleted bool             `json:"symptoms_completed"`
	General           *GeneralPayload  `json:"general,omitempty"`
	Symptoms          *SymptomsPayload `json:"symptoms,omitempty"`
}

const (
	noDetailsProvided = "no details provided"
	noneListed        = "none listed"
)

// SummaryView is the read-only aggregate for the summary page. The *Text
// fields are display projections with fallbacks for absent data.
type SummaryView struct {
	PatientID          string           `json:"patient_id"`
	PatientFirstName   string           `json:"patient_first_name"`
	Appointment        *Appointment     `json:"appointment,omitempty"`
	General            *GeneralPayload  `json:"general,omitempty"`
	Symptoms           *SymptomsPayload `json:"symptoms,omitempty"`
	GeneralCompleted   bool             `json:"general_completed"`
	SymptomsCompleted  bool             `json:"symptoms_completed"`
	MedicationsText    string           `json:"medications_text"`
	AllergiesText      string           `json:"allergies_text"`
	ChiefComplaintText string           `json:"chief_complaint_text"`
}

func (s *SummaryView) fillProjections() {
	s.MedicationsText = noneListed
	s.AllergiesText = noneListed
	s.ChiefComplaintText = noDetailsProvided

	if s.General != nil {
		if meds := joinNonEmpty(s.General.Medications); meds != "" {
			s.MedicationsText = meds
		}
		if allergies := joinNonEmpty(s.General.Allergies); allergies != "" {
			s.AllergiesText = allergies
		}
	}
	if s.Symptoms != nil && strings.TrimSpace(s.Symptoms.ChiefComplaint) != "" {
		s.ChiefComplaintText = strings.TrimSpace(s.Symptoms.ChiefComplaint)
	}
}

func joinNonEmpty(values []string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, ", ")
}
