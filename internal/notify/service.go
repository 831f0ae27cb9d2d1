package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/practicepulse/careprep-platform/internal/intake"
	"github.com/practicepulse/careprep-platform/pkg/logging"
)

// InviteMailer composes and sends the CarePrep form link email. It satisfies
// the delivery worker's emailer interface.
type InviteMailer struct {
	sender   EmailSender
	provider string
	logger   *logging.Logger
}

// NewInviteMailer wraps an email sender. The provider label shows up in logs
// and delivery job records ("ses", "sendgrid", "stub").
func NewInviteMailer(sender EmailSender, provider string, logger *logging.Logger) *InviteMailer {
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	if provider == "" {
		provider = "unknown"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &InviteMailer{
		sender:   sender,
		provider: provider,
		logger:   logger,
	}
}

// SendInviteEmail sends the form link to the patient and reports which
// provider handled it.
func (m *InviteMailer) SendInviteEmail(ctx context.Context, delivery intake.InviteDelivery) (string, error) {
	if strings.TrimSpace(delivery.Email) == "" {
		return m.provider, errors.New("notify: delivery has no email address")
	}
	if strings.TrimSpace(delivery.FormURL) == "" {
		return m.provider, errors.New("notify: delivery has no form URL")
	}

	msg := EmailMessage{
		To:      delivery.Email,
		ToName:  delivery.PatientFirstName,
		Subject: "Complete your pre-visit check-in",
		Body:    inviteTextBody(delivery),
		HTML:    inviteHTMLBody(delivery),
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return m.provider, err
	}
	return m.provider, nil
}

func inviteTextBody(delivery intake.InviteDelivery) string {
	var b strings.Builder
	name := strings.TrimSpace(delivery.PatientFirstName)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	if delivery.AppointmentAt != nil {
		fmt.Fprintf(&b, "You have an appointment on %s.\n", delivery.AppointmentAt.Format("Monday, January 2 at 3:04 PM"))
	}
	b.WriteString("Please complete your pre-visit check-in before you arrive. It takes about five minutes:\n\n")
	fmt.Fprintf(&b, "%s\n\n", delivery.FormURL)
	b.WriteString("This link is just for you. If you didn't expect this email, you can ignore it.\n")
	return b.String()
}

func inviteHTMLBody(delivery intake.InviteDelivery) string {
	var b strings.Builder
	name := strings.TrimSpace(delivery.PatientFirstName)
	if name == "" {
		name = "there"
	}
	b.WriteString("<html><body style=\"font-family: sans-serif; color: #1f2937;\">")
	fmt.Fprintf(&b, "<p>Hi %s,</p>", name)
	if delivery.AppointmentAt != nil {
		fmt.Fprintf(&b, "<p>You have an appointment on <strong>%s</strong>.</p>", delivery.AppointmentAt.Format("Monday, January 2 at 3:04 PM"))
	}
	b.WriteString("<p>Please complete your pre-visit check-in before you arrive. It takes about five minutes.</p>")
	fmt.Fprintf(&b, "<p><a href=\"%s\" style=\"display:inline-block;padding:10px 18px;background:#2563eb;color:#ffffff;text-decoration:none;border-radius:6px;\">Start check-in</a></p>", delivery.FormURL)
	fmt.Fprintf(&b, "<p style=\"font-size:12px;color:#6b7280;\">Or copy this link: %s</p>", delivery.FormURL)
	b.WriteString("<p style=\"font-size:12px;color:#6b7280;\">This link is just for you. If you didn't expect this email, you can ignore it.</p>")
	b.WriteString("</body></html>")
	return b.String()
}
