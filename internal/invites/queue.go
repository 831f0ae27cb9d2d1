// Package invites delivers CarePrep form links to patients asynchronously:
// a publisher enqueues delivery jobs, a worker pool consumes them and sends
// the email, and a DynamoDB store tracks job state.
package invites

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/practicepulse/careprep-platform/internal/intake"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type deliveryPayload struct {
	JobID    string                `json:"job_id"`
	Delivery intake.InviteDelivery `json:"delivery"`
}

func encodePayload(payload deliveryPayload) (deliveryPayload, string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return deliveryPayload{}, "", fmt.Errorf("invites: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
