package invites

import (
	"context"
	"fmt"

	"github.com/practicepulse/careprep-platform/internal/intake"
	"github.com/practicepulse/careprep-platform/pkg/logging"
)

// Publisher enqueues invite delivery jobs for asynchronous processing.
type Publisher struct {
	queue  queueClient
	jobs   JobRecorder
	logger *logging.Logger
}

var _ intake.DeliveryPublisher = (*Publisher)(nil)

// NewPublisher creates a queue-backed publisher. Jobs may be nil when job
// tracking is not configured.
func NewPublisher(queue queueClient, jobs JobRecorder, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("invites: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		jobs:   jobs,
		logger: logger,
	}
}

// EnqueueInvite publishes one delivery job and returns its job ID.
func (p *Publisher) EnqueueInvite(ctx context.Context, delivery intake.InviteDelivery) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, body, err := encodePayload(deliveryPayload{Delivery: delivery})
	if err != nil {
		return "", err
	}

	if p.jobs != nil {
		if err := p.jobs.PutPending(ctx, &JobRecord{
			JobID:    payload.JobID,
			InviteID: delivery.InviteID,
			Email:    delivery.Email,
		}); err != nil {
			return "", err
		}
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("invites: failed to enqueue delivery: %w", err)
	}

	p.logger.Debug("invite delivery enqueued", "job_id", payload.JobID, "invite_id", delivery.InviteID)
	return payload.JobID, nil
}
