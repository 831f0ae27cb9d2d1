package invites

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/practicepulse/careprep-platform/internal/intake"
	"github.com/practicepulse/careprep-platform/internal/observability/metrics"
	"github.com/practicepulse/careprep-platform/pkg/logging"
)

// InviteEmailer sends the form link email for one delivery job.
type InviteEmailer interface {
	SendInviteEmail(ctx context.Context, delivery intake.InviteDelivery) (provider string, err error)
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	jobs             JobUpdater
	metrics          *metrics.IntakeMetrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithJobUpdater wires a job store for tracking delivery outcomes.
func WithJobUpdater(jobs JobUpdater) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.jobs = jobs
	}
}

// WithMetrics wires delivery metrics.
func WithMetrics(m *metrics.IntakeMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// Worker consumes delivery jobs from the queue and sends invite emails.
type Worker struct {
	queue   queueClient
	emailer InviteEmailer
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

// NewWorker creates a delivery worker pool.
func NewWorker(queue queueClient, emailer InviteEmailer, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("invites: queue cannot be nil")
	}
	if emailer == nil {
		panic("invites: emailer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		queue:   queue,
		emailer: emailer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches the consumer goroutines. They run until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all consumers have stopped.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("invite delivery worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("invite delivery worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive delivery jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload deliveryPayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		// A payload that never decodes would redeliver forever.
		w.logger.Error("failed to decode delivery job", "error", err)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	provider, err := w.emailer.SendInviteEmail(ctx, payload.Delivery)
	if err != nil {
		w.logger.Error("invite email failed",
			"error", err,
			"job_id", payload.JobID,
			"invite_id", payload.Delivery.InviteID,
		)
		w.cfg.metrics.ObserveDelivery(provider, "failed")
		w.markFailed(ctx, payload.JobID, err)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	w.logger.Info("invite email sent",
		"job_id", payload.JobID,
		"invite_id", payload.Delivery.InviteID,
		"provider", provider,
	)
	w.cfg.metrics.ObserveDelivery(provider, "sent")
	w.markSent(ctx, payload.JobID, provider)
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) markSent(ctx context.Context, jobID, provider string) {
	if w.cfg.jobs == nil || jobID == "" {
		return
	}
	if err := w.cfg.jobs.MarkSent(ctx, jobID, provider); err != nil {
		w.logger.Error("failed to mark delivery sent", "error", err, "job_id", jobID)
	}
}

func (w *Worker) markFailed(ctx context.Context, jobID string, cause error) {
	if w.cfg.jobs == nil || jobID == "" {
		return
	}
	if err := w.cfg.jobs.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		w.logger.Error("failed to mark delivery failed", "error", err, "job_id", jobID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete delivery job", "error", err)
	}
}
