package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/practicepulse/careprep-platform/cmd/mainconfig"
	appconfig "github.com/practicepulse/careprep-platform/internal/config"
	"github.com/practicepulse/careprep-platform/internal/invites"
	"github.com/practicepulse/careprep-platform/internal/notify"
	"github.com/practicepulse/careprep-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("invite worker cannot run when USE_MEMORY_QUEUE=true; the API process runs inline workers instead")
		os.Exit(1)
	}

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsConfig)
	queue := invites.NewSQSQueue(sqsClient, cfg.InviteQueueURL)
	dynamoClient := dynamodb.NewFromConfig(awsConfig)
	jobStore := invites.NewJobStore(dynamoClient, cfg.InviteJobsTable, logger)

	sender, providerName := buildEmailSender(cfg, awsConfig, logger)
	mailer := notify.NewInviteMailer(sender, providerName, logger)

	worker := invites.NewWorker(
		queue,
		mailer,
		logger,
		invites.WithWorkerCount(cfg.WorkerCount),
		invites.WithJobUpdater(jobStore),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	logger.Info("invite worker started", "queue_url", cfg.InviteQueueURL, "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down invite worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("invite worker stopped")
	case <-doneCtx.Done():
		logger.Error("invite worker shutdown timed out", "error", doneCtx.Err())
	}
}

func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	switch cfg.EmailProvider {
	case "ses":
		if cfg.SESFromEmail == "" {
			logger.Warn("SES_FROM_EMAIL not set, using stub email sender")
			return notify.NewStubEmailSender(logger), "stub"
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
		return sender, "ses"
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			logger.Warn("SENDGRID_API_KEY not set, using stub email sender")
			return notify.NewStubEmailSender(logger), "stub"
		}
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		return sender, "sendgrid"
	default:
		return notify.NewStubEmailSender(logger), "stub"
	}
}
