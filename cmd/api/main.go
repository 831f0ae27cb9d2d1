package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/practicepulse/careprep-platform/cmd/mainconfig"
	"github.com/practicepulse/careprep-platform/internal/api/router"
	"github.com/practicepulse/careprep-platform/internal/compliance"
	appconfig "github.com/practicepulse/careprep-platform/internal/config"
	"github.com/practicepulse/careprep-platform/internal/intake"
	"github.com/practicepulse/careprep-platform/internal/invites"
	"github.com/practicepulse/careprep-platform/internal/notify"
	"github.com/practicepulse/careprep-platform/internal/observability/metrics"
	"github.com/practicepulse/careprep-platform/internal/questionnaire"
	"github.com/practicepulse/careprep-platform/pkg/logging"
)

func main() {
	// Load .env for local development; production injects real env vars.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting careprep-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()
	auditSvc := compliance.NewAuditService(sqlDB)

	signer, err := intake.NewTokenSigner(cfg.TokenSigningSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("failed to build token signer", "error", err)
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	intakeMetrics := metrics.NewIntakeMetrics(nil)

	var contextCache intake.ContextCache
	if redisClient := newRedisClient(ctx, cfg, logger); redisClient != nil {
		contextCache = intake.NewRedisContextCache(redisClient, cfg.ContextCacheTTL)
	}

	generator := buildGenerator(ctx, cfg, awsCfg, intakeMetrics, logger)

	sender, providerName := buildEmailSender(cfg, awsCfg, logger)
	mailer := notify.NewInviteMailer(sender, providerName, logger)

	var (
		publisher    *invites.Publisher
		inlineWorker *invites.Worker
	)
	if cfg.UseMemoryQueue {
		// Local development: in-memory queue with an in-process worker, no
		// DynamoDB job tracking.
		queue := invites.NewMemoryQueue(100)
		publisher = invites.NewPublisher(queue, nil, logger)
		inlineWorker = invites.NewWorker(queue, mailer, logger,
			invites.WithWorkerCount(cfg.WorkerCount),
			invites.WithMetrics(intakeMetrics),
		)
	} else {
		sqsClient := sqs.NewFromConfig(awsCfg)
		queue := invites.NewSQSQueue(sqsClient, cfg.InviteQueueURL)
		dynamoClient := dynamodb.NewFromConfig(awsCfg)
		jobStore := invites.NewJobStore(dynamoClient, cfg.InviteJobsTable, logger)
		publisher = invites.NewPublisher(queue, jobStore, logger)
	}

	service := intake.NewService(intake.ServiceConfig{
		Repo:          intake.NewPostgresRepository(pool),
		Signer:        signer,
		Cache:         contextCache,
		Audit:         auditSvc,
		Publisher:     publisher,
		Metrics:       intakeMetrics,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
	})
	intakeHandler := intake.NewHandler(service, generator, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		IntakeHandler:      intakeHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if inlineWorker != nil {
		inlineWorker.Start(workerCtx)
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if inlineWorker != nil {
		stopWorker()
		inlineWorker.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// newRedisClient connects the token context cache. Redis is optional: when it
// is unreachable the API serves without a cache and every resolve hits
// postgres.
func newRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available, token context cache disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// buildGenerator picks the questionnaire generator: Gemini with a Bedrock
// fallback when both are configured, either alone otherwise, and the static
// question set when no LLM is configured or QUESTIONNAIRE_STATIC is set.
func buildGenerator(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, m *metrics.IntakeMetrics, logger *logging.Logger) intake.QuestionGenerator {
	if cfg.StaticGeneration {
		logger.Info("questionnaire generation: static question set")
		return questionnaire.StaticGenerator{}
	}

	var llm questionnaire.LLMClient
	if cfg.GeminiAPIKey != "" {
		gemini, err := questionnaire.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to build Gemini client", "error", err)
		} else {
			llm = gemini
		}
	}
	if cfg.BedrockModelID != "" {
		bedrock := questionnaire.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
		if llm != nil {
			llm = questionnaire.NewFallbackLLMClient(llm, bedrock, logger)
		} else {
			llm = bedrock
		}
	}
	if llm == nil {
		logger.Warn("no LLM configured, falling back to static question set")
		return questionnaire.StaticGenerator{}
	}

	return questionnaire.NewLLMGenerator(questionnaire.LLMGeneratorConfig{
		LLM:          llm,
		ModelID:      cfg.BedrockModelID,
		MaxQuestions: cfg.MaxQuestions,
		Timeout:      cfg.GenerateTimeout,
		Metrics:      m,
		Logger:       logger,
	})
}

// buildEmailSender selects the invite email provider.
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
