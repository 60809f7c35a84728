package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"triage-agent/handler"
	"triage-agent/internal/config"
	"triage-agent/internal/dedup"
	"triage-agent/internal/guard"
	"triage-agent/internal/hashing"
	"triage-agent/internal/integrations/natsbus"
	"triage-agent/internal/integrations/openai"
	"triage-agent/internal/integrations/paramstore"
	"triage-agent/internal/integrations/whatsapp"
	"triage-agent/internal/logger"
	"triage-agent/internal/repository"
	"triage-agent/internal/repository/sqlstore"
	"triage-agent/internal/tracer"
	"triage-agent/internal/usecase"
)

const (
	openAITokenParam   = "/open-ai-token"
	whatsAppTokenParam = "/whatsapp-token"

	dedupTTL = 24 * time.Hour
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{AppName: "triage-agent", Production: true}).Fatal("failed to load config", zap.Error(err))
	}

	log := logger.New(logger.Options{
		AppName:    cfg.App.Name,
		Production: cfg.IsProduction(),
		FilePath:   cfg.App.LogFilePath,
	})
	defer func() { _ = log.Sync() }()

	shutdownTracer, err := tracer.Init(ctx, tracer.Options{
		Enabled:     cfg.Telemetry.OtelEnabled,
		Endpoint:    cfg.Telemetry.OtelEndpoint,
		ServiceName: cfg.App.Name,
	}, log)
	if err != nil {
		log.Fatal("failed to init tracer", zap.Error(err))
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = 3
			o.MaxBackoff = 2 * time.Second
		})
	}))
	if err != nil {
		log.Fatal("failed to load AWS config", zap.Error(err))
	}

	// ---- Clients ----
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		log.Fatal("failed to create SSM client", zap.Error(err))
	}
	llmToken, err := paramstore.NewTokenSource(params, cfg.App.ParamPrefix+openAITokenParam)
	if err != nil {
		log.Fatal("failed to create OpenAI token source", zap.Error(err))
	}
	llmOpts := []openai.Option{openai.WithTemperature(cfg.LLM.Temperature)}
	if cfg.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}
	llm, err := openai.NewClient(llmToken, llmOpts...)
	if err != nil {
		log.Fatal("failed to create OpenAI client", zap.Error(err))
	}

	store, err := newStore(ctx, cfg.Storage, awsCfg)
	if err != nil {
		log.Fatal("failed to create store", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
	}

	// ---- Use cases ----
	truncation, err := usecase.ParseTruncationPolicy(cfg.Dialogue.HistoryTruncation)
	if err != nil {
		log.Fatal("invalid history truncation policy", zap.Error(err))
	}
	extraction, err := usecase.ParseExtractionFailurePolicy(cfg.Dialogue.ExtractionFailurePolicy)
	if err != nil {
		log.Fatal("invalid extraction failure policy", zap.Error(err))
	}

	triageOpts := []usecase.Option{
		usecase.WithLogger(log),
		usecase.WithGuard(guard.New(cfg.Dialogue.EmergencyPhrases...)),
	}
	var bus *natsbus.Publisher
	if cfg.Messaging.NatsURL != "" {
		bus, err = natsbus.Connect(ctx, cfg.Messaging.NatsURL, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		triageOpts = append(triageOpts, usecase.WithPublisher(bus))
	}

	triage, err := usecase.NewTriageService(llm, store, usecase.Config{
		Model:                cfg.LLM.Model,
		HistoryLimit:         cfg.Dialogue.HistoryLimit,
		Truncation:           truncation,
		ExtractionFailure:    extraction,
		MaxMessageLength:     cfg.Dialogue.MaxMessageLength,
		StorageRetryAttempts: cfg.Storage.RetryAttempts,
	}, triageOpts...)
	if err != nil {
		log.Fatal("failed to create triage service", zap.Error(err))
	}

	// ---- Handler ----
	handlerOpts := []handler.Option{handler.WithLogger(log)}
	if cfg.WhatsApp.Enabled() {
		inbound, err := newMessaging(cfg, params, triage, log)
		if err != nil {
			log.Fatal("failed to create messaging service", zap.Error(err))
		}
		handlerOpts = append(handlerOpts, handler.WithWebhook(inbound, handler.WebhookConfig{
			VerifyToken: cfg.WhatsApp.VerifyToken,
			AppSecret:   cfg.WhatsApp.AppSecret,
		}))
	}

	h, err := handler.NewHandler(triage, handlerOpts...)
	if err != nil {
		log.Fatal("failed to create handler", zap.Error(err))
	}

	log.Info("starting",
		zap.String("env", cfg.App.Environment),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("history_truncation", string(truncation)),
		zap.String("extraction_failure_policy", string(extraction)),
		zap.Bool("whatsapp", cfg.WhatsApp.Enabled()),
	)

	lambda.StartWithOptions(h.Handle, lambda.WithEnableSIGTERM(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
		if bus != nil {
			bus.Close()
		}
		_ = log.Sync()
	}))
}

func newStore(ctx context.Context, cfg config.StorageConfig, awsCfg aws.Config) (usecase.Store, error) {
	if cfg.Driver == config.DriverDynamoDB {
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithTTL(cfg.StateTTL))
	}

	db, err := sqlstore.Open(cfg.Driver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.New(db)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newMessaging(cfg *config.Config, params paramstore.Getter, turns usecase.TurnHandler, log *zap.Logger) (*usecase.MessagingService, error) {
	token, err := paramstore.NewTokenSource(params, cfg.App.ParamPrefix+whatsAppTokenParam)
	if err != nil {
		return nil, err
	}
	client, err := whatsapp.NewClient(token, cfg.WhatsApp.PhoneNumberID)
	if err != nil {
		return nil, err
	}
	hasher, err := hashing.New(cfg.WhatsApp.HashSalt)
	if err != nil {
		return nil, err
	}

	var claims usecase.Deduper
	if cfg.Messaging.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Messaging.RedisURL)
		if err != nil {
			return nil, err
		}
		claims, err = dedup.NewRedisDeduper(redis.NewClient(opts), dedupTTL)
		if err != nil {
			return nil, err
		}
	} else {
		log.Info("REDIS_URL not set, inbound dedup is per instance")
		claims = dedup.NewMemoryDeduper(dedupTTL)
	}

	return usecase.NewMessagingService(turns, client, hasher, claims, log)
}
