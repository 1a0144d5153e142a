package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/sitegen-backend/internal/data/db"
	"github.com/yungbote/sitegen-backend/internal/data/repos"
	"github.com/yungbote/sitegen-backend/internal/generation"
	apphttp "github.com/yungbote/sitegen-backend/internal/http"
	httpH "github.com/yungbote/sitegen-backend/internal/http/handlers"
	httpMW "github.com/yungbote/sitegen-backend/internal/http/middleware"
	"github.com/yungbote/sitegen-backend/internal/imageproc"
	"github.com/yungbote/sitegen-backend/internal/ingestion"
	"github.com/yungbote/sitegen-backend/internal/notify"
	"github.com/yungbote/sitegen-backend/internal/observability"
	"github.com/yungbote/sitegen-backend/internal/orchestrator"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/publish"
	"github.com/yungbote/sitegen-backend/internal/queue"
	"github.com/yungbote/sitegen-backend/internal/services"
	"github.com/yungbote/sitegen-backend/internal/templatecache"
	temporalgen "github.com/yungbote/sitegen-backend/internal/temporalx/generation"
	"github.com/yungbote/sitegen-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log     *logger.Logger
	Cfg     Config
	DB      *gorm.DB
	Repos   repos.Repos
	Metrics *observability.Metrics
	Clients Clients

	Auth         services.AuthService
	Operations   services.OperationService
	Confirmation services.ConfirmationService
	Reaper       *services.Reaper
	Publisher    *publish.Publisher
	Runner       *orchestrator.Runner
	Producer     queue.Producer

	store        *db.Service
	redisQueue   *queue.RedisQueue
	otelShutdown func(context.Context) error
	closeOnce    sync.Once
}

// New loads configuration and wires every component. Callers must Close.
func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{Log: log, Cfg: cfg}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, log := a.Cfg, a.Log

	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
		Endpoint:    cfg.OtelEndpoint,
		Headers:     cfg.OtelHeaders,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampleRatio,
	})
	a.Metrics = observability.Init(log)

	store, err := db.NewService(log, db.Config{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("init metadata store: %w", err)
	}
	a.store = store
	a.DB = store.DB()
	if err := db.AutoMigrateAll(a.DB); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	a.Repos = repos.New(a.DB, log)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		return err
	}
	a.Clients = clients

	if err := a.wireProducer(ctx); err != nil {
		return err
	}

	auth, err := services.NewAuthService(services.AuthConfig{
		JWTSecret:    cfg.JWTSecret,
		EditTokenTTL: cfg.EditTokenTTL,
		EditBaseURL:  cfg.EditorBaseURL,
	})
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	a.Auth = auth
	a.Operations = services.NewOperationService(a.DB, log, a.Repos, a.Producer, cfg.OperationTTL, cfg.IdempotencyTTL)
	a.Confirmation = services.NewConfirmationService(log, a.Repos, clients.Mailer)
	a.Reaper = services.NewReaper(log, a.Repos, cfg.RunWindow())

	templates := templatecache.New(clients.Repo, log, a.Metrics)
	images := imageproc.New(clients.Store, log, a.Metrics, imageproc.Config{
		MaxBytes:    cfg.ImageMaxBytes,
		MaxPixels:   cfg.ImageMaxPixels,
		Concurrency: cfg.ImageConcurrency,
	})
	var cdn publish.Invalidator
	if clients.CDN != nil {
		cdn = clients.CDN
	}
	a.Publisher = publish.New(clients.Repo, clients.Store, cdn, log, a.Metrics, publish.Config{
		SiteURLPattern: cfg.SiteURLPattern,
	})
	pipeline := generation.New(templates, images, a.Publisher, log)
	notifier := notify.New(log, clients.Mailer, a.Repos.Idempotency, auth, 0)
	a.Runner = orchestrator.NewRunner(log, a.Repos.Operation, pipeline, notifier, a.Metrics, cfg.GenerationPolicy())
	return nil
}

func (a *App) wireProducer(ctx context.Context) error {
	cfg := a.Cfg
	switch cfg.QueueBackend {
	case queue.BackendRedis:
		a.redisQueue = queue.NewRedisQueue(a.Clients.Redis, queue.RedisConfig{
			Stream:            cfg.RedisStream,
			Group:             cfg.RedisGroup,
			MaxReceives:       cfg.QueueMaxReceives,
			VisibilityTimeout: cfg.RedisVisibility(),
			MaxVisibility:     4 * cfg.RedisVisibility(),
		}, a.Log, a.Metrics)
		if err := a.redisQueue.EnsureGroup(ctx); err != nil {
			return err
		}
		a.Producer = a.redisQueue
	case queue.BackendSQS:
		client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSEndpoint)
		if err != nil {
			return fmt.Errorf("init sqs: %w", err)
		}
		a.Producer = queue.NewSQSProducer(client, cfg.SQSQueueURL, a.Log, a.Metrics)
	case BackendTemporal:
		a.Producer = temporalgen.NewStarter(a.Clients.Temporal, cfg.Temporal.TaskQueue, cfg.GenerationPolicy(), a.Log)
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	return nil
}

// HandleMessage runs generation for one queue message. A non-nil error
// leaves the message for redelivery.
func (a *App) HandleMessage(ctx context.Context, m queue.Message) error {
	run := a.Runner.Run
	if m.Manual() {
		run = a.Runner.RunManual
	}
	_, err := run(ctx, m.OperationID)
	return err
}

// Regenerate runs generation for id in-process and reports the final state.
func (a *App) Regenerate(ctx context.Context, id uuid.UUID) (orchestrator.State, error) {
	return a.Runner.RunManual(ctx, id)
}

func (a *App) Router() *apphttp.Server {
	cfg := a.Cfg
	payment := ingestion.NewPaymentIngestor(a.Log, a.Repos, a.Producer, a.Metrics, ingestion.PaymentConfig{
		Secret:         cfg.PaymentWebhookSecret,
		Tolerance:      cfg.SignatureTolerance,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	deployment := ingestion.NewDeploymentIngestor(a.Log, a.Repos, a.Metrics, ingestion.DeploymentConfig{
		Secret: cfg.DeploymentWebhookSecret,
		Branch: cfg.GitHubBranch,
	})
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:                 a.Log,
		Metrics:             a.Metrics,
		ServiceName:         cfg.ServiceName,
		CORSOrigins:         cfg.CORSOrigins,
		AuthMiddleware:      httpMW.NewAuthMiddleware(a.Log, a.Auth),
		WebhookHandler:      httpH.NewWebhookHandler(payment, deployment),
		OperationHandler:    httpH.NewOperationHandler(a.Operations),
		AdminHandler:        httpH.NewAdminHandler(a.Operations, a.Publisher),
		ConfirmationHandler: httpH.NewConfirmationHandler(a.Confirmation),
		HealthHandler: httpH.NewHealthHandler(func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	})
}

// RunServer serves HTTP and the reaper until ctx is done.
func (a *App) RunServer(ctx context.Context) error {
	if err := a.Cfg.ValidateServer(); err != nil {
		return err
	}
	go a.Reaper.Run(ctx, a.Cfg.ReaperInterval)
	addr := ":" + a.Cfg.Port
	a.Log.Info("HTTP server listening", "addr", addr, "queue_backend", a.Cfg.QueueBackend)
	return a.Router().Run(ctx, addr)
}

// RunWorker consumes generation requests until ctx is done. SQS is consumed
// by the Lambda entrypoint instead.
func (a *App) RunWorker(ctx context.Context) error {
	switch a.Cfg.QueueBackend {
	case queue.BackendRedis:
		w := queue.NewWorker(a.redisQueue, a.HandleMessage, a.Log, a.Metrics, queue.BackendRedis, a.Cfg.WorkerConcurrency)
		w.Run(ctx)
		return nil
	case BackendTemporal:
		r, err := temporalworker.NewRunner(a.Log, a.Clients.Temporal, a.Cfg.Temporal, &temporalgen.Activities{
			Runner: a.Runner,
			Ops:    a.Repos.Operation,
		}, a.Cfg.WorkerConcurrency)
		if err != nil {
			return err
		}
		if err := r.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
	return fmt.Errorf("QUEUE_BACKEND=%s has no in-process worker", a.Cfg.QueueBackend)
}

// SQSHandler is the Lambda entrypoint for QUEUE_BACKEND=sqs.
func (a *App) SQSHandler() func(context.Context, events.SQSEvent) (events.SQSEventResponse, error) {
	return queue.SQSHandler(a.HandleMessage, a.Log, a.Metrics)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		a.Clients.Close()
		if a.store != nil {
			_ = a.store.Close()
		}
		if a.otelShutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = a.otelShutdown(ctx)
			cancel()
		}
		a.Log.Sync()
	})
}
