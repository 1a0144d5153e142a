package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/yungbote/sitegen-backend/internal/orchestrator"
	"github.com/yungbote/sitegen-backend/internal/queue"
	"github.com/yungbote/sitegen-backend/internal/temporalx"
)

const BackendTemporal = "temporal"

type Config struct {
	LogMode     string `env:"LOG_MODE" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"sitegen"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Version     string `env:"VERSION"`

	DatabaseDriver    string        `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	QueueBackend           string        `env:"QUEUE_BACKEND" envDefault:"redis"`
	WorkerConcurrency      int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	QueueMaxReceives       int           `env:"QUEUE_MAX_RECEIVES" envDefault:"5"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" envDefault:"11m"`
	RedisAddr              string        `env:"REDIS_ADDR"`
	RedisPassword          string        `env:"REDIS_PASSWORD"`
	RedisDB                int           `env:"REDIS_DB" envDefault:"0"`
	RedisStream            string        `env:"REDIS_STREAM" envDefault:"sitegen:generation"`
	RedisGroup             string        `env:"REDIS_GROUP" envDefault:"generation-workers"`
	SQSQueueURL            string        `env:"SQS_QUEUE_URL"`
	SQSEndpoint            string        `env:"SQS_ENDPOINT"`
	AWSRegion              string        `env:"AWS_REGION" envDefault:"us-east-1"`

	Temporal temporalx.Config

	PaymentWebhookSecret    string        `env:"PAYMENT_WEBHOOK_SECRET"`
	DeploymentWebhookSecret string        `env:"DEPLOYMENT_WEBHOOK_SECRET"`
	SignatureTolerance      time.Duration `env:"WEBHOOK_SIGNATURE_TOLERANCE" envDefault:"5m"`

	GitHubBaseURL     string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`
	GitHubToken       string `env:"GITHUB_TOKEN"`
	GitHubOwner       string `env:"GITHUB_OWNER"`
	GitHubRepo        string `env:"GITHUB_REPO"`
	GitHubBranch      string `env:"GITHUB_BRANCH" envDefault:"main"`
	GitHubAuthorName  string `env:"GITHUB_AUTHOR_NAME" envDefault:"sitegen"`
	GitHubAuthorEmail string `env:"GITHUB_AUTHOR_EMAIL"`

	ObjectStorageMode   string `env:"OBJECT_STORAGE_MODE"`
	StorageEmulatorHost string `env:"STORAGE_EMULATOR_HOST"`
	SitesBucket         string `env:"SITES_GCS_BUCKET"`
	SitesCDNDomain      string `env:"SITES_CDN_DOMAIN"`
	SitesPublicBaseURL  string `env:"SITES_PUBLIC_BASE_URL"`
	GCPCredentials      string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	GCPProjectID        string `env:"GCP_PROJECT_ID"`
	CDNURLMap           string `env:"CDN_URL_MAP"`
	SiteURLPattern      string `env:"SITE_URL_PATTERN"`

	ImageMaxBytes    int `env:"IMAGE_MAX_BYTES" envDefault:"1048576"`
	ImageMaxPixels   int `env:"IMAGE_MAX_PIXELS" envDefault:"40000000"`
	ImageConcurrency int `env:"IMAGE_UPLOAD_CONCURRENCY" envDefault:"4"`

	SendGridAPIKey    string `env:"SENDGRID_API_KEY"`
	SendGridBaseURL   string `env:"SENDGRID_BASE_URL"`
	SendGridFromEmail string `env:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string `env:"SENDGRID_FROM_NAME" envDefault:"Sitegen"`

	JWTSecret     string        `env:"JWT_SECRET"`
	EditTokenTTL  time.Duration `env:"EDIT_TOKEN_TTL" envDefault:"720h"`
	EditorBaseURL string        `env:"EDITOR_BASE_URL"`
	CORSOrigins   []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	OperationTTL   time.Duration `env:"OPERATION_TTL" envDefault:"168h"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"168h"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"15m"`

	GenerationTimeout    time.Duration `env:"GENERATION_TIMEOUT" envDefault:"10m"`
	GenerationMaxRetries int           `env:"GENERATION_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay       time.Duration `env:"GENERATION_RETRY_BASE_DELAY" envDefault:"2s"`
	RetryMaxDelay        time.Duration `env:"GENERATION_RETRY_MAX_DELAY" envDefault:"8s"`

	OtelEnabled     bool              `env:"OTEL_ENABLED" envDefault:"false"`
	OtelEndpoint    string            `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelHeaders     map[string]string `env:"OTEL_EXPORTER_OTLP_HEADERS"`
	OtelInsecure    bool              `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
	OtelSampleRatio float64           `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// LoadConfig reads .env (when present) and the environment.
func LoadConfig() (Config, error) {
	if path := strings.TrimSpace(os.Getenv("ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.QueueBackend = strings.ToLower(strings.TrimSpace(cfg.QueueBackend))
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.QueueBackend {
	case queue.BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("QUEUE_BACKEND=redis requires REDIS_ADDR"))
		}
	case queue.BackendSQS:
		if strings.TrimSpace(c.SQSQueueURL) == "" {
			errs = append(errs, errors.New("QUEUE_BACKEND=sqs requires SQS_QUEUE_URL"))
		}
	case BackendTemporal:
		if !c.Temporal.Enabled() {
			errs = append(errs, errors.New("QUEUE_BACKEND=temporal requires TEMPORAL_ADDRESS"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency))
	}
	if c.GenerationMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("GENERATION_MAX_RETRIES must be >= 0, got %d", c.GenerationMaxRetries))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) GenerationPolicy() orchestrator.Policy {
	return orchestrator.Policy{
		MaxRetries: c.GenerationMaxRetries,
		BaseDelay:  c.RetryBaseDelay,
		Factor:     2,
		MaxDelay:   c.RetryMaxDelay,
		Timeout:    c.GenerationTimeout,
	}
}

// RunWindow bounds one generation run including its final status write.
// A processing claim older than this belongs to a dead worker.
func (c Config) RunWindow() time.Duration {
	return c.GenerationTimeout + time.Minute
}

// RedisVisibility is how long a delivered message stays with its consumer
// before another may take it over. It never ends inside a live run.
func (c Config) RedisVisibility() time.Duration {
	if c.QueueVisibilityTimeout < c.RunWindow() {
		return c.RunWindow()
	}
	return c.QueueVisibilityTimeout
}

// ValidateServer checks the settings only the HTTP server needs.
func (c Config) ValidateServer() error {
	var errs []error
	if c.PaymentWebhookSecret == "" {
		errs = append(errs, errors.New("missing PAYMENT_WEBHOOK_SECRET"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("missing JWT_SECRET"))
	}
	return errors.Join(errs...)
}
