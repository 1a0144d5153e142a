package app

import (
	"context"
	"fmt"
	"io"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/sitegen-backend/internal/platform/gcp"
	"github.com/yungbote/sitegen-backend/internal/platform/github"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/platform/sendgrid"
	"github.com/yungbote/sitegen-backend/internal/queue"
	"github.com/yungbote/sitegen-backend/internal/temporalx"
)

type Clients struct {
	Repo     *github.Client
	Store    gcp.ObjectStore
	CDN      *gcp.CDN
	Mailer   sendgrid.Mailer
	Redis    *goredis.Client
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	repo, err := github.New(log, github.Config{
		BaseURL:     cfg.GitHubBaseURL,
		Token:       cfg.GitHubToken,
		Owner:       cfg.GitHubOwner,
		Repo:        cfg.GitHubRepo,
		Branch:      cfg.GitHubBranch,
		AuthorName:  cfg.GitHubAuthorName,
		AuthorEmail: cfg.GitHubAuthorEmail,
	})
	if err != nil {
		return c, fmt.Errorf("init github client: %w", err)
	}
	c.Repo = repo

	store, err := resolveObjectStore(ctx, log, cfg)
	if err != nil {
		return c, err
	}
	c.Store = store

	cdn, err := gcp.NewCDN(ctx, log, gcp.CDNConfig{
		ProjectID:   cfg.GCPProjectID,
		URLMap:      cfg.CDNURLMap,
		Credentials: cfg.GCPCredentials,
	})
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init cdn client: %w", err)
	}
	c.CDN = cdn

	if cfg.SendGridAPIKey != "" {
		mailer, err := sendgrid.New(log, sendgrid.Config{
			APIKey:    cfg.SendGridAPIKey,
			BaseURL:   cfg.SendGridBaseURL,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		})
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init sendgrid client: %w", err)
		}
		c.Mailer = mailer
	} else {
		log.Warn("SENDGRID_API_KEY not set; email is logged, not sent")
		c.Mailer = logMailer{log: log.With("client", "LogMailer")}
	}

	switch cfg.QueueBackend {
	case queue.BackendRedis:
		rdb, err := queue.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = rdb
	case BackendTemporal:
		tc, err := temporalx.NewClient(log, cfg.Temporal)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init temporal: %w", err)
		}
		c.Temporal = tc
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if closer, ok := c.Store.(io.Closer); ok {
		_ = closer.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
}

// logMailer stands in for SendGrid in local runs.
type logMailer struct {
	log *logger.Logger
}

func (m logMailer) Send(ctx context.Context, msg sendgrid.Message) (*sendgrid.SendResult, error) {
	m.log.Info("email suppressed", "to", msg.To, "subject", msg.Subject, "body", msg.Text)
	return &sendgrid.SendResult{StatusCode: 202}, nil
}
