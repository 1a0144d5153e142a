package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

// CDNInvalidator purges cached copies of a published project.
type CDNInvalidator interface {
	InvalidateProject(ctx context.Context, project string) error
}

type CDNConfig struct {
	ProjectID   string
	URLMap      string
	Credentials string
	// Endpoint overrides the Compute API base URL.
	Endpoint string
}

type CDN struct {
	log       *logger.Logger
	svc       *compute.Service
	projectID string
	urlMap    string
}

// NewCDN returns nil when no URL map is configured; a nil *CDN is a no-op.
func NewCDN(ctx context.Context, log *logger.Logger, cfg CDNConfig) (*CDN, error) {
	if strings.TrimSpace(cfg.URLMap) == "" || strings.TrimSpace(cfg.ProjectID) == "" {
		log.Info("CDN invalidation disabled")
		return nil, nil
	}
	opts := ClientOptions(cfg.Credentials)
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create compute client: %w", err)
	}
	return &CDN{
		log:       log.With("service", "CDN"),
		svc:       svc,
		projectID: cfg.ProjectID,
		urlMap:    cfg.URLMap,
	}, nil
}

func InvalidationPath(project string) string {
	return "/projects/" + project + "/*"
}

func (c *CDN) InvalidateProject(ctx context.Context, project string) error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rule := &compute.CacheInvalidationRule{Path: InvalidationPath(project)}
	op, err := c.svc.UrlMaps.InvalidateCache(c.projectID, c.urlMap, rule).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("invalidate %s: %w", rule.Path, err)
	}
	c.log.Info("CDN invalidation requested", "path", rule.Path, "operation", op.Name, "status", op.Status)
	return nil
}
