// Package publish writes generated sites to the artifact repository and
// mirrors them to the serving bucket.
package publish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/sitegen-backend/internal/observability"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

const (
	cacheControlPage = "public, max-age=60"
	projectToken     = "{project}"
)

// Repository is the versioned artifact store.
type Repository interface {
	FileSHA(ctx context.Context, path string) (string, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	CommitFiles(ctx context.Context, files map[string][]byte, message string) (string, error)
	PutFile(ctx context.Context, path string, content []byte, message, priorSHA string) (string, error)
}

// ObjectStore is the serving bucket.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, cacheControl string) error
	PublicURL(key string) string
}

// Invalidator purges CDN caches for a project.
type Invalidator interface {
	InvalidateProject(ctx context.Context, project string) error
}

type Config struct {
	// SiteURLPattern builds the live URL, e.g. https://{project}.sites.example.com.
	// Empty uses the object store's public URL for the index page.
	SiteURLPattern string
}

type Input struct {
	Project     string
	OperationID uuid.UUID
	OwnerEmail  string
	HTML        []byte
}

type Result struct {
	FirstPublish bool   `json:"firstPublish"`
	SiteURL      string `json:"siteUrl"`
	CommitSHA    string `json:"commitSha"`
}

type Publisher struct {
	repo    Repository
	store   ObjectStore
	cdn     Invalidator
	log     *logger.Logger
	metrics *observability.Metrics
	cfg     Config
}

func New(repo Repository, store ObjectStore, cdn Invalidator, log *logger.Logger, metrics *observability.Metrics, cfg Config) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{repo: repo, store: store, cdn: cdn, log: log.With("service", "Publisher"), metrics: metrics, cfg: cfg}
}

func IndexPath(project string) string { return "projects/" + project + "/index.html" }

func OwnerMarkerPath(project string) string { return "projects/" + project + "/.owner-marker" }

func EmailHash(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func OwnerMarker(operationID uuid.UUID, email string) []byte {
	return []byte(fmt.Sprintf("operation_id=%s\nowner_email_sha256=%s\n", operationID, EmailHash(email)))
}

// Publish commits the page to the repository, then mirrors it to the object
// store and requests a CDN purge. The first publish of a project is one
// commit carrying the page and the owner marker; later publishes update the
// page guarded by its current blob sha.
func (p *Publisher) Publish(ctx context.Context, in Input) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "publish", attribute.String("project", in.Project))
	defer span.End()

	path := IndexPath(in.Project)
	priorSHA, err := p.repo.FileSHA(ctx, path)
	if err != nil {
		p.metrics.IncPublish("repository", "error")
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}

	res := &Result{FirstPublish: priorSHA == ""}
	if res.FirstPublish {
		res.CommitSHA, err = p.repo.CommitFiles(ctx, map[string][]byte{
			path:                        in.HTML,
			OwnerMarkerPath(in.Project): OwnerMarker(in.OperationID, in.OwnerEmail),
		}, fmt.Sprintf("Publish %s", in.Project))
	} else {
		var marker ownerMarker
		marker, err = p.checkOwner(ctx, in)
		if err != nil {
			p.metrics.IncPublish("repository", "rejected")
			return nil, err
		}
		// A retry of the operation that made the first commit is still its
		// first publish.
		res.FirstPublish = marker.OperationID == in.OperationID.String()
		res.CommitSHA, err = p.repo.PutFile(ctx, path, in.HTML, fmt.Sprintf("Update %s", in.Project), priorSHA)
	}
	if err != nil {
		p.metrics.IncPublish("repository", "error")
		return nil, fmt.Errorf("commit %s: %w", in.Project, err)
	}
	p.metrics.IncPublish("repository", "ok")
	span.SetAttributes(attribute.Bool("first_publish", res.FirstPublish), attribute.String("commit_sha", res.CommitSHA))

	if err := p.mirror(ctx, in.Project, in.HTML); err != nil {
		return nil, err
	}
	p.invalidate(ctx, in.Project)

	res.SiteURL = p.SiteURL(in.Project)
	p.log.Info("site published",
		"project", in.Project,
		"operation_id", in.OperationID,
		"first_publish", res.FirstPublish,
		"commit_sha", res.CommitSHA,
	)
	return res, nil
}

type ownerMarker struct {
	OperationID string
	EmailHash   string
}

func parseOwnerMarker(raw []byte) ownerMarker {
	var m ownerMarker
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "operation_id="); ok {
			m.OperationID = v
		} else if v, ok := strings.CutPrefix(line, "owner_email_sha256="); ok {
			m.EmailHash = v
		}
	}
	return m
}

// checkOwner rejects a republish by a different owner and returns the
// project's marker. A project without a marker is treated as unowned.
func (p *Publisher) checkOwner(ctx context.Context, in Input) (ownerMarker, error) {
	raw, err := p.repo.ReadFile(ctx, OwnerMarkerPath(in.Project))
	if err != nil {
		if apperrors.ClassOf(err) == apperrors.ClassNotFound {
			return ownerMarker{}, nil
		}
		return ownerMarker{}, fmt.Errorf("read owner marker: %w", err)
	}
	m := parseOwnerMarker(raw)
	if m.EmailHash != "" && m.EmailHash != EmailHash(in.OwnerEmail) {
		return m, apperrors.Validationf("project %q is owned by another account", in.Project)
	}
	return m, nil
}

func (p *Publisher) mirror(ctx context.Context, project string, html []byte) error {
	key := IndexPath(project)
	if err := p.store.Upload(ctx, key, bytes.NewReader(html), cacheControlPage); err != nil {
		p.metrics.IncPublish("object_store", "error")
		return apperrors.Transientf("mirror %s: %v", key, err)
	}
	p.metrics.IncPublish("object_store", "ok")
	return nil
}

func (p *Publisher) invalidate(ctx context.Context, project string) {
	if p.cdn == nil {
		return
	}
	if err := p.cdn.InvalidateProject(ctx, project); err != nil {
		p.metrics.IncPublish("cdn", "error")
		p.log.Warn("CDN invalidation failed", "project", project, "error", err)
		return
	}
	p.metrics.IncPublish("cdn", "ok")
}

// Reconcile copies the repository's page to the object store. The
// repository is the source of truth.
func (p *Publisher) Reconcile(ctx context.Context, project string) (string, error) {
	ctx, span := observability.StartSpan(ctx, "publish.reconcile", attribute.String("project", project))
	defer span.End()

	html, err := p.repo.ReadFile(ctx, IndexPath(project))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", IndexPath(project), err)
	}
	if err := p.mirror(ctx, project, html); err != nil {
		return "", err
	}
	p.invalidate(ctx, project)
	p.log.Info("project reconciled", "project", project, "bytes", len(html))
	return p.SiteURL(project), nil
}

func (p *Publisher) SiteURL(project string) string {
	if p.cfg.SiteURLPattern != "" {
		return strings.ReplaceAll(p.cfg.SiteURLPattern, projectToken, project)
	}
	return p.store.PublicURL(IndexPath(project))
}
