package ingestion

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/sitegen-backend/internal/data/db"
	"github.com/yungbote/sitegen-backend/internal/data/repos"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/observability"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

var projectIndexPath = regexp.MustCompile(`^projects/([^/]+)/index\.html$`)

type DeploymentConfig struct {
	Secret string
	Branch string
}

type pushEvent struct {
	Ref     string `json:"ref"`
	After   string `json:"after"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
	} `json:"commits"`
}

// DeploymentResult lists the projects whose latest completed operation was
// marked deployed.
type DeploymentResult struct {
	Outcome  Outcome  `json:"outcome"`
	Deployed []string `json:"deployed"`
}

// DeploymentIngestor confirms deployments from repository push webhooks.
type DeploymentIngestor struct {
	log     *logger.Logger
	ops     repos.OperationRepo
	metrics *observability.Metrics
	cfg     DeploymentConfig
	now     func() time.Time
}

func NewDeploymentIngestor(log *logger.Logger, r repos.Repos, metrics *observability.Metrics, cfg DeploymentConfig) *DeploymentIngestor {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	return &DeploymentIngestor{
		log:     log.With("service", "DeploymentIngestor"),
		ops:     r.Operation,
		metrics: metrics,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle verifies one delivery. Only push events on the configured branch
// change state; everything else is acknowledged as ignored.
func (d *DeploymentIngestor) Handle(ctx context.Context, eventType, signature string, body []byte) (DeploymentResult, error) {
	ctx, span := observability.StartSpan(ctx, "ingestion.deployment")
	defer span.End()

	if err := VerifyGitHubSignature(signature, body, d.cfg.Secret); err != nil {
		d.metrics.IncWebhook("deployment", "invalid_signature")
		d.log.Warn("deployment webhook rejected", "error", err)
		return DeploymentResult{}, err
	}
	if eventType != "push" {
		d.metrics.IncWebhook("deployment", string(OutcomeIgnored))
		return DeploymentResult{Outcome: OutcomeIgnored}, nil
	}
	var ev pushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		d.metrics.IncWebhook("deployment", "malformed")
		return DeploymentResult{}, apperrors.Validationf("malformed push event: %v", err)
	}
	if ev.Ref != "refs/heads/"+d.cfg.Branch {
		d.metrics.IncWebhook("deployment", string(OutcomeIgnored))
		return DeploymentResult{Outcome: OutcomeIgnored}, nil
	}

	res := DeploymentResult{Outcome: OutcomeIgnored, Deployed: []string{}}
	dbc := dbctx.Context{Ctx: ctx}
	for _, name := range PushedProjects(ev.touched()) {
		op, err := d.ops.GetLatestByProject(dbc, name, []sites.OperationStatus{sites.StatusCompleted})
		if err != nil {
			d.metrics.IncWebhook("deployment", "error")
			return DeploymentResult{}, db.MapError("lookup project", err)
		}
		if op == nil {
			d.log.Debug("push for project without completed operation", "project", name)
			continue
		}
		applied, err := d.ops.TransitionStatus(dbc, op.ID,
			[]sites.OperationStatus{sites.StatusCompleted}, sites.StatusDeployed,
			map[string]interface{}{"deployed_at": d.now()},
		)
		if err != nil {
			d.metrics.IncWebhook("deployment", "error")
			return DeploymentResult{}, db.MapError("mark deployed", err)
		}
		if applied {
			res.Deployed = append(res.Deployed, name)
			d.log.Info("operation deployed", "operation_id", op.ID, "project", name, "commit", ev.After)
		}
	}
	if len(res.Deployed) > 0 {
		res.Outcome = OutcomeDeployed
	}
	d.metrics.IncWebhook("deployment", string(res.Outcome))
	return res, nil
}

func (ev pushEvent) touched() []string {
	var paths []string
	for _, c := range ev.Commits {
		paths = append(paths, c.Added...)
		paths = append(paths, c.Modified...)
	}
	return paths
}

// PushedProjects returns the sorted, distinct project names whose index page
// appears in paths.
func PushedProjects(paths []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range paths {
		m := projectIndexPath.FindStringSubmatch(strings.TrimPrefix(p, "/"))
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	sort.Strings(out)
	return out
}
