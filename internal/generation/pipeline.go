// Package generation turns an operation's customizations into a published
// page: templates, validation, images, injection, publishing.
package generation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/inject"
	"github.com/yungbote/sitegen-backend/internal/observability"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/publish"
	"github.com/yungbote/sitegen-backend/internal/templatecache"
)

type Templates interface {
	Template(ctx context.Context, templateID string) (*templatecache.Template, error)
	Base(ctx context.Context, templateID, lang string) (sites.Content, error)
}

type Images interface {
	Process(ctx context.Context, project string, images map[string]sites.ImageValue) (map[string]sites.ImageValue, error)
}

type Publisher interface {
	Publish(ctx context.Context, in publish.Input) (*publish.Result, error)
}

type Pipeline struct {
	templates Templates
	images    Images
	publisher Publisher
	log       *logger.Logger
}

func New(templates Templates, images Images, publisher Publisher, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{templates: templates, images: images, publisher: publisher, log: log.With("service", "GenerationPipeline")}
}

// Run generates and publishes op. Errors carry their class; callers decide
// on retries.
func (p *Pipeline) Run(ctx context.Context, op *types.Operation) (*publish.Result, error) {
	ctx, span := observability.StartSpan(ctx, "generation.run",
		attribute.String("operation_id", op.ID.String()),
		attribute.String("template_id", op.TemplateID),
	)
	defer span.End()

	overrides, err := op.Content()
	if err != nil {
		return nil, apperrors.Validationf("decode content: %v", err)
	}
	if err := inject.Validate(overrides); err != nil {
		return nil, err
	}

	tpl, err := p.templates.Template(ctx, op.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	base, err := p.templates.Base(ctx, op.TemplateID, op.Language)
	if err != nil {
		return nil, fmt.Errorf("load base content: %w", err)
	}
	content := templatecache.Merge(base, overrides)

	imgCtx, imgSpan := observability.StartSpan(ctx, "generation.images", attribute.Int("count", len(content.Images)))
	content.Images, err = p.images.Process(imgCtx, op.ProjectName, content.Images)
	imgSpan.End()
	if err != nil {
		return nil, err
	}

	html, err := inject.Inject(tpl.HTML, content)
	if err != nil {
		return nil, apperrors.Validationf("inject: %v", err)
	}
	p.log.Debug("page rendered", "operation_id", op.ID, "bytes", len(html))

	return p.publisher.Publish(ctx, publish.Input{
		Project:     op.ProjectName,
		OperationID: op.ID,
		OwnerEmail:  op.Email,
		HTML:        html,
	})
}
