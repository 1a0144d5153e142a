// Package notify sends the first-publish email to a site owner.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/sitegen-backend/internal/data/db"
	"github.com/yungbote/sitegen-backend/internal/data/repos"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/platform/sendgrid"
)

// LinkSigner builds the signed edit link included in the email.
type LinkSigner interface {
	EditLink(op *types.Operation) (string, error)
}

type Notifier struct {
	log    *logger.Logger
	mailer sendgrid.Mailer
	idem   repos.IdempotencyRepo
	links  LinkSigner
	ttl    time.Duration
}

func New(log *logger.Logger, mailer sendgrid.Mailer, idem repos.IdempotencyRepo, links LinkSigner, recordTTL time.Duration) *Notifier {
	if recordTTL <= 0 {
		recordTTL = 365 * 24 * time.Hour
	}
	return &Notifier{
		log:    log.With("service", "Notifier"),
		mailer: mailer,
		idem:   idem,
		links:  links,
		ttl:    recordTTL,
	}
}

// FirstPublish emails the owner once per operation. The idempotency record
// is reserved before sending and released if the send fails, so a later
// attempt can retry it.
func (n *Notifier) FirstPublish(ctx context.Context, op *types.Operation, siteURL string) error {
	dbc := dbctx.Context{Ctx: ctx}
	key := sites.IdempotencyKey(sites.ScopeNotifyFirstPublish, op.ID.String())
	opID := op.ID
	reserved, err := n.idem.Reserve(dbc, &types.IdempotencyRecord{
		Key:         key,
		Scope:       sites.ScopeNotifyFirstPublish,
		OperationID: &opID,
		Result:      sites.ResultSent,
		ExpiresAt:   time.Now().UTC().Add(n.ttl),
	})
	if err != nil {
		return db.MapError("reserve notification", err)
	}
	if !reserved {
		n.log.Info("first-publish email already sent", "operation_id", op.ID)
		return nil
	}

	link, err := n.links.EditLink(op)
	if err != nil {
		_ = n.idem.Release(dbc, key)
		return fmt.Errorf("edit link: %w", err)
	}
	res, err := n.mailer.Send(ctx, sendgrid.Message{
		To:         op.Email,
		Subject:    fmt.Sprintf("Your site %s is live", op.ProjectName),
		Text:       Body(op.ProjectName, siteURL, link),
		Categories: []string{"first_publish"},
	})
	if err != nil {
		if relErr := n.idem.Release(dbc, key); relErr != nil {
			n.log.Warn("release notification record failed", "operation_id", op.ID, "error", relErr)
		}
		return fmt.Errorf("send first-publish email: %w", err)
	}
	n.log.Info("first-publish email sent", "operation_id", op.ID, "email", op.Email, "message_id", res.MessageID)
	return nil
}

func Body(project, siteURL, editLink string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your website %s has been published.\n\n", project)
	fmt.Fprintf(&b, "View it here: %s\n\n", siteURL)
	fmt.Fprintf(&b, "To make changes, open the editor: %s\n", editLink)
	return b.String()
}
