// Package ingestion turns signed external webhooks into operation status
// changes and generation requests.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/sitegen-backend/internal/data/db"
	"github.com/yungbote/sitegen-backend/internal/data/repos"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/observability"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/queue"
)

const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventCheckoutAsyncFailed  = "checkout.session.async_payment_failed"
	EventCheckoutExpired      = "checkout.session.expired"
	EventPaymentIntentFailed  = "payment_intent.payment_failed"
	operationIDMetadataKey    = "operation_id"
	defaultPaymentIdempotency = 7 * 24 * time.Hour
)

// Outcome says what a webhook delivery did. Every outcome is acknowledged.
type Outcome string

const (
	OutcomeEnqueued  Outcome = "enqueued"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeNotPaid   Outcome = "not_paid"
	OutcomeFailed    Outcome = "marked_failed"
	OutcomeDeployed  Outcome = "deployed"
	OutcomeIgnored   Outcome = "ignored"
)

type PaymentConfig struct {
	Secret         string
	Tolerance      time.Duration
	IdempotencyTTL time.Duration
}

type paymentEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object paymentObject `json:"object"`
	} `json:"data"`
}

type paymentObject struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// PaymentIngestor handles payment gateway webhooks.
type PaymentIngestor struct {
	log      *logger.Logger
	ops      repos.OperationRepo
	idem     repos.IdempotencyRepo
	producer queue.Producer
	metrics  *observability.Metrics
	cfg      PaymentConfig
	now      func() time.Time
}

func NewPaymentIngestor(log *logger.Logger, r repos.Repos, producer queue.Producer, metrics *observability.Metrics, cfg PaymentConfig) *PaymentIngestor {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultSignatureTolerance
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultPaymentIdempotency
	}
	return &PaymentIngestor{
		log:      log.With("service", "PaymentIngestor"),
		ops:      r.Operation,
		idem:     r.Idempotency,
		producer: producer,
		metrics:  metrics,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle verifies and applies one delivery. A returned error carries the
// class the HTTP layer maps to a status: auth 403, validation 400,
// transient 500 (the gateway redelivers).
func (p *PaymentIngestor) Handle(ctx context.Context, signature string, body []byte) (Outcome, error) {
	ctx, span := observability.StartSpan(ctx, "ingestion.payment")
	defer span.End()

	if err := VerifyStripeSignature(signature, body, p.cfg.Secret, p.now(), p.cfg.Tolerance); err != nil {
		p.metrics.IncWebhook("payment", "invalid_signature")
		p.log.Warn("payment webhook rejected", "error", err)
		return "", err
	}
	var ev paymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		p.metrics.IncWebhook("payment", "malformed")
		return "", apperrors.Validationf("malformed payment event: %v", err)
	}
	span.SetAttributes(attribute.String("event_type", ev.Type), attribute.String("event_id", ev.ID))

	var (
		out Outcome
		err error
	)
	switch ev.Type {
	case EventCheckoutCompleted:
		out, err = p.confirm(ctx, ev)
	case EventCheckoutAsyncFailed:
		out, err = p.markFailed(ctx, ev, "payment failed")
	case EventCheckoutExpired:
		out, err = p.markFailed(ctx, ev, "payment session expired")
	case EventPaymentIntentFailed:
		why := "payment failed"
		if e := ev.Data.Object.LastPaymentError; e != nil && e.Message != "" {
			why = "payment failed: " + e.Message
		}
		out, err = p.markFailed(ctx, ev, why)
	default:
		out = OutcomeIgnored
	}
	if err != nil {
		p.metrics.IncWebhook("payment", "error")
		return "", err
	}
	p.metrics.IncWebhook("payment", string(out))
	p.log.Info("payment webhook handled", "event_id", ev.ID, "type", ev.Type, "outcome", out)
	return out, nil
}

func (p *PaymentIngestor) lookup(dbc dbctx.Context, obj paymentObject) (*types.Operation, error) {
	if obj.ID != "" {
		op, err := p.ops.GetByPaymentSessionID(dbc, obj.ID)
		if err != nil {
			return nil, db.MapError("lookup payment session", err)
		}
		if op != nil {
			return op, nil
		}
	}
	raw := obj.Metadata[operationIDMetadataKey]
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil
	}
	op, err := p.ops.GetByID(dbc, id)
	if err != nil {
		return nil, db.MapError("lookup operation", err)
	}
	return op, nil
}

func (p *PaymentIngestor) confirm(ctx context.Context, ev paymentEvent) (Outcome, error) {
	dbc := dbctx.Context{Ctx: ctx}
	sessionID := ev.Data.Object.ID
	if sessionID == "" {
		return "", apperrors.Validationf("payment event %s without session id", ev.ID)
	}
	op, err := p.lookup(dbc, ev.Data.Object)
	if err != nil {
		return "", err
	}
	if op == nil {
		p.log.Warn("no operation for payment session", "session_id", sessionID, "event_id", ev.ID)
		return OutcomeNotFound, nil
	}

	now := p.now()
	key := sites.IdempotencyKey(sites.ScopePaymentConfirmed, sessionID)
	opID := op.ID
	reserved, err := p.idem.Reserve(dbc, &types.IdempotencyRecord{
		Key:         key,
		Scope:       sites.ScopePaymentConfirmed,
		OperationID: &opID,
		Result:      sites.ResultEnqueued,
		ExpiresAt:   now.Add(p.cfg.IdempotencyTTL),
		CreatedAt:   now,
	})
	if err != nil {
		return "", db.MapError("reserve idempotency", err)
	}
	if !reserved {
		p.log.Info("payment already enqueued", "operation_id", op.ID, "session_id", sessionID)
		return OutcomeDuplicate, nil
	}
	release := func() {
		if err := p.idem.Release(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, key); err != nil {
			p.log.Warn("release idempotency record failed", "operation_id", op.ID, "error", err)
		}
	}

	applied, err := p.ops.TransitionStatus(dbc, op.ID,
		[]sites.OperationStatus{sites.StatusPending}, sites.StatusPaid,
		map[string]interface{}{"paid_at": now},
	)
	if err != nil {
		release()
		return "", db.MapError("mark paid", err)
	}
	if !applied {
		cur, err := p.ops.GetByID(dbc, op.ID)
		if err != nil {
			release()
			return "", db.MapError("reload operation", err)
		}
		if cur == nil || cur.Status != sites.StatusPaid {
			release()
			status := "missing"
			if cur != nil {
				status = string(cur.Status)
			}
			p.log.Info("payment confirmed for operation past pending", "operation_id", op.ID, "status", status)
			return OutcomeNotPaid, nil
		}
	}

	if err := p.producer.Enqueue(ctx, queue.NewMessage(op.ID)); err != nil {
		release()
		return "", apperrors.Transientf("enqueue operation %s: %v", op.ID, err)
	}
	return OutcomeEnqueued, nil
}

func (p *PaymentIngestor) markFailed(ctx context.Context, ev paymentEvent, why string) (Outcome, error) {
	dbc := dbctx.Context{Ctx: ctx}
	op, err := p.lookup(dbc, ev.Data.Object)
	if err != nil {
		return "", err
	}
	if op == nil {
		p.log.Warn("no operation for failed payment", "object_id", ev.Data.Object.ID, "event_id", ev.ID)
		return OutcomeNotFound, nil
	}
	applied, err := p.ops.TransitionStatus(dbc, op.ID,
		[]sites.OperationStatus{sites.StatusPending}, sites.StatusFailed,
		map[string]interface{}{"failure_reason": why},
	)
	if err != nil {
		return "", db.MapError(fmt.Sprintf("mark failed (%s)", ev.Type), err)
	}
	if !applied {
		return OutcomeIgnored, nil
	}
	return OutcomeFailed, nil
}
