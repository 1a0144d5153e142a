package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/sitegen-backend/internal/data/db"
	"github.com/yungbote/sitegen-backend/internal/data/repos"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/inject"
	"github.com/yungbote/sitegen-backend/internal/observability"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/publish"
)

const statusWriteTimeout = 30 * time.Second

type Generator interface {
	Run(ctx context.Context, op *types.Operation) (*publish.Result, error)
}

type Notifier interface {
	FirstPublish(ctx context.Context, op *types.Operation, siteURL string) error
}

// Runner drives the machine in-process.
type Runner struct {
	log     *logger.Logger
	ops     repos.OperationRepo
	gen     Generator
	notify  Notifier
	metrics *observability.Metrics
	machine Machine
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

func NewRunner(log *logger.Logger, ops repos.OperationRepo, gen Generator, notify Notifier, metrics *observability.Metrics, policy Policy) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		log:     log.With("service", "Orchestrator"),
		ops:     ops,
		gen:     gen,
		notify:  notify,
		metrics: metrics,
		machine: NewMachine(policy),
		sleep:   sleepCtx,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Runner) Policy() Policy { return r.machine.Policy }

// Run drives one operation to a terminal state. The returned error is
// non-nil only when the trigger should be retried.
func (r *Runner) Run(ctx context.Context, id uuid.UUID) (State, error) {
	return r.run(ctx, id, false)
}

// RunManual is Run for an operator trigger; it may retry a failed operation.
func (r *Runner) RunManual(ctx context.Context, id uuid.UUID) (State, error) {
	return r.run(ctx, id, true)
}

func (r *Runner) run(ctx context.Context, id uuid.UUID, manual bool) (State, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "orchestrator.run",
		attribute.String("operation_id", id.String()),
		attribute.Bool("manual", manual),
	)
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, r.machine.Policy.Timeout)
	defer cancel()

	state, effects := r.machine.Start(id, manual)
	for {
		if err := ctx.Err(); err != nil {
			state = Failure{OperationID: id, Reason: "canceled", Err: err}
			break
		}
		var ev Event
		for _, eff := range effects {
			if out := r.Execute(runCtx, eff); out != nil {
				ev = out
			}
		}
		if Terminal(state) {
			break
		}
		if _, writing := state.(UpdateStatus); !writing && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			ev = TimedOut{}
		}
		if ev == nil {
			state = Failure{OperationID: id, Reason: "no event from " + state.Name(), Err: fmt.Errorf("orchestrator stalled in %s", state.Name())}
			break
		}
		state, effects = r.machine.Transition(state, ev)
	}

	r.metrics.ObserveRun(state.Name(), time.Since(start))
	span.SetAttributes(attribute.String("final_state", state.Name()))

	switch st := state.(type) {
	case Success:
		if st.Result != nil {
			r.log.Info("generation completed", "operation_id", id, "site_url", st.Result.SiteURL, "first_publish", st.Result.FirstPublish)
		}
	case Skipped:
		r.log.Info("generation skipped", "operation_id", id, "reason", st.Reason)
	case Failure:
		if st.Err != nil {
			span.SetStatus(codes.Error, st.Reason)
			r.log.Warn("generation run aborted", "operation_id", id, "reason", st.Reason, "error", st.Err)
			if apperrors.Retryable(st.Err) {
				return state, fmt.Errorf("%s: %w", st.Reason, st.Err)
			}
			return state, nil
		}
		r.log.Warn("generation failed", "operation_id", id, "reason", st.Reason)
	}
	return state, nil
}

// Execute performs one effect and returns the event it produced, or nil for
// effects that do not report back.
func (r *Runner) Execute(ctx context.Context, eff Effect) Event {
	switch e := eff.(type) {
	case LoadOperation:
		ctx, span := observability.StartSpan(ctx, "orchestrator.get_metadata")
		defer span.End()
		op, err := r.ops.GetByID(dbctx.Context{Ctx: ctx}, e.OperationID)
		if err != nil {
			return Loaded{Err: db.MapError("load operation", err)}
		}
		return Loaded{Op: op}

	case CheckOperation:
		return Validated{Err: check(e.Op)}

	case ClaimOperation:
		ctx, span := observability.StartSpan(ctx, "orchestrator.claim")
		defer span.End()
		dbc := dbctx.Context{Ctx: ctx}
		staleBefore := r.now().Add(-r.machine.Policy.Timeout)
		ok, err := r.ops.Claim(dbc, e.OperationID, staleBefore, e.Manual)
		if err != nil {
			return Claimed{Err: db.MapError("claim operation", err)}
		}
		if ok {
			return Claimed{OK: true}
		}
		cur, err := r.ops.GetByID(dbc, e.OperationID)
		if err != nil {
			return Claimed{Err: db.MapError("reload operation", err)}
		}
		return Claimed{Busy: liveClaim(cur, staleBefore)}

	case RunGeneration:
		ctx, span := observability.StartSpan(ctx, "orchestrator.invoke_generation",
			attribute.Int("attempt", e.Attempt),
		)
		defer span.End()
		if err := r.ops.IncrementAttempts(dbctx.Context{Ctx: ctx}, e.Op.ID); err != nil {
			r.log.Warn("increment attempts failed", "operation_id", e.Op.ID, "error", err)
		}
		res, err := r.gen.Run(ctx, e.Op)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			r.metrics.IncGenerationAttempt(string(apperrors.ClassOf(err)))
			r.log.Warn("generation attempt failed",
				"operation_id", e.Op.ID,
				"attempt", e.Attempt,
				"class", apperrors.ClassOf(err),
				"error", err,
			)
			return Generated{Err: err}
		}
		r.metrics.IncGenerationAttempt("success")
		return Generated{Result: res}

	case Sleep:
		r.log.Debug("backing off", "delay", e.Delay)
		_ = r.sleep(ctx, e.Delay)
		return Slept{}

	case WriteStatus:
		// Terminal writes must land even after the run deadline passed.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
		defer cancel()
		wctx, span := observability.StartSpan(wctx, "orchestrator.update_status", attribute.String("to", string(e.To)))
		defer span.End()
		applied, err := r.ops.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: wctx}, e.OperationID, e.Disallow, r.statusUpdates(e))
		if err != nil {
			return StatusWritten{Err: db.MapError("write status", err)}
		}
		return StatusWritten{Applied: applied}

	case SendNotification:
		if r.notify == nil {
			return nil
		}
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
		defer cancel()
		if err := r.notify.FirstPublish(nctx, e.Op, e.SiteURL); err != nil {
			r.log.Warn("first-publish notification failed", "operation_id", e.Op.ID, "error", err)
		}
		return nil
	}
	return nil
}

func (r *Runner) statusUpdates(e WriteStatus) map[string]interface{} {
	now := r.now()
	updates := map[string]interface{}{
		"status":     e.To,
		"updated_at": now,
	}
	switch e.To {
	case sites.StatusCompleted:
		updates["failure_reason"] = ""
		updates["completed_at"] = now
		if e.Result != nil {
			updates["site_url"] = e.Result.SiteURL
			updates["commit_sha"] = e.Result.CommitSHA
		}
	case sites.StatusFailed:
		updates["failure_reason"] = e.Reason
	}
	return updates
}

func liveClaim(op *types.Operation, staleBefore time.Time) bool {
	return op != nil &&
		op.Status == sites.StatusProcessing &&
		op.ClaimedAt != nil &&
		!op.ClaimedAt.Before(staleBefore)
}

func check(op *types.Operation) error {
	if err := sites.ValidateOperation(op); err != nil {
		return err
	}
	content, err := op.Content()
	if err != nil {
		return apperrors.Validationf("decode content: %v", err)
	}
	return inject.Validate(content)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
