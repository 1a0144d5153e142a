package generation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/yungbote/sitegen-backend/internal/data/db"
	"github.com/yungbote/sitegen-backend/internal/data/repos"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/orchestrator"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

// Activities executes orchestrator effects for the workflow. Errors are
// returned inside StepOutput; the activity itself fails only on bad input.
type Activities struct {
	Runner *orchestrator.Runner
	Ops    repos.OperationRepo
}

func (a *Activities) Step(ctx context.Context, in StepInput) (StepOutput, error) {
	if a == nil || a.Runner == nil || a.Ops == nil {
		return StepOutput{}, fmt.Errorf("generation activity not configured")
	}
	id, err := uuid.Parse(in.OperationID)
	if err != nil || id == uuid.Nil {
		return StepOutput{}, fmt.Errorf("generation activity: invalid operation_id %q", in.OperationID)
	}
	activity.GetLogger(ctx).Debug("generation step", "kind", in.Kind, "operation_id", id)

	var eff orchestrator.Effect
	switch in.Kind {
	case StepLoad:
		eff = orchestrator.LoadOperation{OperationID: id}
	case StepClaim:
		eff = orchestrator.ClaimOperation{OperationID: id, Manual: in.Manual}
	case StepWrite:
		eff = orchestrator.WriteStatus{OperationID: id, To: in.To, Reason: in.Reason, Disallow: in.Disallow, Result: in.Result}
	case StepCheck, StepGenerate, StepNotify:
		op, err := a.load(ctx, id)
		if err != nil {
			return StepOutput{ErrClass: apperrors.ClassOf(err), ErrMsg: err.Error()}, nil
		}
		switch in.Kind {
		case StepCheck:
			eff = orchestrator.CheckOperation{Op: op}
		case StepGenerate:
			eff = orchestrator.RunGeneration{Op: op, Attempt: in.Attempt}
		default:
			eff = orchestrator.SendNotification{Op: op, SiteURL: in.SiteURL}
		}
	default:
		return StepOutput{}, fmt.Errorf("generation activity: unknown step %q", in.Kind)
	}
	return outputFor(a.Runner.Execute(ctx, eff)), nil
}

func (a *Activities) load(ctx context.Context, id uuid.UUID) (*types.Operation, error) {
	op, err := a.Ops.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, db.MapError("load operation", err)
	}
	if op == nil {
		return nil, apperrors.NotFoundf("operation %s", id)
	}
	return op, nil
}
