package generation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/sitegen-backend/internal/orchestrator"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

// Workflow generates the operation whose id is the workflow id.
func Workflow(ctx workflow.Context, in Input) error {
	raw := workflow.GetInfo(ctx).WorkflowExecution.ID
	opID, err := uuid.Parse(raw)
	if err != nil {
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("workflow id %q is not an operation id", raw), "invalid_operation_id", err)
	}

	policy := in.Policy
	if policy == (orchestrator.Policy{}) {
		policy = orchestrator.DefaultPolicy()
	}
	m := orchestrator.NewMachine(policy)
	deadline := workflow.Now(ctx).Add(m.Policy.Timeout)
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: m.Policy.Timeout,
		// Retries belong to the machine.
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	log := workflow.GetLogger(ctx)

	state, effects := m.Start(opID, in.Manual)
	for {
		var ev orchestrator.Event
		for _, eff := range effects {
			out, err := runEffect(ctx, eff)
			if err != nil {
				return err
			}
			if out != nil {
				ev = out
			}
		}
		if orchestrator.Terminal(state) {
			break
		}
		if _, writing := state.(orchestrator.UpdateStatus); !writing && !workflow.Now(ctx).Before(deadline) {
			ev = orchestrator.TimedOut{}
		}
		if ev == nil {
			return fmt.Errorf("generation workflow stalled in %s", state.Name())
		}
		state, effects = m.Transition(state, ev)
	}

	log.Info("generation workflow finished", "operation_id", opID, "state", state.Name())
	if f, ok := state.(orchestrator.Failure); ok && f.Err != nil {
		if apperrors.Retryable(f.Err) {
			return fmt.Errorf("%s: %w", f.Reason, f.Err)
		}
	}
	return nil
}

func runEffect(ctx workflow.Context, eff orchestrator.Effect) (orchestrator.Event, error) {
	if s, ok := eff.(orchestrator.Sleep); ok {
		if s.Delay > 0 {
			if err := workflow.Sleep(ctx, s.Delay); err != nil {
				return nil, err
			}
		}
		return orchestrator.Slept{}, nil
	}
	in, ok := inputFor(eff)
	if !ok {
		return nil, fmt.Errorf("unsupported effect %T", eff)
	}
	actx := ctx
	if in.Kind == StepWrite || in.Kind == StepNotify {
		actx = workflow.WithStartToCloseTimeout(ctx, time.Minute)
	}
	var out StepOutput
	if err := workflow.ExecuteActivity(actx, ActivityStep, in).Get(actx, &out); err != nil {
		return nil, err
	}
	return eventFor(in, out), nil
}
