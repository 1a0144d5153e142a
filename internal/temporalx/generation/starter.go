package generation

import (
	"context"
	"errors"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/sitegen-backend/internal/orchestrator"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/queue"
)

// Starter is a queue.Producer that starts one workflow per operation. The
// workflow id is the operation id, so a start while one is running is
// rejected and treated as already enqueued.
type Starter struct {
	client    temporalsdkclient.Client
	taskQueue string
	policy    orchestrator.Policy
	log       *logger.Logger
}

var _ queue.Producer = (*Starter)(nil)

func NewStarter(c temporalsdkclient.Client, taskQueue string, policy orchestrator.Policy, log *logger.Logger) *Starter {
	if log == nil {
		log = logger.Nop()
	}
	return &Starter{client: c, taskQueue: taskQueue, policy: policy, log: log.With("component", "TemporalStarter")}
}

func (s *Starter) Enqueue(ctx context.Context, m queue.Message) error {
	id := m.OperationID.String()
	run, err := s.client.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                s.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy:                 enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, WorkflowName, Input{Manual: m.Manual(), Policy: s.policy})
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			s.log.Info("generation workflow already running", "operation_id", id)
			return nil
		}
		return apperrors.Transientf("start generation workflow: %w", err)
	}
	s.log.Info("generation workflow started", "operation_id", id, "run_id", run.GetRunID())
	return nil
}
