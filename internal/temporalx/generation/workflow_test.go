package generation

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/sitegen-backend/internal/data/repos"
	"github.com/yungbote/sitegen-backend/internal/data/repos/testutil"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/orchestrator"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/publish"
)

type flakyGenerator struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (g *flakyGenerator) Run(ctx context.Context, op *types.Operation) (*publish.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= g.failures {
		return nil, apperrors.Transientf("artifact repository 503")
	}
	return &publish.Result{SiteURL: "https://" + op.ProjectName + ".sites.test", CommitSHA: "abc123"}, nil
}

func newEnv(t *testing.T, gen orchestrator.Generator) (*testsuite.TestWorkflowEnvironment, repos.OperationRepo, func(...func(*types.Operation)) *types.Operation) {
	t.Helper()
	db := testutil.DB(t)
	ops := repos.New(db, testutil.Logger(t)).Operation
	runner := orchestrator.NewRunner(testutil.Logger(t), ops, gen, nil, nil, orchestrator.DefaultPolicy())

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	acts := &Activities{Runner: runner, Ops: ops}
	env.RegisterActivityWithOptions(acts.Step, activity.RegisterOptions{Name: ActivityStep})

	seed := func(opts ...func(*types.Operation)) *types.Operation {
		opts = append([]func(*types.Operation){testutil.WithStatus(sites.StatusPaid)}, opts...)
		return testutil.SeedOperation(t, context.Background(), db, opts...)
	}
	return env, ops, seed
}

func TestWorkflowRetriesTransientFailuresThenCompletes(t *testing.T) {
	gen := &flakyGenerator{failures: 2}
	env, _, seed := newEnv(t, gen)
	op := seed()

	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: op.ID.String()})
	env.ExecuteWorkflow(WorkflowName, Input{})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if gen.calls != 3 {
		t.Fatalf("generator calls: want=3 got=%d", gen.calls)
	}
}

func TestWorkflowPersistsTerminalStatus(t *testing.T) {
	env, ops, seed := newEnv(t, &flakyGenerator{})
	op := seed()

	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: op.ID.String()})
	env.ExecuteWorkflow(WorkflowName, Input{})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	got, err := ops.GetByID(testutil.Ctx(), op.ID)
	if err != nil || got == nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != sites.StatusCompleted || got.Attempts != 1 || got.CommitSHA != "abc123" {
		t.Fatalf("want completed after 1 attempt, got status=%s attempts=%d sha=%q", got.Status, got.Attempts, got.CommitSHA)
	}
}

func TestWorkflowUsesInputPolicy(t *testing.T) {
	gen := &flakyGenerator{failures: 5}
	env, ops, seed := newEnv(t, gen)
	op := seed()

	policy := orchestrator.DefaultPolicy()
	policy.MaxRetries = 1
	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: op.ID.String()})
	env.ExecuteWorkflow(WorkflowName, Input{Policy: policy})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("generator calls: want=2 got=%d", gen.calls)
	}
	got, err := ops.GetByID(testutil.Ctx(), op.ID)
	if err != nil || got == nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != sites.StatusFailed {
		t.Fatalf("status: want=%s got=%s", sites.StatusFailed, got.Status)
	}
}

func TestWorkflowRetriesFailedOnlyWhenManual(t *testing.T) {
	for _, manual := range []bool{false, true} {
		gen := &flakyGenerator{}
		env, ops, seed := newEnv(t, gen)
		op := seed(testutil.WithStatus(sites.StatusFailed))

		env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: op.ID.String()})
		env.ExecuteWorkflow(WorkflowName, Input{Manual: manual})
		if err := env.GetWorkflowError(); err != nil {
			t.Fatalf("manual=%v: workflow error: %v", manual, err)
		}
		got, err := ops.GetByID(testutil.Ctx(), op.ID)
		if err != nil || got == nil {
			t.Fatalf("reload: %v", err)
		}
		want := sites.StatusFailed
		if manual {
			want = sites.StatusCompleted
		}
		if got.Status != want {
			t.Fatalf("manual=%v: status want=%s got=%s", manual, want, got.Status)
		}
	}
}

func TestWorkflowMissingOperationCompletes(t *testing.T) {
	gen := &flakyGenerator{}
	env, _, _ := newEnv(t, gen)

	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: uuid.NewString()})
	env.ExecuteWorkflow(WorkflowName, Input{})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("missing operation should not fail the workflow: %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator calls: want=0 got=%d", gen.calls)
	}
}

func TestWorkflowRejectsNonUUIDID(t *testing.T) {
	env, _, _ := newEnv(t, &flakyGenerator{})
	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: "not-an-operation"})
	env.ExecuteWorkflow(WorkflowName, Input{})
	if env.GetWorkflowError() == nil {
		t.Fatalf("want workflow error for non-uuid id")
	}
}

func TestStepOutputRoundTripKeepsErrorClass(t *testing.T) {
	in := StepInput{Kind: StepGenerate, OperationID: uuid.NewString(), Attempt: 2}
	out := outputFor(orchestrator.Generated{Err: apperrors.ResourceLimitf("image %q too large", "hero")})
	ev := eventFor(in, out).(orchestrator.Generated)
	if apperrors.ClassOf(ev.Err) != apperrors.ClassResourceLimit {
		t.Fatalf("class: want=%s got=%s", apperrors.ClassResourceLimit, apperrors.ClassOf(ev.Err))
	}
	if ev.Err.Error() != `image "hero" too large` {
		t.Fatalf("message: got %q", ev.Err.Error())
	}
}
