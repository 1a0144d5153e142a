// Package generation runs the orchestrator machine as a Temporal workflow.
// The workflow owns the transitions and backoff timers; every side effect is
// one call of a single step activity.
package generation

import (
	"errors"

	"github.com/google/uuid"

	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/orchestrator"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/publish"
)

const (
	WorkflowName = "site_generation"
	ActivityStep = "site_generation_step"
)

// Input starts one workflow. A zero Policy means orchestrator.DefaultPolicy.
type Input struct {
	Manual bool                `json:"manual,omitempty"`
	Policy orchestrator.Policy `json:"policy"`
}

type StepKind string

const (
	StepLoad     StepKind = "load"
	StepCheck    StepKind = "check"
	StepClaim    StepKind = "claim"
	StepGenerate StepKind = "generate"
	StepWrite    StepKind = "write_status"
	StepNotify   StepKind = "notify"
)

type StepInput struct {
	Kind        StepKind                `json:"kind"`
	OperationID string                  `json:"operation_id"`
	Attempt     int                     `json:"attempt,omitempty"`
	Manual      bool                    `json:"manual,omitempty"`
	To          sites.OperationStatus   `json:"to,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Disallow    []sites.OperationStatus `json:"disallow,omitempty"`
	Result      *publish.Result         `json:"result,omitempty"`
	SiteURL     string                  `json:"site_url,omitempty"`
}

// StepOutput carries the event back to the workflow. Errors travel as class
// and message so the machine can tell retryable ones apart.
type StepOutput struct {
	Found    bool                  `json:"found,omitempty"`
	Status   sites.OperationStatus `json:"status,omitempty"`
	Project  string                `json:"project,omitempty"`
	Email    string                `json:"email,omitempty"`
	OK       bool                  `json:"ok,omitempty"`
	Busy     bool                  `json:"busy,omitempty"`
	Result   *publish.Result       `json:"result,omitempty"`
	ErrClass apperrors.Class       `json:"err_class,omitempty"`
	ErrMsg   string                `json:"err_msg,omitempty"`
}

func inputFor(eff orchestrator.Effect) (StepInput, bool) {
	switch e := eff.(type) {
	case orchestrator.LoadOperation:
		return StepInput{Kind: StepLoad, OperationID: e.OperationID.String()}, true
	case orchestrator.CheckOperation:
		return StepInput{Kind: StepCheck, OperationID: e.Op.ID.String()}, true
	case orchestrator.ClaimOperation:
		return StepInput{Kind: StepClaim, OperationID: e.OperationID.String(), Manual: e.Manual}, true
	case orchestrator.RunGeneration:
		return StepInput{Kind: StepGenerate, OperationID: e.Op.ID.String(), Attempt: e.Attempt}, true
	case orchestrator.WriteStatus:
		return StepInput{
			Kind:        StepWrite,
			OperationID: e.OperationID.String(),
			To:          e.To,
			Reason:      e.Reason,
			Disallow:    e.Disallow,
			Result:      e.Result,
		}, true
	case orchestrator.SendNotification:
		return StepInput{Kind: StepNotify, OperationID: e.Op.ID.String(), SiteURL: e.SiteURL}, true
	}
	return StepInput{}, false
}

// eventFor rebuilds the machine event for a step. Load results become a
// light operation snapshot; activities reload the full row when needed.
func eventFor(in StepInput, out StepOutput) orchestrator.Event {
	err := decodeErr(out)
	switch in.Kind {
	case StepLoad:
		if err != nil || !out.Found {
			return orchestrator.Loaded{Err: err}
		}
		id, _ := uuid.Parse(in.OperationID)
		return orchestrator.Loaded{Op: &types.Operation{ID: id, Status: out.Status, ProjectName: out.Project, Email: out.Email}}
	case StepCheck:
		return orchestrator.Validated{Err: err}
	case StepClaim:
		return orchestrator.Claimed{OK: out.OK, Busy: out.Busy, Err: err}
	case StepGenerate:
		return orchestrator.Generated{Result: out.Result, Err: err}
	case StepWrite:
		return orchestrator.StatusWritten{Applied: out.OK, Err: err}
	}
	return nil
}

func outputFor(ev orchestrator.Event) StepOutput {
	var out StepOutput
	var err error
	switch e := ev.(type) {
	case orchestrator.Loaded:
		err = e.Err
		if e.Op != nil {
			out.Found = true
			out.Status = e.Op.Status
			out.Project = e.Op.ProjectName
			out.Email = e.Op.Email
		}
	case orchestrator.Validated:
		err = e.Err
	case orchestrator.Claimed:
		out.OK, out.Busy, err = e.OK, e.Busy, e.Err
	case orchestrator.Generated:
		out.Result, err = e.Result, e.Err
	case orchestrator.StatusWritten:
		out.OK, err = e.Applied, e.Err
	}
	if err != nil {
		out.ErrClass = apperrors.ClassOf(err)
		out.ErrMsg = err.Error()
	}
	return out
}

func decodeErr(out StepOutput) error {
	if out.ErrClass == "" && out.ErrMsg == "" {
		return nil
	}
	return apperrors.Wrap(out.ErrClass, errors.New(out.ErrMsg))
}
