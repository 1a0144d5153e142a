// Package orchestrator drives one generation run for an operation. Machine is
// a pure transition function over tagged states; drivers (Runner, the
// Temporal workflow) execute the effects it returns and feed back events.
package orchestrator

import (
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/pkg/httpx"
	"github.com/yungbote/sitegen-backend/internal/publish"
)

const maxReasonLen = 500

// State is one of GetMetadata, Validate, Claim, InvokeGeneration, Backoff,
// UpdateStatus, Success, Failure or Skipped.
type State interface {
	Name() string
	state()
}

// Manual runs may claim a failed operation again.
type GetMetadata struct {
	OperationID uuid.UUID
	Manual      bool
}

type Validate struct {
	Op     *types.Operation
	Manual bool
}

type Claim struct {
	Op     *types.Operation
	Manual bool
}

// InvokeGeneration runs attempt number Attempt, counting from 1.
type InvokeGeneration struct {
	Op      *types.Operation
	Attempt int
}

type Backoff struct {
	Op      *types.Operation
	Attempt int
	Delay   time.Duration
	Cause   string
}

type UpdateStatus struct {
	Op     *types.Operation
	To     sites.OperationStatus
	Reason string
	Result *publish.Result
}

type Success struct {
	OperationID uuid.UUID
	Result      *publish.Result
}

// Failure ends a run. Err is set when the run could not reach a terminal
// status write and the trigger should be retried.
type Failure struct {
	OperationID uuid.UUID
	Reason      string
	Err         error
}

type Skipped struct {
	OperationID uuid.UUID
	Reason      string
}

func (GetMetadata) Name() string      { return "get_metadata" }
func (Validate) Name() string         { return "validate" }
func (Claim) Name() string            { return "claim" }
func (InvokeGeneration) Name() string { return "invoke_generation" }
func (Backoff) Name() string          { return "backoff" }
func (UpdateStatus) Name() string     { return "update_status" }
func (Success) Name() string          { return "success" }
func (Failure) Name() string          { return "failure" }
func (Skipped) Name() string          { return "skipped" }

func (GetMetadata) state()      {}
func (Validate) state()         {}
func (Claim) state()            {}
func (InvokeGeneration) state() {}
func (Backoff) state()          {}
func (UpdateStatus) state()     {}
func (Success) state()          {}
func (Failure) state()          {}
func (Skipped) state()          {}

func Terminal(s State) bool {
	switch s.(type) {
	case Success, Failure, Skipped:
		return true
	}
	return false
}

// Event reports the outcome of an effect back to the machine.
type Event interface{ event() }

type Loaded struct {
	Op  *types.Operation
	Err error
}

type Validated struct {
	Err error
}

// Claimed reports a claim attempt. Busy means another worker holds a live
// processing claim on the operation.
type Claimed struct {
	OK   bool
	Busy bool
	Err  error
}

type Generated struct {
	Result *publish.Result
	Err    error
}

type Slept struct{}

type StatusWritten struct {
	Applied bool
	Err     error
}

type TimedOut struct{}

func (Loaded) event()        {}
func (Validated) event()     {}
func (Claimed) event()       {}
func (Generated) event()     {}
func (Slept) event()         {}
func (StatusWritten) event() {}
func (TimedOut) event()      {}

// Effect is work a driver performs on behalf of the machine.
type Effect interface{ effect() }

type LoadOperation struct {
	OperationID uuid.UUID
}

type CheckOperation struct {
	Op *types.Operation
}

type ClaimOperation struct {
	OperationID uuid.UUID
	Manual      bool
}

type RunGeneration struct {
	Op      *types.Operation
	Attempt int
}

type Sleep struct {
	Delay time.Duration
}

// WriteStatus sets a terminal status unless the row is already in one of
// Disallow.
type WriteStatus struct {
	OperationID uuid.UUID
	To          sites.OperationStatus
	Reason      string
	Result      *publish.Result
	Disallow    []sites.OperationStatus
}

type SendNotification struct {
	Op      *types.Operation
	SiteURL string
}

func (LoadOperation) effect()    {}
func (CheckOperation) effect()   {}
func (ClaimOperation) effect()   {}
func (RunGeneration) effect()    {}
func (Sleep) effect()            {}
func (WriteStatus) effect()      {}
func (SendNotification) effect() {}

// Policy bounds retries and the overall run time.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
	MaxDelay   time.Duration
	Timeout    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		Factor:     2,
		MaxDelay:   8 * time.Second,
		Timeout:    10 * time.Minute,
	}
}

// Delay is the pause after failed attempt n (1-based): 2s, 4s, 8s.
func (p Policy) Delay(attempt int) time.Duration {
	return httpx.ExponentialBackoff(attempt-1, p.BaseDelay, p.Factor, p.MaxDelay)
}

type Machine struct {
	Policy Policy
}

func NewMachine(p Policy) Machine { return Machine{Policy: p} }

func (m Machine) Start(id uuid.UUID, manual bool) (State, []Effect) {
	return GetMetadata{OperationID: id, Manual: manual}, []Effect{LoadOperation{OperationID: id}}
}

// Transition is pure: it never performs I/O and returns the same output for
// the same input. Events that do not apply to the current state leave it
// unchanged.
func (m Machine) Transition(s State, e Event) (State, []Effect) {
	if _, ok := e.(TimedOut); ok {
		return m.timeout(s)
	}

	switch st := s.(type) {
	case GetMetadata:
		ev, ok := e.(Loaded)
		if !ok {
			return s, nil
		}
		switch {
		case ev.Err != nil:
			return Failure{OperationID: st.OperationID, Reason: "load operation failed", Err: ev.Err}, nil
		case ev.Op == nil:
			return Failure{OperationID: st.OperationID, Reason: "operation not found"}, nil
		}
		return Validate{Op: ev.Op, Manual: st.Manual}, []Effect{CheckOperation{Op: ev.Op}}

	case Validate:
		ev, ok := e.(Validated)
		if !ok {
			return s, nil
		}
		if st.Op.Status == sites.StatusCompleted || st.Op.Status == sites.StatusDeployed {
			return Skipped{OperationID: st.Op.ID, Reason: "already " + string(st.Op.Status)}, nil
		}
		if ev.Err != nil {
			return m.fail(st.Op, reason(ev.Err))
		}
		return Claim{Op: st.Op, Manual: st.Manual}, []Effect{ClaimOperation{OperationID: st.Op.ID, Manual: st.Manual}}

	case Claim:
		ev, ok := e.(Claimed)
		if !ok {
			return s, nil
		}
		switch {
		case ev.Err != nil:
			return Failure{OperationID: st.Op.ID, Reason: "claim failed", Err: ev.Err}, nil
		case ev.Busy:
			return Failure{
				OperationID: st.Op.ID,
				Reason:      "claimed by another worker",
				Err:         apperrors.Transientf("operation %s has a live processing claim", st.Op.ID),
			}, nil
		case !ev.OK:
			return Skipped{OperationID: st.Op.ID, Reason: "not claimable"}, nil
		}
		return m.invoke(st.Op, 1)

	case InvokeGeneration:
		ev, ok := e.(Generated)
		if !ok {
			return s, nil
		}
		if ev.Err == nil {
			next := UpdateStatus{Op: st.Op, To: sites.StatusCompleted, Result: ev.Result}
			return next, []Effect{WriteStatus{
				OperationID: st.Op.ID,
				To:          sites.StatusCompleted,
				Result:      ev.Result,
				Disallow:    []sites.OperationStatus{sites.StatusDeployed},
			}}
		}
		if apperrors.Retryable(ev.Err) && st.Attempt <= m.Policy.MaxRetries {
			d := m.Policy.Delay(st.Attempt)
			return Backoff{Op: st.Op, Attempt: st.Attempt, Delay: d, Cause: reason(ev.Err)}, []Effect{Sleep{Delay: d}}
		}
		return m.fail(st.Op, reason(ev.Err))

	case Backoff:
		if _, ok := e.(Slept); !ok {
			return s, nil
		}
		return m.invoke(st.Op, st.Attempt+1)

	case UpdateStatus:
		ev, ok := e.(StatusWritten)
		if !ok {
			return s, nil
		}
		switch {
		case ev.Err != nil:
			return Failure{OperationID: st.Op.ID, Reason: "write status " + string(st.To), Err: ev.Err}, nil
		case !ev.Applied:
			return Skipped{OperationID: st.Op.ID, Reason: "status already final"}, nil
		case st.To == sites.StatusCompleted:
			var effects []Effect
			if st.Result != nil && st.Result.FirstPublish {
				effects = append(effects, SendNotification{Op: st.Op, SiteURL: st.Result.SiteURL})
			}
			return Success{OperationID: st.Op.ID, Result: st.Result}, effects
		default:
			return Failure{OperationID: st.Op.ID, Reason: st.Reason}, nil
		}
	}
	return s, nil
}

func (m Machine) invoke(op *types.Operation, attempt int) (State, []Effect) {
	return InvokeGeneration{Op: op, Attempt: attempt}, []Effect{RunGeneration{Op: op, Attempt: attempt}}
}

func (m Machine) fail(op *types.Operation, why string) (State, []Effect) {
	return UpdateStatus{Op: op, To: sites.StatusFailed, Reason: why}, []Effect{WriteStatus{
		OperationID: op.ID,
		To:          sites.StatusFailed,
		Reason:      why,
		Disallow:    []sites.OperationStatus{sites.StatusCompleted, sites.StatusDeployed},
	}}
}

// timeout fails a claimed run. Before the claim there is nothing to record.
func (m Machine) timeout(s State) (State, []Effect) {
	switch st := s.(type) {
	case GetMetadata:
		return Failure{OperationID: st.OperationID, Reason: "timed out"}, nil
	case Validate:
		return Failure{OperationID: st.Op.ID, Reason: "timed out"}, nil
	case Claim:
		return Failure{OperationID: st.Op.ID, Reason: "timed out"}, nil
	case InvokeGeneration:
		return m.fail(st.Op, "timed out")
	case Backoff:
		return m.fail(st.Op, "timed out")
	}
	return s, nil
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxReasonLen {
		msg = msg[:maxReasonLen]
	}
	return msg
}
