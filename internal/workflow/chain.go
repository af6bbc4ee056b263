// Package workflow holds the chain state machine: pure transitions over one
// request's ordered step list. It performs no I/O.
package workflow

import (
	"strings"
	"time"

	"signoff/internal/domain"
)

// Transition describes what an approve or reject changed, for audit and notification.
type Transition struct {
	Step      domain.Step
	Activated *domain.Step
	Outcome   domain.RequestStatus
}

// Approve marks the pending step approved and activates the next one, or
// completes the request when the step was the last.
func Approve(req *domain.Request, stepID, actorID, comment string, now time.Time) (Transition, error) {
	idx, err := actionable(req, stepID, actorID, "approve")
	if err != nil {
		return Transition{}, err
	}
	ts := now.UTC()
	step := &req.Chain[idx]
	step.Status = domain.StepApproved
	step.CompletedAt = &ts
	step.Comments = strings.TrimSpace(comment)

	tr := Transition{Step: *step}
	if idx+1 < len(req.Chain) {
		next := &req.Chain[idx+1]
		assigned := ts
		next.Status = domain.StepPending
		next.AssignedAt = &assigned
		activated := *next
		tr.Activated = &activated
	}
	tr.Outcome = req.Status()
	return tr, nil
}

// Reject marks the pending step rejected. Later steps stay waiting for good.
func Reject(req *domain.Request, stepID, actorID, reason string, now time.Time) (Transition, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		var verr domain.ValidationError
		verr.Add("reason", "required when rejecting")
		return Transition{}, verr
	}
	idx, err := actionable(req, stepID, actorID, "reject")
	if err != nil {
		return Transition{}, err
	}
	ts := now.UTC()
	step := &req.Chain[idx]
	step.Status = domain.StepRejected
	step.CompletedAt = &ts
	step.Comments = reason
	return Transition{Step: *step, Outcome: req.Status()}, nil
}

func actionable(req *domain.Request, stepID, actorID, action string) (int, error) {
	idx := req.StepByID(stepID)
	if idx < 0 {
		return -1, domain.NotFoundError{Kind: "step", ID: stepID}
	}
	step := req.Chain[idx]
	if step.Status != domain.StepPending {
		return -1, domain.InvalidTransitionError{StepID: stepID, From: step.Status, Action: action}
	}
	if step.ApproverID != actorID {
		return -1, domain.UnauthorizedActorError{StepID: stepID, ActorID: actorID}
	}
	return idx, nil
}

// CheckInvariants verifies the structural rules every stored chain must hold.
func CheckInvariants(req domain.Request) error {
	pendingAt := -1
	rejectedAt := -1
	for i, s := range req.Chain {
		if s.Order != i+1 {
			return invariantError("chain order must be contiguous from 1")
		}
		switch s.Status {
		case domain.StepPending:
			if pendingAt >= 0 {
				return invariantError("more than one pending step")
			}
			pendingAt = i
		case domain.StepRejected:
			if rejectedAt >= 0 {
				return invariantError("more than one rejected step")
			}
			rejectedAt = i
		}
		if s.AssignedAt != nil && s.CompletedAt != nil && s.CompletedAt.Before(*s.AssignedAt) {
			return invariantError("step completed before it was assigned")
		}
	}
	if pendingAt >= 0 && rejectedAt >= 0 {
		return invariantError("pending step alongside a rejected step")
	}
	cut := pendingAt
	if cut < 0 {
		cut = rejectedAt
	}
	if cut < 0 {
		for _, s := range req.Chain {
			if s.Status != domain.StepApproved {
				return invariantError("chain has no active step but is not fully approved")
			}
		}
		return nil
	}
	for i, s := range req.Chain {
		switch {
		case i < cut && s.Status != domain.StepApproved:
			return invariantError("step before the active step is not approved")
		case i > cut && s.Status != domain.StepWaiting:
			return invariantError("step after the active step is not waiting")
		}
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return "chain invariant violated: " + string(e) }
