package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signoff/internal/domain"
	"signoff/internal/notify"
	"signoff/internal/policy"
	"signoff/internal/query"
	"signoff/internal/repo"
	"signoff/internal/workflow"
)

// Dispatcher hands a notification off without waiting for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, approverID, requestID string)
}

// Engine is the application surface shared by the HTTP API and the CLI.
// It returns typed domain errors and leaves logging to its callers.
type Engine struct {
	Store    repo.Store
	Policy   policy.ChainPolicy
	Notifier Dispatcher
	Cooldown *notify.Cooldown
	Views    query.Selector
	Now      func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) dispatch(ctx context.Context, approverID, requestID string) {
	if e.Notifier == nil || approverID == "" {
		return
	}
	e.Notifier.Dispatch(ctx, approverID, requestID)
}

// CreateOptions are the submission fields of a new request.
type CreateOptions struct {
	ID          string
	Type        domain.RequestType
	Title       string
	Description string
	Requester   domain.Identity
	Urgency     domain.Urgency
	Fields      domain.Fields
}

func (e Engine) CreateRequest(ctx context.Context, opts CreateOptions) (domain.Request, error) {
	sub := workflow.Submission{
		ID:          opts.ID,
		Type:        opts.Type,
		Title:       opts.Title,
		Description: opts.Description,
		Requester:   opts.Requester,
		Urgency:     opts.Urgency,
		Fields:      opts.Fields,
	}
	if err := workflow.Validate(&sub); err != nil {
		return domain.Request{}, err
	}
	if e.Policy == nil {
		return domain.Request{}, errors.New("no chain policy configured")
	}
	approvers, err := e.Policy.ResolveChain(ctx, sub.Type, sub.Requester)
	if err != nil {
		return domain.Request{}, err
	}
	now := e.now()
	req, err := workflow.Build(sub, approvers, now)
	if err != nil {
		return domain.Request{}, err
	}
	chain := make([]string, 0, len(req.Chain))
	for _, s := range req.Chain {
		chain = append(chain, s.ApproverID)
	}
	evt := domain.Event{
		TS:        now,
		Type:      domain.EventRequestCreated,
		RequestID: req.ID,
		StepID:    req.Chain[0].ID,
		ActorID:   req.RequesterID,
		Payload:   map[string]any{"type": string(req.Type), "chain": chain, "urgency": string(req.Urgency)},
	}
	if err := e.Store.Create(ctx, req, evt); err != nil {
		return domain.Request{}, err
	}
	e.dispatch(ctx, req.Chain[0].ApproverID, req.ID)
	return req, nil
}

func (e Engine) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return e.Store.Get(ctx, id)
}

// ApproveStep approves the pending step on behalf of actorID. The returned
// request reflects the stored state.
func (e Engine) ApproveStep(ctx context.Context, requestID, stepID, actorID, comment string) (domain.Request, error) {
	return e.act(ctx, requestID, func(req *domain.Request, now time.Time) (workflow.Transition, error) {
		return workflow.Approve(req, stepID, actorID, comment, now)
	}, actorID)
}

// RejectStep rejects the pending step; reason is mandatory.
func (e Engine) RejectStep(ctx context.Context, requestID, stepID, actorID, reason string) (domain.Request, error) {
	return e.act(ctx, requestID, func(req *domain.Request, now time.Time) (workflow.Transition, error) {
		return workflow.Reject(req, stepID, actorID, reason, now)
	}, actorID)
}

type transitionFunc func(req *domain.Request, now time.Time) (workflow.Transition, error)

func (e Engine) act(ctx context.Context, requestID string, apply transitionFunc, actorID string) (domain.Request, error) {
	req, err := e.Store.Get(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	now := e.now()
	tr, err := apply(&req, now)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.Store.Update(ctx, &req, transitionEvents(req.ID, actorID, tr, now)...); err != nil {
		return domain.Request{}, err
	}
	if tr.Activated != nil {
		e.dispatch(ctx, tr.Activated.ApproverID, req.ID)
	}
	return req, nil
}

func transitionEvents(requestID, actorID string, tr workflow.Transition, now time.Time) []domain.Event {
	stepType := domain.EventStepApproved
	if tr.Step.Status == domain.StepRejected {
		stepType = domain.EventStepRejected
	}
	evts := []domain.Event{{
		TS:        now,
		Type:      stepType,
		RequestID: requestID,
		StepID:    tr.Step.ID,
		ActorID:   actorID,
		Payload:   map[string]any{"order": tr.Step.Order, "comments": tr.Step.Comments},
	}}
	if tr.Activated != nil {
		evts = append(evts, domain.Event{
			TS:        now,
			Type:      domain.EventStepActivated,
			RequestID: requestID,
			StepID:    tr.Activated.ID,
			ActorID:   actorID,
			Payload:   map[string]any{"order": tr.Activated.Order, "approver_id": tr.Activated.ApproverID},
		})
	}
	switch tr.Outcome {
	case domain.RequestApproved:
		evts = append(evts, domain.Event{TS: now, Type: domain.EventRequestApproved, RequestID: requestID, ActorID: actorID})
	case domain.RequestRejected:
		evts = append(evts, domain.Event{TS: now, Type: domain.EventRequestRejected, RequestID: requestID, ActorID: actorID,
			Payload: map[string]any{"reason": tr.Step.Comments}})
	}
	return evts
}

// ListOptions scope a listing to a viewer and page through the result.
type ListOptions struct {
	Query  query.Query
	Cursor string
	Limit  int
}

type ListResult struct {
	Items      []domain.Request
	View       query.View
	NextCursor string
}

func (e Engine) ListRequests(ctx context.Context, opts ListOptions) (ListResult, error) {
	all, err := e.Store.List(ctx)
	if err != nil {
		return ListResult{}, err
	}
	matched, view, err := e.Views.Select(all, opts.Query)
	if err != nil {
		return ListResult{}, err
	}
	items, next, err := query.Page(matched, opts.Cursor, opts.Limit)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, View: view, NextCursor: next}, nil
}

// Reminder records a nudge sent to the current approver.
type Reminder struct {
	RequestID  string    `json:"request_id"`
	StepID     string    `json:"step_id"`
	ApproverID string    `json:"approver_id"`
	SentAt     time.Time `json:"sent_at"`
}

// SendReminder notifies the approver of a pending step. Repeats inside the
// cooldown window fail with domain.CooldownError.
func (e Engine) SendReminder(ctx context.Context, requestID, stepID, actorID string) (Reminder, error) {
	req, err := e.Store.Get(ctx, requestID)
	if err != nil {
		return Reminder{}, err
	}
	idx := req.StepByID(stepID)
	if idx < 0 {
		return Reminder{}, domain.NotFoundError{Kind: "step", ID: stepID}
	}
	step := req.Chain[idx]
	if step.Status != domain.StepPending {
		return Reminder{}, domain.InvalidTransitionError{StepID: stepID, From: step.Status, Action: "remind"}
	}
	now := e.now()
	if wait, ok := e.Cooldown.Reserve(step.ID, now); !ok {
		return Reminder{}, domain.CooldownError{StepID: step.ID, RetryAfter: wait}
	}
	err = e.Store.AppendEvents(ctx, domain.Event{
		TS:        now,
		Type:      domain.EventStepReminded,
		RequestID: req.ID,
		StepID:    step.ID,
		ActorID:   actorID,
		Payload:   map[string]any{"approver_id": step.ApproverID},
	})
	if err != nil {
		e.Cooldown.Release(step.ID)
		return Reminder{}, fmt.Errorf("record reminder: %w", err)
	}
	e.dispatch(ctx, step.ApproverID, req.ID)
	return Reminder{RequestID: req.ID, StepID: step.ID, ApproverID: step.ApproverID, SentAt: now}, nil
}

// History returns the audit trail of a request, oldest first.
func (e Engine) History(ctx context.Context, requestID string) ([]domain.Event, error) {
	if _, err := e.Store.Get(ctx, requestID); err != nil {
		return nil, err
	}
	return e.Store.Events(ctx, requestID)
}
