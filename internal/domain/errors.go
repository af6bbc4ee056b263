package domain

import (
	"fmt"
	"strings"
	"time"
)

// FieldError names one missing or invalid submission field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every field that failed submission checks.
type ValidationError struct {
	Fields []FieldError
}

func (e ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Add records a field failure.
func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// Err returns nil when no field failed.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return *e
}

// NotFoundError indicates an unknown request or step id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidTransitionError indicates an action on a step that is not pending.
type InvalidTransitionError struct {
	StepID string
	From   StepStatus
	Action string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s step %s: status is %s, not pending", e.Action, e.StepID, e.From)
}

// UnauthorizedActorError indicates the actor is not the step's designated approver.
type UnauthorizedActorError struct {
	StepID  string
	ActorID string
}

func (e UnauthorizedActorError) Error() string {
	return fmt.Sprintf("actor %s is not the approver of step %s", e.ActorID, e.StepID)
}

// ConflictError indicates an id that is already taken.
type ConflictError struct {
	Kind string
	ID   string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
}

// StaleStateError indicates another actor changed the request between read and write.
type StaleStateError struct {
	RequestID string
}

func (e StaleStateError) Error() string {
	return fmt.Sprintf("request %s was modified concurrently; reload and retry", e.RequestID)
}

// CooldownError indicates a reminder for the step was sent too recently.
type CooldownError struct {
	StepID     string
	RetryAfter time.Duration
}

func (e CooldownError) Error() string {
	return fmt.Sprintf("reminder for step %s already sent; retry in %s", e.StepID, e.RetryAfter.Round(time.Second))
}

// ForbiddenError indicates the viewer's role may not perform the action.
type ForbiddenError struct {
	Action string
	Role   string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}
