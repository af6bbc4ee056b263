package server

import (
	"time"

	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/workflow"
)

// Request payloads

type CreateRequestBody struct {
	ID          string         `json:"id,omitempty" doc:"Optional client supplied id"`
	Type        string         `json:"type" example:"leave_request"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Urgency     string         `json:"urgency,omitempty" enum:"low,normal,high"`
	Fields      *domain.Fields `json:"fields,omitempty"`
}

type ApproveBody struct {
	Comment string `json:"comment,omitempty"`
}

type RejectBody struct {
	Reason string `json:"reason,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" example:"mgr-1"`
}

// Response payloads

type StepResponse struct {
	ID                 string     `json:"id"`
	Order              int        `json:"order"`
	ApproverID         string     `json:"approver_id"`
	ApproverName       string     `json:"approver_name"`
	ApproverRole       string     `json:"approver_role"`
	ApproverDepartment string     `json:"approver_department,omitempty"`
	Status             string     `json:"status"`
	AssignedAt         *time.Time `json:"assigned_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Comments           string     `json:"comments,omitempty"`
	TimeTaken          string     `json:"time_taken,omitempty" example:"1 day 19 hours"`
}

type RequestResponse struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	RequesterID     string           `json:"requester_id"`
	RequesterName   string           `json:"requester_name"`
	DepartmentID    string           `json:"department_id,omitempty"`
	Urgency         string           `json:"urgency"`
	Status          string           `json:"status" enum:"pending,approved,rejected"`
	CreatedAt       time.Time        `json:"created_at"`
	Fields          domain.Fields    `json:"fields"`
	Chain           []StepResponse   `json:"chain"`
	CurrentApprover *domain.Approver `json:"current_approver"`
	Version         int64            `json:"version"`
}

type RequestList struct {
	Items      []RequestResponse `json:"items"`
	View       string            `json:"view"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        time.Time      `json:"ts"`
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	StepID    string         `json:"step_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type EventList struct {
	Items []EventResponse `json:"items"`
}

type ReminderResponse = engine.Reminder

type MeResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	Source       string `json:"source"`
	CanViewAll   bool   `json:"can_view_all"`
}

type DevLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRequestResponse renders a request with its derived status, current
// approver and per-step time taken.
func NewRequestResponse(r domain.Request) RequestResponse {
	out := RequestResponse{
		ID:              r.ID,
		Type:            string(r.Type),
		Title:           r.Title,
		Description:     r.Description,
		RequesterID:     r.RequesterID,
		RequesterName:   r.RequesterName,
		DepartmentID:    r.DepartmentID,
		Urgency:         string(r.Urgency),
		Status:          string(r.Status()),
		CreatedAt:       r.CreatedAt,
		Fields:          r.Fields,
		Chain:           make([]StepResponse, 0, len(r.Chain)),
		CurrentApprover: r.CurrentApprover(),
		Version:         r.Version,
	}
	for _, s := range r.Chain {
		step := StepResponse{
			ID:                 s.ID,
			Order:              s.Order,
			ApproverID:         s.ApproverID,
			ApproverName:       s.ApproverName,
			ApproverRole:       s.ApproverRole,
			ApproverDepartment: s.ApproverDepartment,
			Status:             string(s.Status),
			AssignedAt:         s.AssignedAt,
			CompletedAt:        s.CompletedAt,
			Comments:           s.Comments,
		}
		if d, ok := s.TimeTaken(); ok {
			step.TimeTaken = workflow.FormatDuration(d)
		}
		out.Chain = append(out.Chain, step)
	}
	return out
}

func NewRequestResponses(items []domain.Request) []RequestResponse {
	out := make([]RequestResponse, 0, len(items))
	for _, r := range items {
		out = append(out, NewRequestResponse(r))
	}
	return out
}

// NewRequestList renders one page of a listing.
func NewRequestList(res engine.ListResult) RequestList {
	return RequestList{Items: NewRequestResponses(res.Items), View: string(res.View), NextCursor: res.NextCursor}
}

// NewEventList renders an audit history.
func NewEventList(evts []domain.Event) EventList {
	out := EventList{Items: make([]EventResponse, 0, len(evts))}
	for _, evt := range evts {
		out.Items = append(out.Items, NewEventResponse(evt))
	}
	return out
}

func NewEventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		RequestID: e.RequestID,
		StepID:    e.StepID,
		ActorID:   e.ActorID,
		Payload:   e.Payload,
	}
}
