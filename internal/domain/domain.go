package domain

import "time"

type RequestType string

const (
	TypeLeaveRequest         RequestType = "leave_request"
	TypeTimeOff              RequestType = "time_off"
	TypeExpenseReimbursement RequestType = "expense_reimbursement"
	TypeEquipmentRequest     RequestType = "equipment_request"
	TypePolicyException      RequestType = "policy_exception"
	TypePromotionRequest     RequestType = "promotion_request"
	TypeTransferRequest      RequestType = "transfer_request"
)

// KnownTypes lists the built-in request categories. Deployments may route
// additional types through their chain policy.
var KnownTypes = []RequestType{
	TypeLeaveRequest,
	TypeTimeOff,
	TypeExpenseReimbursement,
	TypeEquipmentRequest,
	TypePolicyException,
	TypePromotionRequest,
	TypeTransferRequest,
}

// NeedsDateRange reports whether requests of this type carry a start/end date.
func (t RequestType) NeedsDateRange() bool {
	return t == TypeLeaveRequest || t == TypeTimeOff
}

// NeedsAmount reports whether requests of this type carry a monetary amount.
func (t RequestType) NeedsAmount() bool {
	return t == TypeExpenseReimbursement
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

type StepStatus string

const (
	StepWaiting  StepStatus = "waiting"
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// Acted reports whether the approver of a step in this status has already decided.
func (s StepStatus) Acted() bool {
	return s == StepApproved || s == StepRejected
}

// Fields is the type-specific payload of a request. Dates use the 2006-01-02 layout.
type Fields struct {
	StartDate string  `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   string  `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Amount    float64 `json:"amount,omitempty" yaml:"amount,omitempty"`
	Currency  string  `json:"currency,omitempty" yaml:"currency,omitempty"`
}

// Identity is a member of the organization acting as requester, approver or viewer.
type Identity struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Role         string `json:"role" yaml:"role"`
	DepartmentID string `json:"department_id,omitempty" yaml:"department"`
	ManagerID    string `json:"manager_id,omitempty" yaml:"manager,omitempty"`
}

// Approver is one resolved position of a chain before it becomes a step.
type Approver struct {
	ID         string `json:"approver_id"`
	Name       string `json:"approver_name"`
	Role       string `json:"approver_role"`
	Department string `json:"approver_department,omitempty"`
}

type Step struct {
	ID                 string     `json:"id"`
	Order              int        `json:"order"`
	ApproverID         string     `json:"approver_id"`
	ApproverName       string     `json:"approver_name"`
	ApproverRole       string     `json:"approver_role"`
	ApproverDepartment string     `json:"approver_department,omitempty"`
	Status             StepStatus `json:"status" enum:"waiting,pending,approved,rejected"`
	AssignedAt         *time.Time `json:"assigned_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Comments           string     `json:"comments,omitempty"`
}

// TimeTaken returns completed_at - assigned_at for a completed step.
func (s Step) TimeTaken() (time.Duration, bool) {
	if s.AssignedAt == nil || s.CompletedAt == nil {
		return 0, false
	}
	return s.CompletedAt.Sub(*s.AssignedAt), true
}

type Request struct {
	ID            string      `json:"id"`
	Type          RequestType `json:"type"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	RequesterID   string      `json:"requester_id"`
	RequesterName string      `json:"requester_name"`
	DepartmentID  string      `json:"department_id,omitempty"`
	Urgency       Urgency     `json:"urgency" enum:"low,normal,high"`
	CreatedAt     time.Time   `json:"created_at"`
	Fields        Fields      `json:"fields"`
	Chain         []Step      `json:"chain"`
	Version       int64       `json:"version"`
}

// Status derives the request outcome from its chain.
func (r Request) Status() RequestStatus {
	for _, s := range r.Chain {
		if s.Status == StepRejected {
			return RequestRejected
		}
	}
	if n := len(r.Chain); n > 0 && r.Chain[n-1].Status == StepApproved {
		return RequestApproved
	}
	return RequestPending
}

// PendingStep returns the unique pending step, or nil once the request is terminal.
func (r Request) PendingStep() *Step {
	for i := range r.Chain {
		if r.Chain[i].Status == StepPending {
			return &r.Chain[i]
		}
	}
	return nil
}

// CurrentApprover returns the approver of the pending step, or nil.
func (r Request) CurrentApprover() *Approver {
	s := r.PendingStep()
	if s == nil {
		return nil
	}
	return &Approver{ID: s.ApproverID, Name: s.ApproverName, Role: s.ApproverRole, Department: s.ApproverDepartment}
}

// StepByID returns the index of a step within the chain, or -1.
func (r Request) StepByID(id string) int {
	for i := range r.Chain {
		if r.Chain[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no mutable state with r.
func (r Request) Clone() Request {
	out := r
	out.Chain = make([]Step, len(r.Chain))
	for i, s := range r.Chain {
		if s.AssignedAt != nil {
			t := *s.AssignedAt
			s.AssignedAt = &t
		}
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			s.CompletedAt = &t
		}
		out.Chain[i] = s
	}
	return out
}

type Event struct {
	ID        int64          `json:"id"`
	TS        time.Time      `json:"ts"`
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	StepID    string         `json:"step_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

const (
	EventRequestCreated  = "request.created"
	EventRequestApproved = "request.approved"
	EventRequestRejected = "request.rejected"
	EventStepApproved    = "step.approved"
	EventStepRejected    = "step.rejected"
	EventStepActivated   = "step.activated"
	EventStepReminded    = "step.reminded"
)
