package workflow

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"signoff/internal/domain"
)

const dateLayout = "2006-01-02"

// Submission is the payload a requester files.
type Submission struct {
	ID          string
	Type        domain.RequestType
	Title       string
	Description string
	Requester   domain.Identity
	Urgency     domain.Urgency
	Fields      domain.Fields
}

// Validate checks required fields by request type and normalizes the submission.
func Validate(sub *Submission) error {
	var verr domain.ValidationError
	sub.Title = strings.TrimSpace(sub.Title)
	sub.Description = strings.TrimSpace(sub.Description)
	sub.Type = domain.RequestType(strings.TrimSpace(string(sub.Type)))
	sub.ID = strings.TrimSpace(sub.ID)
	// ids travel in URL paths and list cursors
	if strings.ContainsAny(sub.ID, "/|") {
		verr.Add("id", "must not contain '/' or '|'")
	}
	if sub.Type == "" {
		verr.Add("type", "required")
	}
	if sub.Title == "" {
		verr.Add("title", "required")
	}
	if sub.Description == "" {
		verr.Add("description", "required")
	}
	if strings.TrimSpace(sub.Requester.ID) == "" {
		verr.Add("requester", "required")
	}
	if sub.Urgency == "" {
		sub.Urgency = domain.UrgencyNormal
	}
	if !sub.Urgency.Valid() {
		verr.Add("urgency", "must be one of low, normal, high")
	}
	if sub.Type.NeedsDateRange() {
		start, startOK := parseDate(&verr, "start_date", sub.Fields.StartDate)
		end, endOK := parseDate(&verr, "end_date", sub.Fields.EndDate)
		if startOK && endOK && start.After(end) {
			verr.Add("end_date", "must not be before start_date")
		}
	}
	if sub.Type.NeedsAmount() && !(sub.Fields.Amount > 0) {
		verr.Add("amount", "must be a positive number")
	}
	return verr.Err()
}

func parseDate(verr *domain.ValidationError, field, value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		verr.Add(field, "required")
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		verr.Add(field, "must be a date formatted YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}

// Build creates a request from a validated submission and its resolved chain.
// Step 1 starts pending, the rest waiting.
func Build(sub Submission, approvers []domain.Approver, now time.Time) (domain.Request, error) {
	if len(approvers) == 0 {
		var verr domain.ValidationError
		verr.Add("type", "no approvers resolved for "+string(sub.Type))
		return domain.Request{}, verr
	}
	ts := now.UTC()
	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}
	req := domain.Request{
		ID:            id,
		Type:          sub.Type,
		Title:         sub.Title,
		Description:   sub.Description,
		RequesterID:   sub.Requester.ID,
		RequesterName: sub.Requester.Name,
		DepartmentID:  sub.Requester.DepartmentID,
		Urgency:       sub.Urgency,
		CreatedAt:     ts,
		Fields:        sub.Fields,
		Chain:         make([]domain.Step, 0, len(approvers)),
		Version:       1,
	}
	for i, a := range approvers {
		step := domain.Step{
			ID:                 uuid.NewString(),
			Order:              i + 1,
			ApproverID:         a.ID,
			ApproverName:       a.Name,
			ApproverRole:       a.Role,
			ApproverDepartment: a.Department,
			Status:             domain.StepWaiting,
		}
		if i == 0 {
			assigned := ts
			step.Status = domain.StepPending
			step.AssignedAt = &assigned
		}
		req.Chain = append(req.Chain, step)
	}
	return req, nil
}
