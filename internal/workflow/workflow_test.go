package workflow_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signoff/internal/domain"
	"signoff/internal/workflow"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

var (
	manager = domain.Approver{ID: "mgr-1", Name: "Maya Manager", Role: "manager", Department: "eng"}
	hr      = domain.Approver{ID: "hr-1", Name: "Hugo HR", Role: "hr", Department: "people"}
	admin   = domain.Approver{ID: "adm-1", Name: "Ada Admin", Role: "admin", Department: "ops"}
)

func leaveSubmission() workflow.Submission {
	return workflow.Submission{
		Type:        domain.TypeLeaveRequest,
		Title:       "Summer holiday",
		Description: "Two weeks off",
		Requester:   domain.Identity{ID: "emp-1", Name: "Eve Employee", Role: "employee", DepartmentID: "eng"},
		Fields:      domain.Fields{StartDate: "2024-07-01", EndDate: "2024-07-14"},
	}
}

func build(t *testing.T, approvers ...domain.Approver) domain.Request {
	t.Helper()
	sub := leaveSubmission()
	require.NoError(t, workflow.Validate(&sub))
	req, err := workflow.Build(sub, approvers, t0)
	require.NoError(t, err)
	return req
}

func pendingCount(req domain.Request) int {
	n := 0
	for _, s := range req.Chain {
		if s.Status == domain.StepPending {
			n++
		}
	}
	return n
}

func TestBuildActivatesFirstStep(t *testing.T) {
	req := build(t, manager, hr)

	require.Len(t, req.Chain, 2)
	assert.Equal(t, 1, req.Chain[0].Order)
	assert.Equal(t, 2, req.Chain[1].Order)
	assert.Equal(t, domain.StepPending, req.Chain[0].Status)
	assert.Equal(t, domain.StepWaiting, req.Chain[1].Status)
	require.NotNil(t, req.Chain[0].AssignedAt)
	assert.Equal(t, t0, *req.Chain[0].AssignedAt)
	assert.Nil(t, req.Chain[1].AssignedAt)
	assert.Equal(t, domain.RequestPending, req.Status())
	assert.Equal(t, manager.ID, req.CurrentApprover().ID)
	assert.Equal(t, domain.UrgencyNormal, req.Urgency)
	assert.EqualValues(t, 1, req.Version)
	assert.NoError(t, workflow.CheckInvariants(req))
}

func TestBuildWithoutApprovers(t *testing.T) {
	_, err := workflow.Build(leaveSubmission(), nil, t0)
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Fields[0].Field)
}

func TestApproveAdvancesChain(t *testing.T) {
	req := build(t, manager, hr)
	later := t0.Add(43 * time.Hour)

	tr, err := workflow.Approve(&req, req.Chain[0].ID, manager.ID, "enjoy", later)
	require.NoError(t, err)

	assert.Equal(t, domain.StepApproved, req.Chain[0].Status)
	assert.Equal(t, "enjoy", req.Chain[0].Comments)
	assert.Equal(t, later, *req.Chain[0].CompletedAt)
	assert.Equal(t, domain.StepPending, req.Chain[1].Status)
	assert.Equal(t, later, *req.Chain[1].AssignedAt)
	assert.Equal(t, domain.RequestPending, req.Status())
	assert.Equal(t, hr.ID, req.CurrentApprover().ID)
	require.NotNil(t, tr.Activated)
	assert.Equal(t, hr.ID, tr.Activated.ApproverID)
	assert.Equal(t, domain.RequestPending, tr.Outcome)
	assert.Equal(t, 1, pendingCount(req))
	assert.NoError(t, workflow.CheckInvariants(req))

	taken, ok := req.Chain[0].TimeTaken()
	require.True(t, ok)
	assert.Equal(t, "1 day 19 hours", workflow.FormatDuration(taken))
}

func TestApproveLastStepCompletesRequest(t *testing.T) {
	req := build(t, manager)

	tr, err := workflow.Approve(&req, req.Chain[0].ID, manager.ID, "", t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Nil(t, tr.Activated)
	assert.Equal(t, domain.RequestApproved, tr.Outcome)
	assert.Equal(t, domain.RequestApproved, req.Status())
	assert.Nil(t, req.CurrentApprover())
	assert.Nil(t, req.PendingStep())
	assert.NoError(t, workflow.CheckInvariants(req))
}

func TestRejectFreezesRemainingSteps(t *testing.T) {
	req := build(t, manager, hr, admin)
	_, err := workflow.Approve(&req, req.Chain[0].ID, manager.ID, "", t0.Add(time.Hour))
	require.NoError(t, err)

	tr, err := workflow.Reject(&req, req.Chain[1].ID, hr.ID, "budget", t0.Add(2*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, domain.RequestRejected, tr.Outcome)
	assert.Equal(t, domain.StepRejected, req.Chain[1].Status)
	assert.Equal(t, "budget", req.Chain[1].Comments)
	assert.Equal(t, domain.StepWaiting, req.Chain[2].Status)
	assert.Nil(t, req.Chain[2].AssignedAt)
	assert.Nil(t, req.CurrentApprover())
	assert.NoError(t, workflow.CheckInvariants(req))

	// the frozen step can never be acted upon
	_, err = workflow.Approve(&req, req.Chain[2].ID, admin.ID, "", t0.Add(3*time.Hour))
	var terr domain.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.StepWaiting, terr.From)
	assert.Equal(t, domain.RequestRejected, req.Status())
}

func TestTransitionErrors(t *testing.T) {
	tests := []struct {
		name   string
		act    func(req *domain.Request) error
		assert func(t *testing.T, err error)
	}{
		{
			name: "unknown step",
			act: func(req *domain.Request) error {
				_, err := workflow.Approve(req, "nope", manager.ID, "", t0)
				return err
			},
			assert: func(t *testing.T, err error) {
				var nf domain.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, "step", nf.Kind)
			},
		},
		{
			name: "approve twice",
			act: func(req *domain.Request) error {
				if _, err := workflow.Approve(req, req.Chain[0].ID, manager.ID, "", t0); err != nil {
					return err
				}
				_, err := workflow.Approve(req, req.Chain[0].ID, manager.ID, "", t0)
				return err
			},
			assert: func(t *testing.T, err error) {
				var terr domain.InvalidTransitionError
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, domain.StepApproved, terr.From)
			},
		},
		{
			name: "waiting step",
			act: func(req *domain.Request) error {
				_, err := workflow.Reject(req, req.Chain[1].ID, hr.ID, "no", t0)
				return err
			},
			assert: func(t *testing.T, err error) {
				var terr domain.InvalidTransitionError
				require.ErrorAs(t, err, &terr)
			},
		},
		{
			name: "wrong actor approves",
			act: func(req *domain.Request) error {
				_, err := workflow.Approve(req, req.Chain[0].ID, hr.ID, "", t0)
				return err
			},
			assert: func(t *testing.T, err error) {
				var uerr domain.UnauthorizedActorError
				require.ErrorAs(t, err, &uerr)
				assert.Equal(t, hr.ID, uerr.ActorID)
			},
		},
		{
			name: "wrong actor rejects",
			act: func(req *domain.Request) error {
				_, err := workflow.Reject(req, req.Chain[0].ID, "emp-1", "mine", t0)
				return err
			},
			assert: func(t *testing.T, err error) {
				var uerr domain.UnauthorizedActorError
				require.ErrorAs(t, err, &uerr)
			},
		},
		{
			name: "reject without reason",
			act: func(req *domain.Request) error {
				_, err := workflow.Reject(req, req.Chain[0].ID, manager.ID, "  ", t0)
				return err
			},
			assert: func(t *testing.T, err error) {
				var verr domain.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "reason", verr.Fields[0].Field)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := build(t, manager, hr)
			err := tc.act(&req)
			require.Error(t, err)
			tc.assert(t, err)
			assert.LessOrEqual(t, pendingCount(req), 1)
			assert.NoError(t, workflow.CheckInvariants(req))
		})
	}
}

func TestOrderNeverChanges(t *testing.T) {
	req := build(t, manager, hr, admin)
	ids := []string{req.Chain[0].ID, req.Chain[1].ID, req.Chain[2].ID}
	_, err := workflow.Approve(&req, ids[0], manager.ID, "", t0)
	require.NoError(t, err)
	_, err = workflow.Approve(&req, ids[1], hr.ID, "", t0)
	require.NoError(t, err)
	_, err = workflow.Approve(&req, ids[2], admin.ID, "", t0)
	require.NoError(t, err)
	for i, s := range req.Chain {
		assert.Equal(t, i+1, s.Order)
		assert.Equal(t, ids[i], s.ID)
	}
	assert.Equal(t, domain.RequestApproved, req.Status())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *workflow.Submission)
		fields []string
	}{
		{name: "valid leave", mutate: func(s *workflow.Submission) {}},
		{
			name:   "missing dates",
			mutate: func(s *workflow.Submission) { s.Fields = domain.Fields{} },
			fields: []string{"start_date", "end_date"},
		},
		{
			name:   "reversed dates",
			mutate: func(s *workflow.Submission) { s.Fields.StartDate, s.Fields.EndDate = "2024-07-14", "2024-07-01" },
			fields: []string{"end_date"},
		},
		{
			name:   "bad date",
			mutate: func(s *workflow.Submission) { s.Fields.StartDate = "01/07/2024" },
			fields: []string{"start_date"},
		},
		{
			name: "time off same day",
			mutate: func(s *workflow.Submission) {
				s.Type = domain.TypeTimeOff
				s.Fields = domain.Fields{StartDate: "2024-07-01", EndDate: "2024-07-01"}
			},
		},
		{
			name: "expense without amount",
			mutate: func(s *workflow.Submission) {
				s.Type = domain.TypeExpenseReimbursement
				s.Fields = domain.Fields{}
			},
			fields: []string{"amount"},
		},
		{
			name: "expense negative amount",
			mutate: func(s *workflow.Submission) {
				s.Type = domain.TypeExpenseReimbursement
				s.Fields = domain.Fields{Amount: -3}
			},
			fields: []string{"amount"},
		},
		{
			name: "equipment needs nothing extra",
			mutate: func(s *workflow.Submission) {
				s.Type = domain.TypeEquipmentRequest
				s.Fields = domain.Fields{}
			},
		},
		{name: "client id", mutate: func(s *workflow.Submission) { s.ID = " leave-2024-07 " }},
		{
			name:   "id with slash",
			mutate: func(s *workflow.Submission) { s.ID = "hr/leave-1" },
			fields: []string{"id"},
		},
		{
			name:   "id with cursor separator",
			mutate: func(s *workflow.Submission) { s.ID = "leave|1" },
			fields: []string{"id"},
		},
		{
			name: "missing basics",
			mutate: func(s *workflow.Submission) {
				s.Type = domain.TypePolicyException
				s.Title = " "
				s.Description = ""
				s.Urgency = "asap"
			},
			fields: []string{"title", "description", "urgency"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := leaveSubmission()
			tc.mutate(&sub)
			err := workflow.Validate(&sub)
			if len(tc.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			var verr domain.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			var got []string
			for _, f := range verr.Fields {
				got = append(got, f.Field)
			}
			assert.Equal(t, tc.fields, got)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 minutes"},
		{40 * time.Second, "0 minutes"},
		{time.Minute, "1 minute"},
		{59 * time.Minute, "59 minutes"},
		{time.Hour, "1 hour"},
		{3*time.Hour + 15*time.Minute, "3 hours 15 minutes"},
		{24 * time.Hour, "1 day"},
		{43 * time.Hour, "1 day 19 hours"},
		{48*time.Hour + 5*time.Minute, "2 days 5 minutes"},
		{50*time.Hour + 30*time.Minute, "2 days 2 hours"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, workflow.FormatDuration(tc.in), tc.in.String())
	}
}
