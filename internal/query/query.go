// Package query selects the requests a viewer sees: a base set chosen by
// view, narrowed by ANDed filters, newest first.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"signoff/internal/domain"
)

type View string

const (
	ViewTodo View = "todo"
	ViewDone View = "done"
	ViewTeam View = "team"
	ViewAll  View = "all"
)

func (v View) Valid() bool {
	switch v {
	case ViewTodo, ViewDone, ViewTeam, ViewAll:
		return true
	}
	return false
}

// Filters are ANDed. Zero values match everything. DateFrom and DateTo are
// inclusive bounds on created_at.
type Filters struct {
	Search   string
	DateFrom *time.Time
	DateTo   *time.Time
	Status   domain.RequestStatus
	Type     domain.RequestType
}

type Query struct {
	ViewerID   string
	ViewerRole string
	View       View
	Filters    Filters
}

// Selector applies queries. AllRoles lists roles allowed to use the "all"
// view; an empty list allows every role.
type Selector struct {
	AllRoles []string
}

func (s Selector) CanViewAll(role string) bool {
	if len(s.AllRoles) == 0 {
		return true
	}
	for _, r := range s.AllRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// ResolveView fills in the default view and enforces the "all" gate.
func (s Selector) ResolveView(v View, role string) (View, error) {
	if v == "" {
		if s.CanViewAll(role) {
			return ViewAll, nil
		}
		return ViewTodo, nil
	}
	if !v.Valid() {
		var verr domain.ValidationError
		verr.Add("view", fmt.Sprintf("must be one of todo, done, team, all (got %q)", v))
		return "", verr
	}
	if v == ViewAll && !s.CanViewAll(role) {
		return "", domain.ForbiddenError{Action: "view all requests", Role: role}
	}
	return v, nil
}

// Select returns matching requests ordered by created_at desc, then id desc.
// The input slice is not modified.
func (s Selector) Select(reqs []domain.Request, q Query) ([]domain.Request, View, error) {
	view, err := s.ResolveView(q.View, q.ViewerRole)
	if err != nil {
		return nil, "", err
	}
	if err := q.Filters.validate(); err != nil {
		return nil, "", err
	}
	out := make([]domain.Request, 0, len(reqs))
	for _, r := range reqs {
		if inView(r, view, q.ViewerID) && q.Filters.match(r) {
			out = append(out, r)
		}
	}
	Sort(out)
	return out, view, nil
}

func inView(r domain.Request, v View, viewer string) bool {
	switch v {
	case ViewTodo:
		a := r.CurrentApprover()
		return a != nil && a.ID == viewer
	case ViewDone:
		for _, s := range r.Chain {
			if s.ApproverID == viewer && s.Status.Acted() {
				return true
			}
		}
		return false
	case ViewTeam:
		// Everyone but the viewer. Reporting lines are not consulted.
		return r.RequesterID != viewer
	default:
		return true
	}
}

func (f Filters) validate() error {
	var verr domain.ValidationError
	switch f.Status {
	case "", domain.RequestPending, domain.RequestApproved, domain.RequestRejected:
	default:
		verr.Add("status", "must be one of pending, approved, rejected")
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		verr.Add("date_to", "must not be before date_from")
	}
	return verr.Err()
}

func (f Filters) match(r domain.Request) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.Status() != f.Status {
		return false
	}
	if f.DateFrom != nil && r.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && r.CreatedAt.After(*f.DateTo) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		hay := []string{r.Title, r.Description, r.ID, r.RequesterName}
		found := false
		for _, h := range hay {
			if strings.Contains(strings.ToLower(h), term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Sort orders requests newest first with id as the tie breaker.
func Sort(reqs []domain.Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID > reqs[j].ID
	})
}

const dateLayout = "2006-01-02"

// ParseBound parses a date filter. Dates without a time cover the whole day:
// as a lower bound they start at 00:00 UTC, as an upper bound they end at the
// last instant of the day.
func ParseBound(raw string, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("expected %s or RFC3339, got %q", dateLayout, raw)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
