package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/events"
)

// Repo is the database/sql Store. Every write runs in one transaction
// together with its audit events.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func (r Repo) q(query string) string { return r.Dialect.Rebind(query) }

func (r Repo) eventWriter() events.Writer { return events.Writer{Dialect: r.Dialect} }

const requestColumns = `id,type,title,description,requester_id,requester_name,department_id,urgency,fields_json,created_at,version`

const stepColumns = `id,request_id,step_order,approver_id,approver_name,approver_role,approver_department,status,assigned_at,completed_at,comments`

func (r Repo) Create(ctx context.Context, req domain.Request, evts ...domain.Event) error {
	fields, err := json.Marshal(req.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var taken int
	err = tx.QueryRowContext(ctx, r.q(`SELECT COUNT(1) FROM approval_requests WHERE id=?`), req.ID).Scan(&taken)
	if err != nil {
		return fmt.Errorf("check request id: %w", err)
	}
	if taken > 0 {
		return domain.ConflictError{Kind: "request", ID: req.ID}
	}
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO approval_requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		req.ID, string(req.Type), req.Title, req.Description, req.RequesterID, req.RequesterName, nullable(req.DepartmentID),
		string(req.Urgency), string(fields), formatTime(req.CreatedAt), req.Version)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	for _, s := range req.Chain {
		_, err := tx.ExecContext(ctx, r.q(`INSERT INTO approval_steps(`+stepColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
			s.ID, req.ID, s.Order, s.ApproverID, s.ApproverName, s.ApproverRole, nullable(s.ApproverDepartment),
			string(s.Status), nullableTime(s.AssignedAt), nullableTime(s.CompletedAt), nullable(s.Comments))
		if err != nil {
			return fmt.Errorf("insert step %d: %w", s.Order, err)
		}
	}
	if err := r.appendTx(ctx, tx, evts); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) Get(ctx context.Context, id string) (domain.Request, error) {
	row := r.DB.QueryRowContext(ctx, r.q(`SELECT `+requestColumns+` FROM approval_requests WHERE id=?`), id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return req, notFound(id)
	}
	if err != nil {
		return req, fmt.Errorf("get request: %w", err)
	}
	steps, err := r.steps(ctx, r.q(`SELECT `+stepColumns+` FROM approval_steps WHERE request_id=? ORDER BY step_order`), id)
	if err != nil {
		return req, err
	}
	req.Chain = steps[id]
	return req, nil
}

func (r Repo) List(ctx context.Context) ([]domain.Request, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+requestColumns+` FROM approval_requests ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	steps, err := r.steps(ctx, `SELECT `+stepColumns+` FROM approval_steps ORDER BY request_id, step_order`)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Chain = steps[res[i].ID]
	}
	return res, nil
}

func (r Repo) Update(ctx context.Context, req *domain.Request, evts ...domain.Event) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, r.q(`UPDATE approval_requests SET version=version+1 WHERE id=? AND version=?`), req.ID, req.Version)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, r.q(`SELECT 1 FROM approval_requests WHERE id=?`), req.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(req.ID)
		}
		if err != nil {
			return err
		}
		return domain.StaleStateError{RequestID: req.ID}
	}
	for _, s := range req.Chain {
		_, err := tx.ExecContext(ctx, r.q(`UPDATE approval_steps SET status=?, assigned_at=?, completed_at=?, comments=? WHERE id=? AND request_id=?`),
			string(s.Status), nullableTime(s.AssignedAt), nullableTime(s.CompletedAt), nullable(s.Comments), s.ID, req.ID)
		if err != nil {
			return fmt.Errorf("update step %s: %w", s.ID, err)
		}
	}
	if err := r.appendTx(ctx, tx, evts); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	req.Version++
	return nil
}

func (r Repo) AppendEvents(ctx context.Context, evts ...domain.Event) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.appendTx(ctx, tx, evts); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) appendTx(ctx context.Context, tx *sql.Tx, evts []domain.Event) error {
	w := r.eventWriter()
	for _, e := range evts {
		if err := w.Append(ctx, tx, e); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the audit trail of one request, oldest first.
func (r Repo) Events(ctx context.Context, requestID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,ts,type,request_id,step_id,actor_id,payload_json FROM events WHERE request_id=? ORDER BY id ASC`), requestID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e                      domain.Event
			ts                     string
			stepID, actor, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.RequestID, &stepID, &actor, &payload); err != nil {
			return nil, err
		}
		if e.TS, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		e.ActorID = actor.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode event %d payload: %w", e.ID, err)
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (domain.Request, error) {
	var (
		req               domain.Request
		typ, urgency      string
		dept              sql.NullString
		fields, createdAt string
	)
	err := row.Scan(&req.ID, &typ, &req.Title, &req.Description, &req.RequesterID, &req.RequesterName, &dept,
		&urgency, &fields, &createdAt, &req.Version)
	if err != nil {
		return req, err
	}
	req.Type = domain.RequestType(typ)
	req.Urgency = domain.Urgency(urgency)
	req.DepartmentID = dept.String
	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return req, err
	}
	if fields != "" {
		if err := json.Unmarshal([]byte(fields), &req.Fields); err != nil {
			return req, fmt.Errorf("decode request %s fields: %w", req.ID, err)
		}
	}
	return req, nil
}

func (r Repo) steps(ctx context.Context, query string, args ...any) (map[string][]domain.Step, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()
	out := map[string][]domain.Step{}
	for rows.Next() {
		var (
			s                       domain.Step
			requestID, status       string
			dept, comments          sql.NullString
			assignedAt, completedAt sql.NullString
		)
		if err := rows.Scan(&s.ID, &requestID, &s.Order, &s.ApproverID, &s.ApproverName, &s.ApproverRole, &dept,
			&status, &assignedAt, &completedAt, &comments); err != nil {
			return nil, err
		}
		s.Status = domain.StepStatus(status)
		s.ApproverDepartment = dept.String
		s.Comments = comments.String
		if s.AssignedAt, err = parseNullTime(assignedAt); err != nil {
			return nil, err
		}
		if s.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		out[requestID] = append(out[requestID], s)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(events.TimeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return t, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t.UTC(), nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
