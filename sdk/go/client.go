package signoffsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Signoff HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set. Servers only
	// accept it with server.allow_dev_header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Step is one approver position in a request's chain.
type Step struct {
	ID           string     `json:"id"`
	Order        int        `json:"order"`
	ApproverID   string     `json:"approver_id"`
	ApproverName string     `json:"approver_name"`
	ApproverRole string     `json:"approver_role"`
	Status       string     `json:"status"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Comments     string     `json:"comments,omitempty"`
	TimeTaken    string     `json:"time_taken,omitempty"`
}

// Fields carries type-specific request data.
type Fields struct {
	StartDate string  `json:"start_date,omitempty"`
	EndDate   string  `json:"end_date,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Currency  string  `json:"currency,omitempty"`
}

// Request represents the API request model.
type Request struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	Urgency       string    `json:"urgency"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	Fields        Fields    `json:"fields"`
	Chain         []Step    `json:"chain"`
	Version       int64     `json:"version"`
}

// PendingStep returns the step awaiting a decision, if any.
func (r Request) PendingStep() (Step, bool) {
	for _, s := range r.Chain {
		if s.Status == "pending" {
			return s, true
		}
	}
	return Step{}, false
}

// NewRequest is the submission payload.
type NewRequest struct {
	ID          string  `json:"id,omitempty"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Urgency     string  `json:"urgency,omitempty"`
	Fields      *Fields `json:"fields,omitempty"`
}

// ListParams narrows a listing. Zero values are omitted.
type ListParams struct {
	View     string
	Search   string
	DateFrom string
	DateTo   string
	Status   string
	Type     string
	Limit    int
	Cursor   string
}

// RequestPage wraps list responses with cursors.
type RequestPage struct {
	Items      []Request `json:"items"`
	View       string    `json:"view"`
	NextCursor string    `json:"next_cursor"`
}

// Event represents an audit entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        time.Time      `json:"ts"`
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	StepID    string         `json:"step_id"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

// Reminder acknowledges a reminder.
type Reminder struct {
	RequestID  string    `json:"request_id"`
	StepID     string    `json:"step_id"`
	ApproverID string    `json:"approver_id"`
	SentAt     time.Time `json:"sent_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRequest submits a request as the authenticated caller.
func (c *Client) CreateRequest(ctx context.Context, in NewRequest) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests", in, &resp)
	return resp, err
}

// GetRequest fetches a request by id.
func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListRequests returns one page of requests visible to the caller.
func (c *Client) ListRequests(ctx context.Context, p ListParams) (RequestPage, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("view", p.View)
	set("search", p.Search)
	set("date_from", p.DateFrom)
	set("date_to", p.DateTo)
	set("status", p.Status)
	set("type", p.Type)
	set("cursor", p.Cursor)
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	endpoint := "requests"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp RequestPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Approve approves a pending step.
func (c *Client) Approve(ctx context.Context, requestID, stepID, comment string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, stepPath(requestID, stepID, "approve"), map[string]any{"comment": comment}, &resp)
	return resp, err
}

// Reject rejects a pending step. The server requires a reason.
func (c *Client) Reject(ctx context.Context, requestID, stepID, reason string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, stepPath(requestID, stepID, "reject"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Remind nudges the approver of a pending step.
func (c *Client) Remind(ctx context.Context, requestID, stepID string) (Reminder, error) {
	var resp Reminder
	err := c.do(ctx, http.MethodPost, stepPath(requestID, stepID, "remind"), nil, &resp)
	return resp, err
}

// Events returns the audit history of a request.
func (c *Client) Events(ctx context.Context, requestID string) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "requests/"+url.PathEscape(requestID)+"/events", nil, &resp)
	return resp.Items, err
}

func stepPath(requestID, stepID, action string) string {
	return fmt.Sprintf("requests/%s/steps/%s/%s", url.PathEscape(requestID), url.PathEscape(stepID), action)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
