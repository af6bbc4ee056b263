// Package notify delivers "you have something to approve" messages to
// approvers. Delivery is best effort: failures are logged, never surfaced to
// the workflow.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Notifier is the outbound port. Implementations may block; callers go
// through a Dispatcher to keep chain mutations independent of delivery.
type Notifier interface {
	Notify(ctx context.Context, approverID, requestID string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, approverID, requestID string) error

func (f Func) Notify(ctx context.Context, approverID, requestID string) error {
	return f(ctx, approverID, requestID)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// Log writes each notification as a structured log line. It is the default
// sink for local and single-node setups.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, approverID, requestID string) error {
	l.Logger.Info().
		Str("approver_id", approverID).
		Str("request_id", requestID).
		Msg("notify: approval needed")
	return nil
}

// Message is the JSON body published by the NATS and webhook sinks.
type Message struct {
	Type       string    `json:"type"`
	ApproverID string    `json:"approver_id"`
	RequestID  string    `json:"request_id"`
	SentAt     time.Time `json:"sent_at"`
}

const messageType = "approval.needed"

func newMessage(approverID, requestID string, now time.Time) Message {
	return Message{Type: messageType, ApproverID: approverID, RequestID: requestID, SentAt: now.UTC()}
}
