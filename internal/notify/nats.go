package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubject = "signoff.reminders"

// NATS publishes one message per notification on Subject.<approverID>.
type NATS struct {
	conn    *nats.Conn
	subject string
	now     func() time.Time
}

func NewNATS(url, subject string, timeout time.Duration) (*NATS, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("signoff"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATS{conn: conn, subject: subject, now: time.Now}, nil
}

func (n *NATS) Subject(approverID string) string {
	return n.subject + "." + approverID
}

func (n *NATS) Notify(ctx context.Context, approverID, requestID string) error {
	data, err := json.Marshal(newMessage(approverID, requestID, n.now()))
	if err != nil {
		return err
	}
	subject := n.Subject(approverID)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return n.conn.FlushWithContext(ctx)
}

func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
