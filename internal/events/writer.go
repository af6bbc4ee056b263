// Package events appends audit records inside the caller's transaction.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signoff/internal/db"
	"signoff/internal/domain"
)

// TimeLayout is fixed-width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt domain.Event) error {
	ts := evt.TS
	if ts.IsZero() {
		if w.Now == nil {
			w.Now = time.Now
		}
		ts = w.Now()
	}
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,request_id,step_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		ts.UTC().Format(TimeLayout), evt.Type, evt.RequestID, nullable(evt.StepID), nullable(evt.ActorID), string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evt.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
