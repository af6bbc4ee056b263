package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher runs notifications on their own goroutines with a deadline.
// The caller's context is only used for values; cancelling it does not abort
// a delivery already handed off.
type Dispatcher struct {
	notifier Notifier
	log      zerolog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, log zerolog.Logger, timeout time.Duration) *Dispatcher {
	if n == nil {
		n = Nop{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: n, log: log, timeout: timeout}
}

// Dispatch returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, approverID, requestID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, approverID, requestID); err != nil {
			d.log.Warn().Err(err).
				Str("approver_id", approverID).
				Str("request_id", requestID).
				Msg("notify: delivery failed (non-fatal)")
			return
		}
		d.log.Debug().
			Str("approver_id", approverID).
			Str("request_id", requestID).
			Msg("notify: delivered")
	}()
}

// Wait blocks until every dispatched notification finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
