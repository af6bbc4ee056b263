package notify

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const cooldownEntries = 4096

// Cooldown limits reminders to one per step per window. Entries expire from
// the LRU after the window, so memory stays bounded.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	sent   *expirable.LRU[string, time.Time]
}

// NewCooldown returns nil for a zero window; a nil Cooldown allows everything.
func NewCooldown(window time.Duration) *Cooldown {
	if window <= 0 {
		return nil
	}
	return &Cooldown{
		window: window,
		sent:   expirable.NewLRU[string, time.Time](cooldownEntries, nil, window),
	}
}

// Reserve records a reminder for stepID at now. When the previous one is
// still inside the window it returns false and the remaining wait.
func (c *Cooldown) Reserve(stepID string, now time.Time) (time.Duration, bool) {
	if c == nil {
		return 0, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.sent.Get(stepID); ok {
		if wait := c.window - now.Sub(last); wait > 0 {
			return wait, false
		}
	}
	c.sent.Add(stepID, now)
	return 0, true
}

// Release drops a reservation, used when the reminder could not be recorded.
func (c *Cooldown) Release(stepID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sent.Remove(stepID)
	c.mu.Unlock()
}
