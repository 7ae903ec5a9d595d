package timeradapter

import (
	"sync/atomic"
	"time"
)

// NoopClock is the installable no-op clock the surrounding runtime gives
// the FSM library as its timer source when the Timer Adapter is active.
// Real delays flow through Adapter.Schedule/Cancel, not through this
// clock: SetTimeout returns an opaque non-zero token and does nothing
// further, ClearTimeout does nothing.
type NoopClock struct {
	counter atomic.Int64
}

// SetTimeout satisfies actor.Clock. fn and delay are ignored.
func (c *NoopClock) SetTimeout(fn func(), delay time.Duration) int64 {
	return c.counter.Add(1)
}

// ClearTimeout satisfies actor.Clock. It is a no-op.
func (c *NoopClock) ClearTimeout(token int64) {}
