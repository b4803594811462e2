package pending

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/datadog"
)

// Controller holds the optimistic value for one (observer, parameter) pair
// between issuing a write and seeing its confirmation or giving up. At most
// one pending operation exists at a time; a new write supersedes the old one.
//
// The timer and a confirming update race by design: whichever transition runs
// first wins and the other becomes a no-op.
type Controller struct {
	mu      sync.Mutex
	timeout time.Duration

	pending  bool
	value    float64 // display-scaled target
	issuedAt time.Time
	timer    *time.Timer
	gen      uint64

	// authoritative returns the store's current display value.
	authoritative func() (float64, bool)
	// onTransition, if set, runs after any state change (UI refresh hook).
	onTransition func()
}

func NewController(timeout time.Duration, authoritative func() (float64, bool)) *Controller {
	return &Controller{
		timeout:       timeout,
		authoritative: authoritative,
	}
}

func (c *Controller) OnTransition(fn func()) {
	c.onTransition = fn
}

// SetPending enters the Pending state with the given display value and arms
// the reversion timer. Any prior pending operation is cancelled first.
func (c *Controller) SetPending(value float64) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.pending = true
	c.value = value
	c.issuedAt = time.Now()
	c.timer = time.AfterFunc(c.timeout, func() {
		c.expire(gen)
	})
	c.mu.Unlock()

	c.notify()
}

// ClearPending returns to Idle and cancels the timer. Safe to call in any
// state.
func (c *Controller) ClearPending() {
	c.mu.Lock()
	cleared := c.clearLocked()
	c.mu.Unlock()

	if cleared {
		c.notify()
	}
}

// confirmClockSkew is how far a confirming update's timestamp may sit behind
// the locally-clocked issue time and still count. Frame timestamps come from
// the gateway's clock; without this allowance a gateway running behind the
// host would never confirm anything and every write would ride out the full
// timeout.
const confirmClockSkew = time.Minute

// Confirm handles a change notification for this parameter. The pending
// operation completes only when the update carries the written value and is
// not older than the write by more than the skew allowance; a late
// confirmation of a superseded write changes nothing.
func (c *Controller) Confirm(displayValue float64, ts time.Time) {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return
	}
	if displayValue != c.value || ts.Before(c.issuedAt.Add(-confirmClockSkew)) {
		pend := c.value
		c.mu.Unlock()
		log.Debug().
			Float64("pending", pend).
			Float64("observed", displayValue).
			Msg("Change notification does not confirm pending write")
		return
	}
	c.clearLocked()
	c.mu.Unlock()

	log.Debug().Float64("value", displayValue).Msg("Pending write confirmed")
	c.notify()
}

// expire is the timer-side terminal transition. A confirmation or supersede
// that won the race bumped gen, making this a no-op.
func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	if !c.pending || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.clearLocked()
	c.mu.Unlock()

	log.Debug().
		Dur("timeout", c.timeout).
		Msg("No confirmation before timeout, reverting to store value")
	datadog.Count("pending.timeouts", 1)
	c.notify()
}

// Cancel synchronously stops the timer and drops any pending state. Used on
// observer detach so no callback fires after the observer is gone.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
}

func (c *Controller) clearLocked() bool {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	was := c.pending
	c.pending = false
	c.value = 0
	return was
}

// Pending reports whether a write is outstanding.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// DisplayValue returns the optimistic value while Pending, otherwise the
// authoritative store value.
func (c *Controller) DisplayValue() (float64, bool) {
	c.mu.Lock()
	if c.pending {
		v := c.value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()
	return c.authoritative()
}

func (c *Controller) notify() {
	if c.onTransition != nil {
		c.onTransition()
	}
}
