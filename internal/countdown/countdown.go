package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Kind tells the owner what a countdown is measuring.
type Kind string

const (
	KindQuestion        Kind = "question"
	KindTransition      Kind = "transition"
	KindPanicBoost      Kind = "panicBoost"
	KindInputInactivity Kind = "inputInactivity"
)

// Event is delivered to the owner on every tick. Events whose Epoch does not
// match the epoch returned by the latest Start/Resume are stale and must be dropped.
type Event struct {
	Owner     string
	Epoch     uint64
	Kind      Kind
	Remaining int
	Panic     bool
	Expired   bool
}

// State is a point-in-time view of a Countdown.
type State struct {
	Kind      Kind   `json:"kind"`
	Remaining int    `json:"remaining"`
	Running   bool   `json:"running"`
	Panic     bool   `json:"panic"`
	Epoch     uint64 `json:"-"`
}

// Config sets the wall-clock cadence. One unit of count elapses per Tick,
// or per PanicTick once panic mode is on.
type Config struct {
	Tick      time.Duration
	PanicTick time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.PanicTick <= 0 || c.PanicTick > c.Tick {
		c.PanicTick = c.Tick / 4
	}
	return c
}

// Countdown is a single-authority decreasing counter. Starting a new countdown
// cancels the running one; the notify callback never runs while the internal
// lock is held and never runs synchronously from Start, Stop or Resume.
type Countdown struct {
	owner  string
	clock  clockwork.Clock
	cfg    Config
	notify func(Event)

	mu        sync.Mutex
	epoch     uint64
	seq       uint64
	kind      Kind
	remaining int
	running   bool
	started   bool
	panic     bool
	timer     clockwork.Timer
	cancel    chan struct{}
}

// New returns a stopped Countdown. notify receives every tick and the final expiry.
func New(owner string, clock clockwork.Clock, cfg Config, notify func(Event)) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{
		owner:  owner,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		notify: notify,
	}
}

// Start begins a new countdown from count and returns its epoch.
// KindPanicBoost starts a question countdown with panic mode already on.
func (c *Countdown) Start(count int, kind Kind) uint64 {
	boost := false
	if kind == KindPanicBoost {
		kind = KindQuestion
		boost = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(count, kind, boost)
}

// Resume restarts a stopped countdown with the count it had when stopped.
// Panic mode survives the pause. It reports false when there is nothing to resume.
func (c *Countdown) Resume() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || !c.started {
		return c.epoch, false
	}
	return c.startLocked(c.remaining, c.kind, c.panic), true
}

// Stop halts the countdown, keeping the remaining count. Calling it on a
// stopped countdown does nothing.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.epoch++
	c.cancelTimerLocked()
}

// Reset stops the countdown and forgets the remaining count.
func (c *Countdown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.epoch++
	}
	c.running = false
	c.started = false
	c.remaining = 0
	c.panic = false
	c.cancelTimerLocked()
}

// EnablePanic shortens the tick interval for the rest of the running
// countdown. The remaining count is untouched.
func (c *Countdown) EnablePanic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.panic {
		return false
	}
	c.panic = true
	c.scheduleLocked(c.cfg.PanicTick)
	return true
}

// Snapshot returns the current state.
func (c *Countdown) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Kind:      c.kind,
		Remaining: c.remaining,
		Running:   c.running,
		Panic:     c.panic,
		Epoch:     c.epoch,
	}
}

func (c *Countdown) startLocked(count int, kind Kind, boost bool) uint64 {
	if count < 0 {
		count = 0
	}
	c.epoch++
	c.kind = kind
	c.remaining = count
	c.panic = boost
	c.running = true
	c.started = true

	interval := c.interval()
	if count == 0 {
		interval = 0
	}
	c.scheduleLocked(interval)
	return c.epoch
}

func (c *Countdown) interval() time.Duration {
	if c.panic {
		return c.cfg.PanicTick
	}
	return c.cfg.Tick
}

// scheduleLocked replaces any pending timer with a one-shot timer for the next tick.
func (c *Countdown) scheduleLocked(d time.Duration) {
	c.cancelTimerLocked()
	c.seq++
	seq := c.seq
	timer := c.clock.NewTimer(d)
	cancel := make(chan struct{})
	c.timer = timer
	c.cancel = cancel

	go func() {
		select {
		case <-timer.Chan():
			c.fire(seq)
		case <-cancel:
		}
	}()
}

func (c *Countdown) cancelTimerLocked() {
	if c.timer == nil {
		return
	}
	if !c.timer.Stop() {
		select {
		case <-c.timer.Chan():
		default:
		}
	}
	close(c.cancel)
	c.timer = nil
	c.cancel = nil
}

func (c *Countdown) fire(seq uint64) {
	c.mu.Lock()
	if seq != c.seq || !c.running {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.cancel = nil
	if c.remaining > 0 {
		c.remaining--
	}
	ev := Event{
		Owner:     c.owner,
		Epoch:     c.epoch,
		Kind:      c.kind,
		Remaining: c.remaining,
		Panic:     c.panic,
	}
	if c.remaining == 0 {
		c.running = false
		ev.Expired = true
	} else {
		c.scheduleLocked(c.interval())
	}
	c.mu.Unlock()

	if c.notify != nil {
		c.notify(ev)
	}
}
