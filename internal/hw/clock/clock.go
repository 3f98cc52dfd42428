// Package clock provides the time base of the mount: a free-running tick
// counter driven by a periodic goroutine, wrap-safe helpers to compare
// counter values and the bounded wait used by the motion loops.
package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Source is a free-running, wrapping tick counter with a fixed frequency.
type Source interface {
	Now() uint32
	Freq() uint32
}

// Waiter blocks the caller for a bounded duration. The wait cannot be
// interrupted; callers keep durations short (a few milliseconds).
type Waiter interface {
	Delay(d time.Duration)
}

// Since returns the number of ticks elapsed from then to now, correct across
// counter wrap-around.
func Since(now, then uint32) uint32 {
	return now - then
}

// Ticks converts a duration into counter ticks at freq (rounded down, at least 1 for d > 0).
func Ticks(d time.Duration, freq uint32) uint32 {
	if d <= 0 {
		return 0
	}
	n := uint64(d) * uint64(freq) / uint64(time.Second)
	if n == 0 {
		n = 1
	}
	return uint32(n)
}

// Seconds converts a tick count into seconds.
func Seconds(ticks, freq uint32) float64 {
	return float64(ticks) / float64(freq)
}

// Counter is the tick source. The tick goroutine started by Run is the only
// writer; any goroutine may read Now.
type Counter struct {
	ticks  atomic.Uint32
	freq   uint32
	period time.Duration

	mu    sync.Mutex
	hooks []func()
}

// NewCounter creates a counter ticking at freq Hz.
func NewCounter(freq int) *Counter {
	if freq <= 0 {
		freq = 1000
	}
	return &Counter{
		freq:   uint32(freq),
		period: time.Second / time.Duration(freq),
	}
}

// OnTick registers fn to run on every tick, in the tick goroutine.
// Hooks must not block. Register them before calling Run.
func (c *Counter) OnTick(fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Now returns the current tick count.
func (c *Counter) Now() uint32 {
	return c.ticks.Load()
}

// Freq returns the tick frequency in Hz.
func (c *Counter) Freq() uint32 {
	return c.freq
}

// Tick advances the counter by one and runs the hooks.
func (c *Counter) Tick() {
	c.ticks.Add(1)
	c.mu.Lock()
	hooks := c.hooks
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Run ticks the counter until ctx is cancelled.
func (c *Counter) Run(ctx context.Context) {
	t := time.NewTicker(c.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Tick()
		}
	}
}

// Delay waits until the counter has advanced by d. If the tick goroutine is
// not running the wait still ends after roughly twice the requested time.
func (c *Counter) Delay(d time.Duration) {
	n := Ticks(d, c.freq)
	if n == 0 {
		return
	}
	start := c.Now()
	deadline := time.Now().Add(2*d + c.period)
	poll := c.period / 2
	if poll <= 0 {
		poll = time.Microsecond
	}
	for Since(c.Now(), start) < n {
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(poll)
	}
}
