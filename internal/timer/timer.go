package timer

import (
	"math"
	"time"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/events"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
)

// Seconds converts a configured number of seconds into a Duration.
// Zero, negative and non-finite values give 0, which disables a Timer.
func Seconds(s float64) time.Duration {
	if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// Timer is a one-shot or repeating timeout running on a loop.
// A Timer with a zero interval never fires.
type Timer struct {
	loop     *loop.Loop
	interval time.Duration
	repeats  bool
	pending  *loop.Handle
	timeout  *events.Emitter[time.Duration]
}

// New creates a disarmed Timer.
func New(l *loop.Loop, interval time.Duration, repeats bool) *Timer {
	if l == nil {
		panic("Timer: loop cannot be nil")
	}
	if interval < 0 {
		interval = 0
	}
	return &Timer{
		loop:     l,
		interval: interval,
		repeats:  repeats,
		timeout:  events.NewEmitter[time.Duration](false),
	}
}

// Interval returns the configured interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

func (t *Timer) armed() bool {
	return t.pending != nil
}

// OnTimeout registers fn to be called with the interval every time the
// timer fires. The returned function unregisters it.
func (t *Timer) OnTimeout(fn func(interval time.Duration)) func() {
	return t.timeout.Listen(fn)
}

// Reset cancels any pending fire and arms the timer for one interval
// from now.
func (t *Timer) Reset() {
	t.Cancel()
	if t.interval <= 0 {
		return
	}
	var h *loop.Handle
	h = t.loop.AfterFunc(t.interval, func() {
		if t.pending != h {
			return
		}
		t.pending = nil
		if t.repeats {
			t.Reset()
		}
		t.timeout.Emit(t.interval)
	})
	t.pending = h
}

// Cancel disarms the timer without firing.
func (t *Timer) Cancel() {
	if t.armed() {
		t.pending.Stop()
		t.pending = nil
	}
}
