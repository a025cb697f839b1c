// Package simulation turns a cadence or speed into a stream of discrete,
// timestamped crank or wheel revolutions.
package simulation

import (
	"math"
	"time"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/events"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
)

// TireCircumference is the circumference of a 700x23C tire in meters.
const TireCircumference = 2.096

// CrankInterval returns the time between pedal strokes at cadence rpm,
// or 0 when the crank is not turning.
func CrankInterval(cadence float64) time.Duration {
	if !(cadence > 0) {
		return 0
	}
	return millis(60000 / cadence)
}

// WheelInterval returns the time between wheel revolutions at speed km/h,
// or 0 when the wheel is not turning.
func WheelInterval(speed float64) time.Duration {
	if !(speed > 0) {
		return 0
	}
	return millis((1000 * 18 * TireCircumference) / (5 * speed))
}

func millis(ms float64) time.Duration {
	if math.IsInf(ms, 0) || math.IsNaN(ms) {
		return 0
	}
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

// Simulator emits a RotationEvent each time one revolution completes at
// the current rate. Events carry the scheduled time rather than the time
// the timer actually fired, so jitter does not accumulate.
type Simulator struct {
	loop        *loop.Loop
	intervalFor func(rate float64) time.Duration

	rate        float64
	interval    time.Duration
	last        time.Time
	hasLast     bool
	revolutions uint64
	pending     *loop.Handle
	rotation    *events.Emitter[cycling.RotationEvent]
}

// NewCrank creates a simulator whose rate is a cadence in rpm.
func NewCrank(l *loop.Loop) *Simulator {
	return newSimulator(l, CrankInterval)
}

// NewWheel creates a simulator whose rate is a speed in km/h.
func NewWheel(l *loop.Loop) *Simulator {
	return newSimulator(l, WheelInterval)
}

func newSimulator(l *loop.Loop, intervalFor func(float64) time.Duration) *Simulator {
	if l == nil {
		panic("Simulator: loop cannot be nil")
	}
	return &Simulator{
		loop:        l,
		intervalFor: intervalFor,
		rotation:    events.NewEmitter[cycling.RotationEvent](false),
	}
}

// OnRotation registers fn for every simulated revolution.
func (s *Simulator) OnRotation(fn func(cycling.RotationEvent)) func() {
	return s.rotation.Listen(fn)
}

// Rate returns the current rate.
func (s *Simulator) Rate() float64 {
	return s.rate
}

// Revolutions returns the number of revolutions emitted so far.
func (s *Simulator) Revolutions() uint64 {
	return s.revolutions
}

// SetRate changes the rate. The next revolution is rescheduled from the
// time of the previous one, so a rate change neither restarts the current
// revolution nor skips it. Setting the rate it already has is a no-op and
// a rate of zero stops all events.
func (s *Simulator) SetRate(rate float64) {
	if rate == s.rate {
		return
	}
	s.rate = rate
	s.interval = s.intervalFor(rate)
	s.cancel()
	s.schedule()
}

// Stop cancels the pending revolution and sets the rate to zero.
func (s *Simulator) Stop() {
	s.rate = 0
	s.interval = 0
	s.cancel()
}

func (s *Simulator) cancel() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Simulator) schedule() {
	if s.interval <= 0 {
		return
	}
	now := s.loop.Now()
	var wait time.Duration
	if s.hasLast {
		wait = s.interval - now.Sub(s.last)
		if wait < 0 {
			wait = 0
		}
	}
	next := now.Add(wait)
	s.pending = s.loop.AfterFunc(wait, func() {
		s.pending = nil
		s.last = next
		s.hasLast = true
		s.revolutions++
		s.rotation.Emit(cycling.RotationEvent{
			Revolutions: s.revolutions,
			Timestamp:   cycling.Millis(next),
		})
		s.schedule()
	})
}
