package timer

import (
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
)

func newLoop() *loop.Loop {
	return loop.NewManual(log.New(io.Discard, "", 0), time.Unix(0, 0))
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 4*time.Second, Seconds(4))
	assert.Equal(t, 125*time.Millisecond, Seconds(0.125))
	assert.Equal(t, time.Duration(0), Seconds(0))
	assert.Equal(t, time.Duration(0), Seconds(-1))
	assert.Equal(t, time.Duration(0), Seconds(math.Inf(1)))
	assert.Equal(t, time.Duration(0), Seconds(math.NaN()))
}

func TestTimer_OneShotFiresOnce(t *testing.T) {
	l := newLoop()
	tm := New(l, time.Second, false)

	var got []time.Duration
	tm.OnTimeout(func(d time.Duration) { got = append(got, d) })

	tm.Reset()
	assert.True(t, tm.armed())
	l.Advance(999 * time.Millisecond)
	assert.Empty(t, got)

	l.Advance(time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second}, got)
	assert.False(t, tm.armed())

	l.Advance(10 * time.Second)
	assert.Len(t, got, 1)
}

func TestTimer_ResetThenCancelDoesNotFire(t *testing.T) {
	l := newLoop()
	tm := New(l, time.Second, false)

	fired := false
	tm.OnTimeout(func(time.Duration) { fired = true })

	tm.Reset()
	l.Advance(500 * time.Millisecond)
	tm.Cancel()
	l.Advance(5 * time.Second)

	assert.False(t, fired)
	assert.False(t, tm.armed())
}

func TestTimer_ResetPostponesFire(t *testing.T) {
	l := newLoop()
	tm := New(l, time.Second, false)

	var at []time.Time
	tm.OnTimeout(func(time.Duration) { at = append(at, l.Now()) })

	tm.Reset()
	l.Advance(800 * time.Millisecond)
	tm.Reset()
	l.Advance(800 * time.Millisecond)
	assert.Empty(t, at)

	l.Advance(200 * time.Millisecond)
	assert.Equal(t, []time.Time{time.Unix(0, 0).Add(1800 * time.Millisecond)}, at)
}

func TestTimer_RepeatingFiresEveryIntervalUntilCancel(t *testing.T) {
	l := newLoop()
	tm := New(l, 125*time.Millisecond, true)

	count := 0
	tm.OnTimeout(func(time.Duration) { count++ })

	tm.Reset()
	l.Advance(time.Second)
	assert.Equal(t, 8, count)
	assert.True(t, tm.armed())

	tm.Cancel()
	l.Advance(time.Second)
	assert.Equal(t, 8, count)
}

func TestTimer_CancelFromCallbackStopsRepeating(t *testing.T) {
	l := newLoop()
	tm := New(l, time.Second, true)

	count := 0
	tm.OnTimeout(func(time.Duration) {
		count++
		if count == 2 {
			tm.Cancel()
		}
	})

	tm.Reset()
	l.Advance(10 * time.Second)
	assert.Equal(t, 2, count)
}

func TestTimer_ZeroIntervalNeverArms(t *testing.T) {
	l := newLoop()
	tm := New(l, 0, true)

	fired := false
	tm.OnTimeout(func(time.Duration) { fired = true })

	tm.Reset()
	assert.False(t, tm.armed())
	assert.Equal(t, 0, l.Pending())

	l.Advance(time.Hour)
	assert.False(t, fired)
}
