// Package loop implements the single-threaded reactor every core
// component runs on. Transport goroutines hand work to the loop with Post;
// timeouts and periodic work are scheduled with AfterFunc and kept in a
// min-heap ordered by deadline.
package loop

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// manualClock only moves when Advance is called.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// Loop is a single-threaded event loop. All posted functions and timer
// callbacks run one after another on the goroutine driving the loop
// (Run for production, Advance in tests).
type Loop struct {
	clock  Clock
	manual *manualClock
	logger *log.Logger

	mu     sync.Mutex
	posted []func()
	timers timerHeap
	seq    uint64
	wake   chan struct{}
}

// New creates a loop driven by the wall clock.
func New(logger *log.Logger) *Loop {
	if logger == nil {
		panic("Loop: logger cannot be nil")
	}
	return &Loop{
		clock:  wallClock{},
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// NewManual creates a loop on a virtual clock starting at start. Time
// only moves forward through Advance.
func NewManual(logger *log.Logger, start time.Time) *Loop {
	l := New(logger)
	l.manual = &manualClock{now: start}
	l.clock = l.manual
	return l
}

// Now returns the loop's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues fn to run on the loop. Safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.signal()
}

// AfterFunc schedules fn to run on the loop once d has elapsed.
// A negative d is treated as zero. Timers with equal deadlines fire in
// the order they were scheduled.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Handle {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	h := &Handle{
		loop: l,
		when: l.clock.Now().Add(d),
		seq:  l.seq,
		fn:   fn,
	}
	l.seq++
	heap.Push(&l.timers, h)
	l.mu.Unlock()
	l.signal()
	return h
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop on the wall clock until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l.manual != nil {
		panic("Loop: Run called on a manual loop")
	}
	wait := time.NewTimer(time.Hour)
	defer wait.Stop()

	for {
		l.runPosted()
		for {
			h := l.popDue(l.clock.Now())
			if h == nil {
				break
			}
			h.fn()
			l.runPosted()
		}

		d, ok := l.untilNext()
		if !ok {
			d = time.Hour
		}
		wait.Reset(d)

		select {
		case <-ctx.Done():
			l.logger.Printf("Loop: stopping: %v", ctx.Err())
			return ctx.Err()
		case <-l.wake:
		case <-wait.C:
		}
	}
}

// Advance moves a manual loop's clock forward by d, running posted work
// and every timer that falls due on the way with the clock set to the
// timer's deadline.
func (l *Loop) Advance(d time.Duration) {
	if l.manual == nil {
		panic("Loop: Advance called on a wall-clock loop")
	}
	target := l.manual.Now().Add(d)
	l.runPosted()
	for {
		h := l.popDue(target)
		if h == nil {
			break
		}
		l.manual.set(h.when)
		h.fn()
		l.runPosted()
	}
	l.manual.set(target)
	l.runPosted()
}

// Pending returns the number of scheduled timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timers.Len()
}

func (l *Loop) runPosted() {
	for {
		l.mu.Lock()
		batch := l.posted
		l.posted = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

func (l *Loop) popDue(limit time.Time) *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timers.Len() == 0 || l.timers[0].when.After(limit) {
		return nil
	}
	h := heap.Pop(&l.timers).(*Handle)
	h.fired = true
	return h
}

func (l *Loop) untilNext() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timers.Len() == 0 {
		return 0, false
	}
	d := l.timers[0].when.Sub(l.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Handle refers to a scheduled timer.
type Handle struct {
	loop    *Loop
	when    time.Time
	seq     uint64
	fn      func()
	index   int
	fired   bool
	stopped bool
}

// When returns the deadline the timer was scheduled for.
func (h *Handle) When() time.Time {
	return h.when
}

// Stop cancels the timer. It reports whether the call prevented the
// timer from firing.
func (h *Handle) Stop() bool {
	if h == nil {
		return false
	}
	l := h.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if h.fired || h.stopped {
		return false
	}
	h.stopped = true
	heap.Remove(&l.timers, h.index)
	return true
}

type timerHeap []*Handle

func (th timerHeap) Len() int { return len(th) }

func (th timerHeap) Less(i, j int) bool {
	if th[i].when.Equal(th[j].when) {
		return th[i].seq < th[j].seq
	}
	return th[i].when.Before(th[j].when)
}

func (th timerHeap) Swap(i, j int) {
	th[i], th[j] = th[j], th[i]
	th[i].index = i
	th[j].index = j
}

func (th *timerHeap) Push(x any) {
	h := x.(*Handle)
	h.index = len(*th)
	*th = append(*th, h)
}

func (th *timerHeap) Pop() any {
	old := *th
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*th = old[:n-1]
	return h
}
