package bikes

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/events"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
)

var epoch = time.Unix(1_700_000_000, 0)

type written struct {
	service, char, descriptor string
	data                      []byte
}

type fakeLink struct {
	address       string
	mu            sync.Mutex
	notify        func([]byte)
	writes        []written
	subscribeErr  error
	descriptorErr error
	disconnects   int
	dropped       *events.Emitter[struct{}]
}

func newFakeLink(address string) *fakeLink {
	return &fakeLink{address: address, dropped: events.NewEmitter[struct{}](true)}
}

func (f *fakeLink) Address() string { return f.address }

// EnableNotifications keeps the callback even when subscribing fails,
// like BlueZ keeps its property watch.
func (f *fakeLink) EnableNotifications(_, _ string, callback func([]byte)) error {
	f.mu.Lock()
	f.notify = callback
	f.mu.Unlock()
	return f.subscribeErr
}

func (f *fakeLink) WriteWithoutResponse(service, char string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, written{service: service, char: char, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeLink) WriteDescriptor(service, char, descriptor string, data []byte) error {
	if f.descriptorErr != nil {
		return f.descriptorErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, written{service, char, descriptor, append([]byte(nil), data...)})
	return nil
}

func (f *fakeLink) Disconnect() error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) OnDisconnect(fn func()) func() {
	return f.dropped.Listen(func(struct{}) { fn() })
}

func (f *fakeLink) send(data []byte) {
	f.mu.Lock()
	cb := f.notify
	f.mu.Unlock()
	cb(data)
}

type fakeScanner struct {
	adv     bt.Advertisement
	scanErr error
	link    *fakeLink
	filters []bt.Filter

	watchers chan func(bt.Advertisement) bool
}

func newFakeScanner(adv bt.Advertisement) *fakeScanner {
	return &fakeScanner{
		adv:      adv,
		link:     newFakeLink(adv.Address),
		watchers: make(chan func(bt.Advertisement) bool, 1),
	}
}

func (f *fakeScanner) Scan(ctx context.Context, filter bt.Filter) (bt.Advertisement, error) {
	f.filters = append(f.filters, filter)
	if f.scanErr != nil {
		return bt.Advertisement{}, f.scanErr
	}
	if filter != nil && !filter(f.adv) {
		return bt.Advertisement{}, errors.New("no match")
	}
	return f.adv, nil
}

func (f *fakeScanner) Watch(ctx context.Context, filter bt.Filter, fn func(bt.Advertisement) bool) error {
	f.watchers <- func(a bt.Advertisement) bool {
		if filter != nil && !filter(a) {
			return true
		}
		return fn(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeScanner) Connect(adv bt.Advertisement) (Link, error) {
	return f.link, nil
}

func newTestDeps(s Scanner) Deps {
	return Deps{
		Loop:    loop.NewManual(log.New(io.Discard, "", 0), epoch),
		Logger:  log.New(io.Discard, "", 0),
		Scanner: s,
	}
}

// recorder collects what a client emits.
type recorder struct {
	stats       []cycling.Reading
	disconnects []error
}

func record(c Client) *recorder {
	r := &recorder{}
	c.OnStats(func(s cycling.Reading) { r.stats = append(r.stats, s) })
	c.OnDisconnect(func(err error) { r.disconnects = append(r.disconnects, err) })
	return r
}

func (r *recorder) last(t *testing.T) cycling.Reading {
	t.Helper()
	if len(r.stats) == 0 {
		t.Fatal("no stats emitted")
	}
	return r.stats[len(r.stats)-1]
}
