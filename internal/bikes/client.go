package bikes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/dropout"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/events"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
)

// ConnectionState of a bike client.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Client is a connection to one bike. Connect blocks and is meant to run
// off the loop; Disconnect is called on the loop. Stats and the
// disconnect notification are always delivered on the loop.
type Client interface {
	Kind() Kind
	Connect(ctx context.Context) error
	Address() string
	State() ConnectionState
	Disconnect() error
	OnStats(fn func(cycling.Reading)) func()
	OnDisconnect(fn func(reason error)) func()
}

// clientBase carries the connection state, decoder and dropout filter
// shared by all clients.
type clientBase struct {
	kind    Kind
	loop    *loop.Loop
	logger  *log.Logger
	debug   *log.Logger
	decoder Decoder
	filter  *dropout.Filter

	mu      sync.Mutex
	state   ConnectionState
	address string

	stats        *events.Emitter[cycling.Reading]
	disconnected *events.Emitter[error]
}

func (b *clientBase) init(kind Kind, deps Deps, decoder Decoder, rules *dropout.Rules) {
	deps.check()
	b.kind = kind
	b.loop = deps.Loop
	b.logger = deps.Logger
	b.debug = deps.debugLogger()
	b.decoder = decoder
	if rules != nil {
		b.filter = dropout.New(*rules)
	}
	b.stats = events.NewEmitter[cycling.Reading](false)
	b.disconnected = events.NewEmitter[error](false)
}

func (b *clientBase) Kind() Kind {
	return b.kind
}

func (b *clientBase) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address
}

func (b *clientBase) State() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *clientBase) OnStats(fn func(cycling.Reading)) func() {
	return b.stats.Listen(fn)
}

func (b *clientBase) OnDisconnect(fn func(reason error)) func() {
	return b.disconnected.Listen(fn)
}

func (b *clientBase) beginConnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Disconnected {
		return fmt.Errorf("%s: %w", b.kind, ErrAlreadyConnected)
	}
	b.state = Connecting
	return nil
}

func (b *clientBase) connectFailed() {
	b.mu.Lock()
	b.state = Disconnected
	b.mu.Unlock()
}

func (b *clientBase) markConnected(address string) {
	b.mu.Lock()
	b.state = Connected
	b.address = address
	b.mu.Unlock()
	if b.filter != nil {
		b.filter.Reset()
	}
}

// markDisconnected reports whether the state changed.
func (b *clientBase) markDisconnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Disconnected {
		return false
	}
	b.state = Disconnected
	return true
}

func (b *clientBase) requireConnected() error {
	if b.State() != Connected {
		return fmt.Errorf("%s: %w", b.kind, ErrNotConnected)
	}
	return nil
}

// lost is called from transport goroutines when the link goes away
// without Disconnect having been called.
func (b *clientBase) lost(reason error) {
	b.loop.Post(func() {
		if !b.markDisconnected() {
			return
		}
		b.logger.Printf("%s: bike %s disconnected: %v", b.kind, b.Address(), reason)
		b.disconnected.Emit(reason)
	})
}

// receive runs on the loop: decode, correct dropouts and emit.
func (b *clientBase) receive(data []byte) {
	if b.State() != Connected {
		return
	}
	r, err := b.decoder.Decode(data)
	if errors.Is(err, ErrUnrecognizedFormat) {
		b.debug.Printf("%s: ignoring packet %x: %v", b.kind, data, err)
		return
	}
	if err != nil {
		b.logger.Printf("%s: decoder failed on %x: %v", b.kind, data, err)
		b.fail(fmt.Errorf("decode %x: %w", data, err))
		return
	}
	if b.filter != nil {
		r = b.filter.Apply(r)
	}
	b.debug.Printf("%s: %s", b.kind, r)
	b.stats.Emit(r)
}

// fail runs on the loop and disconnects with reason.
func (b *clientBase) fail(reason error) {
	if !b.markDisconnected() {
		return
	}
	b.disconnected.Emit(reason)
}

// receiveAsync copies data and hands it to the loop.
func (b *clientBase) receiveAsync(data []byte) {
	buf := append([]byte(nil), data...)
	b.loop.Post(func() { b.receive(buf) })
}
