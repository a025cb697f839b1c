package bikes

import (
	"context"
	"io"
	"log"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
)

// Link is a GATT connection to a bike.
type Link interface {
	Address() string
	EnableNotifications(serviceUUID, charUUID string, callback func(buf []byte)) error
	WriteWithoutResponse(serviceUUID, charUUID string, data []byte) error
	WriteDescriptor(serviceUUID, charUUID, descriptorUUID string, data []byte) error
	Disconnect() error
	OnDisconnect(fn func()) func()
}

// Scanner finds BLE bikes and connects to them.
type Scanner interface {
	Scan(ctx context.Context, filter bt.Filter) (bt.Advertisement, error)
	Watch(ctx context.Context, filter bt.Filter, fn func(bt.Advertisement) bool) error
	Connect(adv bt.Advertisement) (Link, error)
}

type centralScanner struct {
	*bt.Central
}

func (s centralScanner) Connect(adv bt.Advertisement) (Link, error) {
	return s.Central.Connect(adv)
}

// NewScanner adapts a bt.Central to Scanner.
func NewScanner(c *bt.Central) Scanner {
	return centralScanner{c}
}

// Deps are the collaborators every client needs.
type Deps struct {
	Loop    *loop.Loop
	Logger  *log.Logger
	Debug   *log.Logger // per-packet tracing; nil discards
	Scanner Scanner     // BLE bikes only
}

func (d Deps) check() {
	if d.Loop == nil {
		panic("bikes: loop cannot be nil")
	}
	if d.Logger == nil {
		panic("bikes: logger cannot be nil")
	}
}

func (d Deps) debugLogger() *log.Logger {
	if d.Debug == nil {
		return log.New(io.Discard, "", 0)
	}
	return d.Debug
}
