package ant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/gousb"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/events"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/goutil"
)

// ErrNoStick is returned when no supported ANT+ stick is plugged in.
var ErrNoStick = errors.New("no ANT+ stick found")

// Garmin/Dynastream sticks, newest first.
var (
	vendorDynastream = gousb.ID(0x0fcf)
	stickProducts    = []gousb.ID{
		0x1009, // USB-m (GarminStick3)
		0x1008, // USB2 (GarminStick2)
	}
)

const (
	stickConfig    = 1
	stickInterface = 0
	stickEndpoint  = 1
	stickReadSize  = 64
)

// USBStick drives an ANT+ USB stick. The startup event fires once the
// stick has answered the reset and the ANT+ network key is loaded.
type USBStick struct {
	logger *log.Logger

	mu     sync.Mutex
	usb    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	out    *gousb.OutEndpoint
	stream *gousb.ReadStream
	cancel context.CancelFunc

	startup  *events.Emitter[struct{}]
	messages *events.Emitter[Message]
}

// NewUSBStick creates a stick handle. Nothing is opened until IsPresent
// or Open is called.
func NewUSBStick(logger *log.Logger) *USBStick {
	if logger == nil {
		panic("AntStick: logger cannot be nil")
	}
	return &USBStick{
		logger:   logger,
		startup:  events.NewEmitter[struct{}](true),
		messages: events.NewEmitter[Message](false),
	}
}

// IsPresent looks for a supported stick and keeps the first one found.
func (s *USBStick) IsPresent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return true
	}
	if s.usb == nil {
		s.usb = gousb.NewContext()
	}
	for _, pid := range stickProducts {
		dev, err := s.usb.OpenDeviceWithVIDPID(vendorDynastream, pid)
		if err != nil {
			s.logger.Printf("AntStick: open %s:%s: %v", vendorDynastream, pid, err)
			continue
		}
		if dev != nil {
			s.logger.Printf("AntStick: found %s:%s", vendorDynastream, pid)
			s.dev = dev
			return true
		}
	}
	return false
}

// OnStartup registers fn for the startup event. It is called from the
// reader goroutine.
func (s *USBStick) OnStartup(fn func()) func() {
	return s.startup.Listen(func(struct{}) { fn() })
}

// OnMessage registers fn for every message received from the stick.
func (s *USBStick) OnMessage(fn func(Message)) func() {
	return s.messages.Listen(fn)
}

// Open claims the stick, starts reading and resets it.
func (s *USBStick) Open() error {
	if !s.IsPresent() {
		return ErrNoStick
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		return nil
	}

	if err := s.dev.SetAutoDetach(true); err != nil {
		s.logger.Printf("AntStick: auto detach: %v", err)
	}
	cfg, err := s.dev.Config(stickConfig)
	if err != nil {
		return fmt.Errorf("AntStick: config %d: %w", stickConfig, err)
	}
	intf, err := cfg.Interface(stickInterface, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("AntStick: interface %d: %w", stickInterface, err)
	}
	in, err := intf.InEndpoint(stickEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		return fmt.Errorf("AntStick: in endpoint: %w", err)
	}
	out, err := intf.OutEndpoint(stickEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		return fmt.Errorf("AntStick: out endpoint: %w", err)
	}
	stream, err := in.NewStream(stickReadSize, 1)
	if err != nil {
		intf.Close()
		cfg.Close()
		return fmt.Errorf("AntStick: read stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cfg, s.intf, s.out, s.stream, s.cancel = cfg, intf, out, stream, cancel
	goutil.SafeGo(s.logger, "ant-read", func() { s.read(ctx, stream) })

	if _, err := out.Write(ResetSystem()); err != nil {
		if cerr := s.releaseLocked(); cerr != nil {
			s.logger.Printf("AntStick: release after failed reset: %v", cerr)
		}
		return fmt.Errorf("AntStick: reset: %w", err)
	}
	return nil
}

// releaseLocked stops reading and releases the claimed interface. The
// device itself stays open. s.mu must be held.
func (s *USBStick) releaseLocked() error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	if s.stream != nil {
		errs = append(errs, s.stream.Close())
	}
	if s.intf != nil {
		s.intf.Close()
	}
	if s.cfg != nil {
		errs = append(errs, s.cfg.Close())
	}
	s.cfg, s.intf, s.out, s.stream, s.cancel = nil, nil, nil, nil, nil
	return errors.Join(errs...)
}

func (s *USBStick) read(ctx context.Context, stream *gousb.ReadStream) {
	buf := make([]byte, stickReadSize)
	var pending []byte
	for {
		n, err := stream.ReadContext(ctx, buf)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("AntStick: read: %v", err)
			}
			return
		}
		var msgs []Message
		msgs, pending = ParseMessages(append(pending, buf[:n]...))
		for _, m := range msgs {
			if m.ID == MsgStartup {
				s.logger.Printf("AntStick: startup")
				if err := s.Write(SetANTPlusNetworkKey()); err != nil {
					s.logger.Printf("AntStick: network key: %v", err)
					continue
				}
				s.startup.Emit(struct{}{})
			}
			s.messages.Emit(m)
		}
	}
}

// Write sends one framed message.
func (s *USBStick) Write(msg []byte) error {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if out == nil {
		return errors.New("AntStick: not open")
	}
	if _, err := out.Write(msg); err != nil {
		return fmt.Errorf("AntStick: write: %w", err)
	}
	return nil
}

// Close stops reading and releases the device.
func (s *USBStick) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := []error{s.releaseLocked()}
	if s.dev != nil {
		errs = append(errs, s.dev.Close())
	}
	if s.usb != nil {
		errs = append(errs, s.usb.Close())
	}
	s.usb, s.dev = nil, nil
	return errors.Join(errs...)
}
