package bikes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/dropout"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/goutil"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/timer"
)

// PelotonTrigger selects how stats are obtained from a Peloton bike.
type PelotonTrigger string

const (
	// PelotonTriggerEvent listens to the requests of the head unit.
	PelotonTriggerEvent PelotonTrigger = "event"
	// PelotonTriggerPoll sends the requests itself, for bikes without a
	// head unit attached.
	PelotonTriggerPoll PelotonTrigger = "poll"
)

const (
	pelotonPollInterval = 200 * time.Millisecond
	pelotonPowerDelay   = 100 * time.Millisecond
)

// ParsePelotonTrigger validates s.
func ParsePelotonTrigger(s string) (PelotonTrigger, error) {
	switch t := PelotonTrigger(strings.ToLower(strings.TrimSpace(s))); t {
	case PelotonTriggerEvent, PelotonTriggerPoll:
		return t, nil
	default:
		return "", fmt.Errorf("unknown peloton receive trigger %q", s)
	}
}

// SerialOpener opens the serial line at path.
type SerialOpener func(path string) (io.ReadWriteCloser, error)

// OpenSerial opens path at 19200 baud 8N1.
func OpenSerial(path string) (io.ReadWriteCloser, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: PelotonBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return port, nil
}

// PelotonOptions configure the serial Peloton client.
type PelotonOptions struct {
	Path    string
	Trigger PelotonTrigger
	Open    SerialOpener // nil uses OpenSerial
}

// PelotonClient reads the serial line between a Peloton bike and its
// head unit.
type PelotonClient struct {
	clientBase
	opts PelotonOptions
	poll *timer.Timer

	portMu sync.Mutex
	port   io.ReadWriteCloser
	power  *loop.Handle
}

var _ Client = (*PelotonClient)(nil)

// NewPeloton creates a client for a Peloton bike.
func NewPeloton(deps Deps, opts PelotonOptions) *PelotonClient {
	if opts.Open == nil {
		opts.Open = OpenSerial
	}
	if opts.Trigger == "" {
		opts.Trigger = PelotonTriggerEvent
	}
	c := &PelotonClient{
		opts: opts,
		poll: timer.New(deps.Loop, pelotonPollInterval, true),
	}
	c.init(KindPeloton, deps, &PelotonDecoder{}, &dropout.Both)
	c.poll.OnTimeout(func(time.Duration) { c.requestStats() })
	return c
}

// Connect opens the serial port and starts reading frames.
func (c *PelotonClient) Connect(ctx context.Context) error {
	if err := c.beginConnect(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		c.connectFailed()
		return err
	}
	port, err := c.opts.Open(c.opts.Path)
	if err != nil {
		c.connectFailed()
		return fmt.Errorf("%s: %w", c.kind, err)
	}

	c.portMu.Lock()
	c.port = port
	c.portMu.Unlock()

	c.markConnected(c.opts.Path)
	c.logger.Printf("%s: reading %s (trigger %s)", c.kind, c.opts.Path, c.opts.Trigger)
	goutil.SafeGo(c.logger, "peloton-read", func() { c.readFrames(port) })
	if c.opts.Trigger == PelotonTriggerPoll {
		c.loop.Post(func() {
			if c.State() == Connected {
				c.poll.Reset()
			}
		})
	}
	return nil
}

func (c *PelotonClient) readFrames(port io.Reader) {
	r := bufio.NewReader(port)
	for {
		frame, err := r.ReadBytes(PelotonDelimiter)
		if err != nil {
			c.lost(fmt.Errorf("%w: %v", ErrTransportDisconnect, err))
			return
		}
		frame = frame[:len(frame)-1]
		if len(frame) == 0 {
			continue
		}
		c.receiveAsync(frame)
	}
}

// requestStats runs on the loop: cadence now, power a little later.
func (c *PelotonClient) requestStats() {
	if err := c.Write(PelotonRequestCadence); err != nil {
		c.logger.Printf("%s: cadence request: %v", c.kind, err)
		return
	}
	c.power = c.loop.AfterFunc(pelotonPowerDelay, func() {
		c.power = nil
		if err := c.Write(PelotonRequestPower); err != nil {
			c.logger.Printf("%s: power request: %v", c.kind, err)
		}
	})
}

// Write sends raw bytes to the bike.
func (c *PelotonClient) Write(data []byte) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	c.portMu.Lock()
	port := c.port
	c.portMu.Unlock()
	if _, err := port.Write(data); err != nil {
		return fmt.Errorf("%s: write: %w", c.kind, err)
	}
	return nil
}

// Disconnect stops polling and closes the port.
func (c *PelotonClient) Disconnect() error {
	if !c.markDisconnected() {
		return nil
	}
	c.poll.Cancel()
	if c.power != nil {
		c.power.Stop()
		c.power = nil
	}
	c.portMu.Lock()
	port := c.port
	c.port = nil
	c.portMu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
