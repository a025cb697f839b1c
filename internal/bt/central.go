package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/goutil"
)

// ErrScanInProgress is returned when a second scan is started on the same
// adapter.
var ErrScanInProgress = errors.New("scan already in progress")

// Central scans for bikes and connects to them. Connect and disconnect
// notifications of the adapter are routed to the matching Peripheral;
// any other link (a training app connecting to our GATT server on a
// shared adapter) goes to the peer handler.
type Central struct {
	adapter     *bluetooth.Adapter
	logger      *log.Logger
	mu          sync.Mutex
	scanning    bool
	peripherals map[string]*Peripheral
	peerHandler func(address string, connected bool)
}

// NewCentral wraps adapter. Enable must be called before use.
func NewCentral(adapter *bluetooth.Adapter, logger *log.Logger) *Central {
	if adapter == nil {
		panic("Central: adapter cannot be nil")
	}
	if logger == nil {
		panic("Central: logger cannot be nil")
	}
	return &Central{
		adapter:     adapter,
		logger:      logger,
		peripherals: make(map[string]*Peripheral),
	}
}

// SetPeerHandler sets the callback for connections that do not belong
// to a peripheral this Central connected to.
func (c *Central) SetPeerHandler(fn func(address string, connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerHandler = fn
}

// Enable installs the connect handler and powers up the adapter.
func (c *Central) Enable() error {
	c.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		if norm, err := NormalizeMAC(addr); err == nil {
			addr = norm
		}

		c.mu.Lock()
		p := c.peripherals[addr]
		if p != nil && !connected {
			delete(c.peripherals, addr)
		}
		peer := c.peerHandler
		c.mu.Unlock()

		switch {
		case p != nil && !connected:
			c.logger.Printf("Central: peripheral %s disconnected", addr)
			p.handleDisconnect()
		case p != nil:
			c.logger.Printf("Central: peripheral %s connected", addr)
		case peer != nil:
			peer(addr, connected)
		}
	})
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	return nil
}

// Watch scans until ctx is done or fn returns false, calling fn for every
// advertisement accepted by filter. A nil filter accepts everything.
func (c *Central) Watch(ctx context.Context, filter Filter, fn func(Advertisement) bool) error {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return ErrScanInProgress
	}
	c.scanning = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()
	}()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			if err := c.adapter.StopScan(); err != nil {
				c.logger.Printf("Central: stop scan: %v", err)
			}
		})
	}

	var stopped bool
	var cbMu sync.Mutex
	done := make(chan error, 1)
	goutil.SafeGo(c.logger, "bt-scan", func() {
		done <- c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			adv := advertisementFrom(result)
			if filter != nil && !filter(adv) {
				return
			}
			cbMu.Lock()
			defer cbMu.Unlock()
			if stopped {
				return
			}
			if !fn(adv) {
				stopped = true
				stop()
			}
		})
	})

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		return nil
	case <-ctx.Done():
		cbMu.Lock()
		stopped = true
		cbMu.Unlock()
		stop()
		<-done
		return ctx.Err()
	}
}

// Scan returns the first advertisement accepted by filter.
func (c *Central) Scan(ctx context.Context, filter Filter) (Advertisement, error) {
	var found *Advertisement
	err := c.Watch(ctx, filter, func(a Advertisement) bool {
		found = &a
		return false
	})
	if found != nil {
		return *found, nil
	}
	if err == nil {
		err = errors.New("scan ended without a match")
	}
	return Advertisement{}, err
}

// Connect opens a GATT connection to the advertiser.
func (c *Central) Connect(adv Advertisement) (*Peripheral, error) {
	c.logger.Printf("Central: connecting to %s", adv)
	device, err := c.adapter.Connect(adv.raw, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", adv.Address, err)
	}
	p := newPeripheral(c.logger, adv.Address, &device)

	c.mu.Lock()
	c.peripherals[adv.Address] = p
	c.mu.Unlock()

	c.logger.Printf("Central: connected to %s", adv)
	return p, nil
}
