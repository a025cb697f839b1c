package bt

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/events"
)

// ErrDisconnected is returned by operations on a peripheral whose link
// has gone away.
var ErrDisconnected = errors.New("peripheral disconnected")

// Peripheral is a connected bike. Services and characteristics are
// discovered once, all at a time, and cached: discovering a single
// service later interrupts notifications of services used earlier on
// some stacks.
type Peripheral struct {
	address string
	logger  *log.Logger

	opMu sync.Mutex // serialises GATT operations

	mu              sync.Mutex
	device          *bluetooth.Device
	services        map[string]*bluetooth.DeviceService
	characteristics map[string]*bluetooth.DeviceCharacteristic
	charsDiscovered map[string]bool
	allServices     bool

	disconnected *events.Emitter[struct{}]
}

func newPeripheral(logger *log.Logger, address string, device *bluetooth.Device) *Peripheral {
	return &Peripheral{
		address:         address,
		logger:          logger,
		device:          device,
		services:        make(map[string]*bluetooth.DeviceService),
		characteristics: make(map[string]*bluetooth.DeviceCharacteristic),
		charsDiscovered: make(map[string]bool),
		disconnected:    events.NewEmitter[struct{}](true),
	}
}

// Address returns the normalized hardware address.
func (p *Peripheral) Address() string {
	return p.address
}

func (p *Peripheral) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device != nil
}

// OnDisconnect registers fn for the link going down. It is called on the
// adapter's goroutine. Registering after the disconnect calls fn at once.
func (p *Peripheral) OnDisconnect(fn func()) func() {
	return p.disconnected.Listen(func(struct{}) { fn() })
}

func (p *Peripheral) handleDisconnect() {
	p.mu.Lock()
	p.device = nil
	p.mu.Unlock()
	p.disconnected.Emit(struct{}{})
}

// EnableNotifications subscribes to a characteristic. The adapter writes
// the CCCD as part of subscribing.
func (p *Peripheral) EnableNotifications(serviceUUID, charUUID string, callback func(buf []byte)) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	char, err := p.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(callback); err != nil {
		return fmt.Errorf("enable notifications on %s: %w", charUUID, err)
	}
	p.logger.Printf("Peripheral %s: notifications enabled for %s", p.address, charUUID)
	return nil
}

// WriteWithoutResponse writes data as a command. BlueZ offers no
// acknowledged characteristic write through the adapter.
func (p *Peripheral) WriteWithoutResponse(serviceUUID, charUUID string, data []byte) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	char, err := p.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if _, err := char.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("write %s: %w", charUUID, err)
	}
	return nil
}

// WriteDescriptor writes data to a descriptor of a characteristic,
// such as the CCCD when subscribing did not take.
func (p *Peripheral) WriteDescriptor(serviceUUID, charUUID, descriptorUUID string, data []byte) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if !p.connected() {
		return ErrDisconnected
	}
	var uuids [3]string
	for i, raw := range []string{serviceUUID, charUUID, descriptorUUID} {
		uuid, err := bluetooth.ParseUUID(raw)
		if err != nil {
			return fmt.Errorf("invalid UUID %q: %w", raw, err)
		}
		uuids[i] = uuid.String()
	}
	if err := writeDescriptor(p.address, uuids[0], uuids[1], uuids[2], data); err != nil {
		return fmt.Errorf("write descriptor %s of %s: %w", descriptorUUID, charUUID, err)
	}
	p.logger.Printf("Peripheral %s: wrote descriptor %s of %s", p.address, descriptorUUID, charUUID)
	return nil
}

// Disconnect closes the link.
func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	device := p.device
	p.mu.Unlock()
	if device == nil {
		return nil
	}
	p.logger.Printf("Peripheral %s: disconnecting", p.address)
	return device.Disconnect()
}

func (p *Peripheral) service(uuid bluetooth.UUID) (*bluetooth.DeviceService, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return nil, ErrDisconnected
	}

	key := uuid.String()
	if svc, ok := p.services[key]; ok {
		return svc, nil
	}
	if !p.allServices {
		found, err := p.device.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("discover services: %w", err)
		}
		for i := range found {
			svc := &found[i]
			p.services[svc.UUID().String()] = svc
		}
		p.allServices = true
	}
	svc, ok := p.services[key]
	if !ok {
		return nil, fmt.Errorf("service %s not found on %s", key, p.address)
	}
	return svc, nil
}

func (p *Peripheral) characteristic(serviceUUID, charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}
	chUUID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", charUUID, err)
	}
	svcKey := svcUUID.String()
	key := svcKey + "_" + chUUID.String()

	p.mu.Lock()
	char, ok := p.characteristics[key]
	discovered := p.charsDiscovered[svcKey]
	p.mu.Unlock()
	if ok {
		return char, nil
	}

	if !discovered {
		svc, err := p.service(svcUUID)
		if err != nil {
			return nil, err
		}
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discover characteristics of %s: %w", svcKey, err)
		}
		p.mu.Lock()
		for i := range found {
			c := &found[i]
			p.characteristics[svcKey+"_"+c.UUID().String()] = c
		}
		p.charsDiscovered[svcKey] = true
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	char, ok = p.characteristics[key]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found in service %s", chUUID.String(), svcKey)
	}
	return char, nil
}
