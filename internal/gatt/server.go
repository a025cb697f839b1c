package gatt

import (
	"fmt"
	"io"
	"log"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

// DefaultName is the advertised name unless configured otherwise.
const DefaultName = "Gymnasticon"

// Notifier pushes a characteristic value to subscribed centrals.
// *bluetooth.Characteristic satisfies it.
type Notifier interface {
	Write(p []byte) (n int, err error)
}

// Server is the GATT peripheral training apps connect to. It exposes the
// Cycling Power and Cycling Speed and Cadence services.
type Server struct {
	adapter *bluetooth.Adapter
	name    string
	logger  *log.Logger
	debug   *log.Logger

	cpm    Notifier
	csc    Notifier
	cpmEnc CPMEncoder
	cscEnc CSCEncoder

	mu       sync.Mutex
	centrals map[string]bool
	adv      *bluetooth.Advertisement
}

// NewServer creates a server on adapter. debug may be nil.
func NewServer(adapter *bluetooth.Adapter, name string, logger, debug *log.Logger) *Server {
	if adapter == nil {
		panic("GattServer: adapter cannot be nil")
	}
	s := newServer(name, logger, debug)
	s.adapter = adapter
	return s
}

func newServer(name string, logger, debug *log.Logger) *Server {
	if logger == nil {
		panic("GattServer: logger cannot be nil")
	}
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}
	if name == "" {
		name = DefaultName
	}
	return &Server{
		name:     name,
		logger:   logger,
		debug:    debug,
		centrals: make(map[string]bool),
	}
}

// Name returns the advertised name.
func (s *Server) Name() string {
	return s.name
}

// Start registers the services and begins advertising.
func (s *Server) Start() error {
	var cpm, csc bluetooth.Characteristic
	err := s.adapter.AddService(&bluetooth.Service{
		UUID: ServiceUUIDCyclingPower,
		Characteristics: []bluetooth.CharacteristicConfig{
			{Handle: &cpm, UUID: CharUUIDCyclingPowerMeasurement, Flags: bluetooth.CharacteristicNotifyPermission, Value: make([]byte, cpmLength)},
			{UUID: CharUUIDCyclingPowerFeature, Flags: bluetooth.CharacteristicReadPermission, Value: CyclingPowerFeature},
			{UUID: CharUUIDSensorLocation, Flags: bluetooth.CharacteristicReadPermission, Value: SensorLocationRearHub},
		},
	})
	if err != nil {
		return fmt.Errorf("add cycling power service: %w", err)
	}
	err = s.adapter.AddService(&bluetooth.Service{
		UUID: ServiceUUIDCyclingSpeedCadence,
		Characteristics: []bluetooth.CharacteristicConfig{
			{Handle: &csc, UUID: CharUUIDCSCMeasurement, Flags: bluetooth.CharacteristicNotifyPermission, Value: []byte{0}},
			{UUID: CharUUIDCSCFeature, Flags: bluetooth.CharacteristicReadPermission, Value: CSCFeature},
		},
	})
	if err != nil {
		return fmt.Errorf("add cycling speed and cadence service: %w", err)
	}

	adv := s.adapter.DefaultAdvertisement()
	err = adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    s.name,
		ServiceUUIDs: []bluetooth.UUID{ServiceUUIDCyclingPower, ServiceUUIDCyclingSpeedCadence},
	})
	if err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("start advertising: %w", err)
	}

	s.mu.Lock()
	s.cpm, s.csc = &cpm, &csc
	s.adv = adv
	s.mu.Unlock()
	s.logger.Printf("GattServer: advertising as %q", s.name)
	return nil
}

// Stop stops advertising. Registered services stay with the adapter.
func (s *Server) Stop() error {
	s.mu.Lock()
	adv := s.adv
	s.adv = nil
	s.cpm, s.csc = nil, nil
	s.mu.Unlock()
	if adv == nil {
		return nil
	}
	s.logger.Printf("GattServer: stopping")
	if err := adv.Stop(); err != nil {
		return fmt.Errorf("stop advertising: %w", err)
	}
	return nil
}

// HandleConnection is the connect handler for centrals connecting to us.
func (s *Server) HandleConnection(address string, connected bool) {
	s.mu.Lock()
	if connected {
		s.centrals[address] = true
	} else {
		delete(s.centrals, address)
	}
	n := len(s.centrals)
	s.mu.Unlock()

	if connected {
		s.logger.Printf("GattServer: central %s connected (%d total)", address, n)
	} else {
		s.logger.Printf("GattServer: central %s disconnected (%d total)", address, n)
	}
}

// Centrals returns the number of connected centrals.
func (s *Server) Centrals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.centrals)
}

// UpdateMeasurement notifies subscribers of new power and rotation data.
// Called on the loop only.
func (s *Server) UpdateMeasurement(m cycling.Measurement) {
	s.mu.Lock()
	cpm, csc := s.cpm, s.csc
	s.mu.Unlock()

	if cpm != nil {
		value := s.cpmEnc.Encode(m)
		s.debug.Printf("GattServer: CPM power=%d %x", m.Power, value)
		if _, err := cpm.Write(value); err != nil {
			s.debug.Printf("GattServer: CPM notify: %v", err)
		}
	}
	if csc != nil {
		value := s.cscEnc.Encode(m)
		if value == nil {
			return
		}
		s.debug.Printf("GattServer: CSC %x", value)
		if _, err := csc.Write(value); err != nil {
			s.debug.Printf("GattServer: CSC notify: %v", err)
		}
	}
}
