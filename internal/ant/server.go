package ant

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/timer"
)

// Channel setup shared by both profiles.
const (
	RFFrequency = 2457 // MHz

	PowerChannel          = 1
	PowerDeviceType       = 0x0b
	PowerTransmissionType = 1
	PowerPeriod           = 8182 // ~4 Hz

	SpeedCadenceChannel          = 2
	SpeedCadenceDeviceType       = 0x79
	SpeedCadenceTransmissionType = 2
	SpeedCadencePeriod           = 8086

	SpeedDeviceType = 0x7b
	SpeedPeriod     = 8118

	DefaultDeviceID = 11234

	// BroadcastPeriod is the outer tick in 1/32768 s. The two profiles
	// take turns, so each is sent every other tick.
	BroadcastPeriod = 4096
)

// BroadcastInterval is BroadcastPeriod as a Duration.
const BroadcastInterval = BroadcastPeriod * time.Second / 32768

// SpeedProfile selects the device profile of the second channel.
type SpeedProfile string

const (
	SpeedProfileCombined SpeedProfile = "combined"
	SpeedProfileSpeed    SpeedProfile = "speed"
)

// ParseSpeedProfile validates s.
func ParseSpeedProfile(s string) (SpeedProfile, error) {
	switch p := SpeedProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case SpeedProfileCombined, SpeedProfileSpeed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown ANT+ speed profile %q", s)
	}
}

// Stick is the ANT+ radio the server writes to.
type Stick interface {
	Write(msg []byte) error
}

// Options configure a Server.
type Options struct {
	DeviceID     uint16 // power channel; speed/cadence uses DeviceID+1
	SpeedProfile SpeedProfile
}

// Server broadcasts bike power on one channel and speed/cadence (or
// speed only) on a second channel. All methods run on the loop.
type Server struct {
	stick   Stick
	logger  *log.Logger
	debug   *log.Logger
	opts    Options
	ticker  *timer.Timer
	running bool

	cycle            uint64
	eventCount       uint8
	accumulatedPower uint16

	power     uint16
	cadence   uint8
	crankTime uint16
	crankRevs uint16
	wheelTime uint16
	wheelRevs uint16
}

// NewServer creates a stopped server. debug may be nil.
func NewServer(l *loop.Loop, stick Stick, logger, debug *log.Logger, opts Options) *Server {
	if stick == nil {
		panic("AntServer: stick cannot be nil")
	}
	if logger == nil {
		panic("AntServer: logger cannot be nil")
	}
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}
	if opts.DeviceID == 0 {
		opts.DeviceID = DefaultDeviceID
	}
	if opts.SpeedProfile == "" {
		opts.SpeedProfile = SpeedProfileCombined
	}
	s := &Server{
		stick:  stick,
		logger: logger,
		debug:  debug,
		opts:   opts,
		ticker: timer.New(l, BroadcastInterval, true),
	}
	s.ticker.OnTimeout(func(time.Duration) { s.broadcast() })
	return s
}

// IsRunning reports whether Start succeeded and Stop was not called.
func (s *Server) IsRunning() bool {
	return s.running
}

func (s *Server) speedChannel() (deviceType byte, period uint16) {
	if s.opts.SpeedProfile == SpeedProfileSpeed {
		return SpeedDeviceType, SpeedPeriod
	}
	return SpeedCadenceDeviceType, SpeedCadencePeriod
}

// Start configures and opens both channels and starts broadcasting.
func (s *Server) Start() error {
	if s.running {
		return nil
	}
	speedType, speedPeriod := s.speedChannel()
	msgs := [][]byte{
		AssignChannel(PowerChannel),
		SetChannelID(PowerChannel, s.opts.DeviceID, PowerDeviceType, PowerTransmissionType),
		SetRFFrequency(PowerChannel, RFFrequency),
		SetChannelPeriod(PowerChannel, PowerPeriod),
		OpenChannel(PowerChannel),

		AssignChannel(SpeedCadenceChannel),
		SetChannelID(SpeedCadenceChannel, s.opts.DeviceID+1, speedType, SpeedCadenceTransmissionType),
		SetRFFrequency(SpeedCadenceChannel, RFFrequency),
		SetChannelPeriod(SpeedCadenceChannel, speedPeriod),
		OpenChannel(SpeedCadenceChannel),
	}
	for _, m := range msgs {
		if err := s.stick.Write(m); err != nil {
			return fmt.Errorf("AntServer: start: %w", err)
		}
	}
	s.logger.Printf("AntServer: broadcasting power as device %d and %s as device %d",
		s.opts.DeviceID, s.opts.SpeedProfile, s.opts.DeviceID+1)
	s.ticker.Reset()
	s.running = true
	return nil
}

// Stop stops broadcasting and releases both channels.
func (s *Server) Stop() error {
	if !s.running {
		return nil
	}
	s.ticker.Cancel()
	s.running = false
	s.logger.Printf("AntServer: stopping")
	for _, m := range [][]byte{
		CloseChannel(PowerChannel),
		UnassignChannel(PowerChannel),
		CloseChannel(SpeedCadenceChannel),
		UnassignChannel(SpeedCadenceChannel),
	} {
		if err := s.stick.Write(m); err != nil {
			return fmt.Errorf("AntServer: stop: %w", err)
		}
	}
	return nil
}

// UpdateMeasurement sets the values sent on the next ticks.
func (s *Server) UpdateMeasurement(m cycling.Measurement) {
	s.power = clampUint16(int64(m.Power))
	s.cadence = uint8(min(m.Cadence, 0xff))
	if m.Crank != nil {
		s.crankRevs = uint16(m.Crank.Revolutions)
		s.crankTime = cycling.EventTime1024(m.Crank.Timestamp)
	}
	if m.Wheel != nil {
		s.wheelRevs = uint16(m.Wheel.Revolutions)
		s.wheelTime = cycling.EventTime1024(m.Wheel.Timestamp)
	}
}

func (s *Server) broadcast() {
	var msg []byte
	if s.cycle%2 == 0 {
		s.accumulatedPower += s.power
		msg = BroadcastData(PowerChannel, PowerOnlyPage(s.eventCount, s.cadence, s.accumulatedPower, s.power))
		s.debug.Printf("AntServer: power=%dW cadence=%drpm accumulated=%d event=%d", s.power, s.cadence, s.accumulatedPower, s.eventCount)
		s.eventCount++
	} else if s.opts.SpeedProfile == SpeedProfileSpeed {
		msg = BroadcastData(SpeedCadenceChannel, SpeedPage(s.wheelTime, s.wheelRevs))
		s.debug.Printf("AntServer: wheel revs=%d time=%d", s.wheelRevs, s.wheelTime)
	} else {
		msg = BroadcastData(SpeedCadenceChannel, SpeedCadencePage(s.crankTime, s.crankRevs, s.wheelTime, s.wheelRevs))
		s.debug.Printf("AntServer: crank revs=%d time=%d wheel revs=%d time=%d", s.crankRevs, s.crankTime, s.wheelRevs, s.wheelTime)
	}
	s.cycle++
	if err := s.stick.Write(msg); err != nil {
		s.logger.Printf("AntServer: broadcast: %v", err)
	}
}

func clampUint16(v int64) uint16 {
	switch {
	case v < 0:
		return 0
	case v > 0xffff:
		return 0xffff
	default:
		return uint16(v)
	}
}
