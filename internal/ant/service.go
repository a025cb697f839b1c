package ant

import (
	"fmt"
	"io"
	"log"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
)

// StickDevice is a stick whose lifecycle a Service manages.
type StickDevice interface {
	Stick
	IsPresent() bool
	Open() error
	OnStartup(fn func()) func()
	OnMessage(fn func(Message)) func()
	Close() error
}

// Service ties a Server to a physical stick: the stick is opened on Start
// and the server begins broadcasting once the stick reports startup.
// A missing stick is not an error.
type Service struct {
	loop   *loop.Loop
	stick  StickDevice
	server *Server
	logger *log.Logger
	debug  *log.Logger

	unlisten []func()
	opened   bool
}

// NewService creates a Service broadcasting through stick.
func NewService(l *loop.Loop, stick StickDevice, logger, debug *log.Logger, opts Options) *Service {
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}
	return &Service{
		loop:   l,
		stick:  stick,
		server: NewServer(l, stick, logger, debug, opts),
		logger: logger,
		debug:  debug,
	}
}

// Start opens the stick if one is plugged in.
func (s *Service) Start() error {
	if s.opened {
		return nil
	}
	if !s.stick.IsPresent() {
		s.logger.Printf("AntServer: no ANT+ stick found")
		return nil
	}
	s.unlisten = []func(){
		s.stick.OnStartup(func() { s.loop.Post(s.started) }),
		s.stick.OnMessage(s.received),
	}
	if err := s.stick.Open(); err != nil {
		s.stopListening()
		return fmt.Errorf("AntServer: failed to open ANT+ stick: %w", err)
	}
	s.opened = true
	return nil
}

func (s *Service) started() {
	if !s.opened {
		return
	}
	s.logger.Printf("AntServer: ANT+ stick opened")
	if err := s.server.Start(); err != nil {
		s.logger.Printf("AntServer: %v", err)
	}
}

// received runs on the stick's reader goroutine.
func (s *Service) received(m Message) {
	s.debug.Printf("AntServer: received %s", m)
	if m.ID != MsgChannelEvent || len(m.Payload) < 3 {
		return
	}
	// payload is channel, the id of the message answered (1 for RF
	// events), response code
	if m.Payload[1] != rfEvent && m.Payload[2] != responseNoError {
		s.logger.Printf("AntServer: stick rejected message %02x on channel %d: code %d",
			m.Payload[1], m.Payload[0], m.Payload[2])
	}
}

func (s *Service) stopListening() {
	for _, fn := range s.unlisten {
		fn()
	}
	s.unlisten = nil
}

// Stop stops broadcasting and releases the stick.
func (s *Service) Stop() error {
	if !s.opened {
		return nil
	}
	s.opened = false
	s.stopListening()
	stopErr := s.server.Stop()
	if err := s.stick.Close(); err != nil {
		return fmt.Errorf("AntServer: close stick: %w", err)
	}
	return stopErr
}

// UpdateMeasurement forwards m to the broadcaster.
func (s *Service) UpdateMeasurement(m cycling.Measurement) {
	s.server.UpdateMeasurement(m)
}
