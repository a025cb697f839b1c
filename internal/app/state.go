package app

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/bikes"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

var (
	// ErrConnectTimeout ends the run when the bike does not connect in time.
	ErrConnectTimeout = errors.New("bike connection timed out")

	// ErrStatsTimeout ends the run when a connected bike stops sending stats.
	ErrStatsTimeout = errors.New("timed out waiting for bike stats")

	// ErrBikeDisconnected ends the run when the bike goes away.
	ErrBikeDisconnected = errors.New("bike disconnected")

	// ErrInterrupted ends the run on a signal.
	ErrInterrupted = errors.New("interrupted")
)

// Phase is where the app is in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisconnected
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Terminal reports whether the run is over.
func (p Phase) Terminal() bool {
	return p == PhaseDisconnected || p == PhaseFaulted
}

// State is everything Step needs to decide what happens next.
type State struct {
	Phase       Phase
	PowerScale  float64
	PowerOffset float64

	Address string
	Power   int32
	Cadence uint32
	Speed   float64
	Crank   cycling.RotationEvent
	Wheel   cycling.RotationEvent

	ExitCode int
	Err      error
}

// NewState returns an idle state with the given power adjustment.
func NewState(powerScale, powerOffset float64) State {
	return State{PowerScale: powerScale, PowerOffset: powerOffset}
}

// Measurement is the current power and cadence with no new rotation.
func (s State) Measurement() cycling.Measurement {
	return cycling.Measurement{Power: s.Power, Cadence: s.Cadence}
}

// ScalePower applies the power adjustment. Zero and negative readings
// stay zero so an idle bike never reports the offset.
func ScalePower(power int32, scale, offset float64) int32 {
	if power <= 0 {
		return 0
	}
	v := math.Round(float64(power)*scale + offset)
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	default:
		return int32(v)
	}
}

// Event is an input to Step.
type Event interface{ event() }

type (
	Start         struct{}
	BikeConnected struct{ Address string }
	ConnectFailed struct{ Err error }
	StatsReceived struct{ Reading cycling.Reading }
	CrankRotated  struct{ Rotation cycling.RotationEvent }
	WheelRotated  struct{ Rotation cycling.RotationEvent }
	PingElapsed   struct{}
	StatsTimedOut struct{ Interval time.Duration }

	ConnectTimedOut struct{ Interval time.Duration }

	BikeDisconnected struct {
		Address string
		Reason  error
	}

	Interrupted struct{}
)

func (Start) event()            {}
func (BikeConnected) event()    {}
func (ConnectFailed) event()    {}
func (StatsReceived) event()    {}
func (CrankRotated) event()     {}
func (WheelRotated) event()     {}
func (PingElapsed) event()      {}
func (StatsTimedOut) event()    {}
func (ConnectTimedOut) event()  {}
func (BikeDisconnected) event() {}
func (Interrupted) event()      {}

// Effect is an instruction from Step to the App.
type Effect interface{ effect() }

type (
	ConnectBike        struct{}
	ArmConnectTimer    struct{}
	CancelConnectTimer struct{}
	StartServers       struct{}
	ResetStatsTimer    struct{}
	ResetPingTimer     struct{}
	SetCrankRate       struct{ Cadence float64 }
	SetWheelSpeed      struct{ Speed float64 }
	Push               struct{ Measurement cycling.Measurement }
	Stop               struct {
		Code int
		Err  error
	}
)

func (ConnectBike) effect()        {}
func (ArmConnectTimer) effect()    {}
func (CancelConnectTimer) effect() {}
func (StartServers) effect()       {}
func (ResetStatsTimer) effect()    {}
func (ResetPingTimer) effect()     {}
func (SetCrankRate) effect()       {}
func (SetWheelSpeed) effect()      {}
func (Push) effect()               {}
func (Stop) effect()               {}

// Step is the app's transition function. It returns the next state and
// the effects to carry out, in order. An event that does not apply to
// the current phase returns the state unchanged and no effects.
func Step(s State, ev Event) (State, []Effect) {
	if s.Phase.Terminal() {
		return s, nil
	}
	if s.Phase == PhaseIdle {
		if _, ok := ev.(Start); ok {
			s.Phase = PhaseConnecting
			return s, []Effect{ArmConnectTimer{}, ConnectBike{}}
		}
		return s, nil
	}

	switch e := ev.(type) {
	case BikeConnected:
		if s.Phase != PhaseConnecting {
			return s, nil
		}
		s.Phase = PhaseConnected
		s.Address = e.Address
		return s, []Effect{CancelConnectTimer{}, StartServers{}, ResetPingTimer{}, ResetStatsTimer{}}

	case ConnectFailed:
		if s.Phase != PhaseConnecting {
			return s, nil
		}
		return stop(s, PhaseFaulted, 1, fmt.Errorf("connect to bike: %w", e.Err))

	case ConnectTimedOut:
		if s.Phase != PhaseConnecting {
			return s, nil
		}
		return stop(s, PhaseFaulted, 1, fmt.Errorf("%w after %s", ErrConnectTimeout, e.Interval))

	case StatsTimedOut:
		if s.Phase != PhaseConnected {
			return s, nil
		}
		return stop(s, PhaseDisconnected, 0, fmt.Errorf("%w after %s", ErrStatsTimeout, e.Interval))

	case BikeDisconnected:
		addr := e.Address
		if addr == "" {
			addr = s.Address
		}
		if e.Reason == nil {
			return stop(s, PhaseDisconnected, 0, fmt.Errorf("%w %s", ErrBikeDisconnected, addr))
		}
		err := fmt.Errorf("%w %s: %w", ErrBikeDisconnected, addr, e.Reason)
		if errors.Is(e.Reason, bikes.ErrTransportDisconnect) || errors.Is(e.Reason, bikes.ErrBikeTimeout) {
			return stop(s, PhaseDisconnected, 0, err)
		}
		return stop(s, PhaseFaulted, 1, err)

	case Interrupted:
		return stop(s, PhaseDisconnected, 0, ErrInterrupted)

	case StatsReceived:
		if s.Phase != PhaseConnected {
			return s, nil
		}
		r := e.Reading
		s.Power = ScalePower(r.Power, s.PowerScale, s.PowerOffset)
		s.Cadence = r.Cadence
		s.Speed = 0
		if r.HasSpeed {
			s.Speed = r.Speed
		}
		return s, []Effect{
			ResetStatsTimer{},
			SetCrankRate{Cadence: float64(s.Cadence)},
			SetWheelSpeed{Speed: s.Speed},
			Push{Measurement: s.Measurement()},
		}

	case CrankRotated:
		if s.Phase != PhaseConnected {
			return s, nil
		}
		s.Crank = e.Rotation
		m := s.Measurement()
		crank := e.Rotation
		m.Crank = &crank
		return s, []Effect{ResetPingTimer{}, Push{Measurement: m}}

	case WheelRotated:
		if s.Phase != PhaseConnected {
			return s, nil
		}
		s.Wheel = e.Rotation
		m := s.Measurement()
		wheel := e.Rotation
		m.Wheel = &wheel
		return s, []Effect{ResetPingTimer{}, Push{Measurement: m}}

	case PingElapsed:
		if s.Phase != PhaseConnected {
			return s, nil
		}
		return s, []Effect{Push{Measurement: s.Measurement()}}
	}
	return s, nil
}

func stop(s State, phase Phase, code int, err error) (State, []Effect) {
	s.Phase = phase
	s.ExitCode = code
	s.Err = err
	return s, []Effect{Stop{Code: code, Err: err}}
}
