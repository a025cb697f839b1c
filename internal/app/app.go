// Package app sequences the bike connection, the rotation simulators and
// the BLE and ANT+ servers. Step decides; App carries out its effects on
// the loop.
package app

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/bikes"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/events"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/goutil"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/simulation"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/timer"
)

// Server receives measurements once the bike is connected.
type Server interface {
	Start() error
	Stop() error
	UpdateMeasurement(m cycling.Measurement)
}

// Options configure an App. Zero timeouts disable the matching timer.
type Options struct {
	ConnectTimeout time.Duration
	StatsTimeout   time.Duration
	PingInterval   time.Duration
	PowerScale     float64
	PowerOffset    float64
}

// Snapshot is the externally visible state, published after every change.
type Snapshot struct {
	Phase            string    `json:"phase"`
	Bike             string    `json:"bike"`
	Address          string    `json:"address,omitempty"`
	Power            int32     `json:"power"`
	Cadence          uint32    `json:"cadence"`
	Speed            float64   `json:"speed"`
	CrankRevolutions uint64    `json:"crankRevolutions"`
	WheelRevolutions uint64    `json:"wheelRevolutions"`
	Error            string    `json:"error,omitempty"`
	Time             time.Time `json:"time"`
}

// App owns all core state. Every method except Start, Run, Done and
// Snapshots must be called on the loop.
type App struct {
	loop    *loop.Loop
	logger  *log.Logger
	debug   *log.Logger
	bike    bikes.Client
	servers []Server
	opts    Options

	state State

	connectTimer *timer.Timer
	statsTimer   *timer.Timer
	pingTimer    *timer.Timer
	crank        *simulation.Simulator
	wheel        *simulation.Simulator

	snapshots     *events.Broadcast[Snapshot]
	cancelConnect context.CancelFunc
	unlisten      []func()
	exit          func()
	done          chan struct{}
}

// New wires an App. servers are started in order once the bike connects
// and stopped in reverse order when the run ends. debug may be nil.
func New(l *loop.Loop, bike bikes.Client, servers []Server, logger, debug *log.Logger, opts Options) *App {
	if l == nil {
		panic("App: loop cannot be nil")
	}
	if bike == nil {
		panic("App: bike cannot be nil")
	}
	if logger == nil {
		panic("App: logger cannot be nil")
	}
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}
	a := &App{
		loop:         l,
		logger:       logger,
		debug:        debug,
		bike:         bike,
		servers:      servers,
		opts:         opts,
		state:        NewState(opts.PowerScale, opts.PowerOffset),
		connectTimer: timer.New(l, opts.ConnectTimeout, false),
		statsTimer:   timer.New(l, opts.StatsTimeout, false),
		pingTimer:    timer.New(l, opts.PingInterval, true),
		crank:        simulation.NewCrank(l),
		wheel:        simulation.NewWheel(l),
		snapshots:    events.NewBroadcast[Snapshot](),
		done:         make(chan struct{}),
	}

	a.connectTimer.OnTimeout(func(d time.Duration) { a.dispatch(ConnectTimedOut{Interval: d}) })
	a.statsTimer.OnTimeout(func(d time.Duration) { a.dispatch(StatsTimedOut{Interval: d}) })
	a.pingTimer.OnTimeout(func(d time.Duration) {
		a.debug.Printf("App: pinging app since no stats or pedal strokes for %s", d)
		a.dispatch(PingElapsed{})
	})
	a.crank.OnRotation(func(ev cycling.RotationEvent) { a.dispatch(CrankRotated{Rotation: ev}) })
	a.wheel.OnRotation(func(ev cycling.RotationEvent) { a.dispatch(WheelRotated{Rotation: ev}) })
	a.unlisten = append(a.unlisten,
		bike.OnStats(func(r cycling.Reading) { a.dispatch(StatsReceived{Reading: r}) }),
		bike.OnDisconnect(func(reason error) {
			a.dispatch(BikeDisconnected{Address: bike.Address(), Reason: reason})
		}),
	)
	return a
}

// Snapshots is the feed of state changes.
func (a *App) Snapshots() *events.Broadcast[Snapshot] {
	return a.snapshots
}

// State returns the current state.
func (a *App) State() State {
	return a.state
}

// Done is closed once the run has ended.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Start begins connecting to the bike. Safe to call from any goroutine.
func (a *App) Start() {
	a.loop.Post(func() { a.dispatch(Start{}) })
}

// Run starts the app and drives the loop until the run ends or ctx is
// cancelled, then returns the process exit code.
func (a *App) Run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.exit = cancel

	a.Start()
	_ = a.loop.Run(ctx)
	if !a.state.Phase.Terminal() {
		// the loop is stopped, so this goroutine owns the state again
		a.dispatch(Interrupted{})
	}
	return a.state.ExitCode
}

func (a *App) dispatch(ev Event) {
	prev := a.state
	next, effects := Step(prev, ev)
	if len(effects) == 0 {
		a.debug.Printf("App: ignoring %T while %s", ev, prev.Phase)
		return
	}
	a.state = next
	a.logEvent(ev)
	for _, eff := range effects {
		a.apply(eff)
	}
	if next.Phase != prev.Phase {
		a.publish()
	}
}

func (a *App) logEvent(ev Event) {
	switch e := ev.(type) {
	case Start:
		a.logger.Printf("App: connecting to %s bike...", a.bike.Kind())
	case BikeConnected:
		a.logger.Printf("App: bike connected %s", e.Address)
	case StatsReceived:
		s := a.state
		a.logger.Printf("App: received stats from bike [power=%dW cadence=%drpm speed=%.2fkm/h]", s.Power, s.Cadence, s.Speed)
	case CrankRotated:
		a.debug.Printf("App: pedal stroke [timestamp=%.0f revolutions=%d cadence=%drpm power=%dW]",
			e.Rotation.Timestamp, e.Rotation.Revolutions, a.state.Cadence, a.state.Power)
	case WheelRotated:
		a.debug.Printf("App: wheel rotation [timestamp=%.0f revolutions=%d speed=%.2fkm/h power=%dW]",
			e.Rotation.Timestamp, e.Rotation.Revolutions, a.state.Speed, a.state.Power)
	}
}

func (a *App) apply(eff Effect) {
	switch e := eff.(type) {
	case ArmConnectTimer:
		a.connectTimer.Reset()
	case CancelConnectTimer:
		a.connectTimer.Cancel()
	case ConnectBike:
		a.connectBike()
	case StartServers:
		for _, srv := range a.servers {
			if err := srv.Start(); err != nil {
				a.logger.Printf("App: %v", err)
			}
		}
	case ResetStatsTimer:
		a.statsTimer.Reset()
	case ResetPingTimer:
		a.pingTimer.Reset()
	case SetCrankRate:
		a.crank.SetRate(e.Cadence)
	case SetWheelSpeed:
		a.wheel.SetRate(e.Speed)
	case Push:
		for _, srv := range a.servers {
			srv.UpdateMeasurement(e.Measurement)
		}
		a.publish()
	case Stop:
		a.shutdown(e)
	}
}

func (a *App) connectBike() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelConnect = cancel
	goutil.SafeGo(a.logger, "bike-connect", func() {
		err := a.bike.Connect(ctx)
		a.loop.Post(func() {
			if err != nil {
				a.dispatch(ConnectFailed{Err: err})
				return
			}
			a.dispatch(BikeConnected{Address: a.bike.Address()})
		})
	})
}

func (a *App) shutdown(s Stop) {
	a.logger.Printf("App: %v", s.Err)

	a.connectTimer.Cancel()
	a.statsTimer.Cancel()
	a.pingTimer.Cancel()
	a.crank.Stop()
	a.wheel.Stop()
	for _, fn := range a.unlisten {
		fn()
	}
	if a.cancelConnect != nil {
		a.cancelConnect()
	}
	for i := len(a.servers) - 1; i >= 0; i-- {
		if err := a.servers[i].Stop(); err != nil {
			a.logger.Printf("App: %v", err)
		}
	}
	if err := a.bike.Disconnect(); err != nil {
		a.debug.Printf("App: disconnect bike: %v", err)
	}
	if n := a.loop.Pending(); n > 0 {
		a.debug.Printf("App: %d timers still scheduled after shutdown", n)
	}

	close(a.done)
	if a.exit != nil {
		a.exit()
	}
}

func (a *App) publish() {
	s := a.state
	snap := Snapshot{
		Phase:            s.Phase.String(),
		Bike:             a.bike.Kind().String(),
		Address:          s.Address,
		Power:            s.Power,
		Cadence:          s.Cadence,
		Speed:            s.Speed,
		CrankRevolutions: s.Crank.Revolutions,
		WheelRevolutions: s.Wheel.Revolutions,
		Time:             a.loop.Now(),
	}
	if s.Err != nil {
		snap.Error = s.Err.Error()
	}
	a.snapshots.Publish(snap)
}
