package app

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/bikes"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

func connected() State {
	s := NewState(1, 0)
	s.Phase = PhaseConnected
	s.Address = "aa:bb:cc:dd:ee:ff"
	return s
}

func TestScalePower(t *testing.T) {
	tests := []struct {
		name   string
		power  int32
		scale  float64
		offset float64
		want   int32
	}{
		{"identity", 200, 1, 0, 200},
		{"zero stays zero", 0, 1, 50, 0},
		{"negative stays zero", -10, 1, 50, 0},
		{"scaled and rounded", 101, 1.05, 0, 106},
		{"offset", 100, 1, 7.4, 107},
		{"clamped at zero", 10, 1, -50, 0},
		{"half rounds away from zero", 1, 1, 1.5, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScalePower(tt.power, tt.scale, tt.offset))
		})
	}
}

func TestStep_IdleOnlyAcceptsStart(t *testing.T) {
	s := NewState(1, 0)

	next, effects := Step(s, StatsReceived{Reading: cycling.Reading{Power: 100}})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)

	next, effects = Step(s, Start{})
	assert.Equal(t, PhaseConnecting, next.Phase)
	assert.Equal(t, []Effect{ArmConnectTimer{}, ConnectBike{}}, effects)
}

func TestStep_Connected(t *testing.T) {
	s := NewState(1, 0)
	s.Phase = PhaseConnecting

	next, effects := Step(s, BikeConnected{Address: "aa:bb"})
	assert.Equal(t, PhaseConnected, next.Phase)
	assert.Equal(t, "aa:bb", next.Address)
	assert.Equal(t, []Effect{CancelConnectTimer{}, StartServers{}, ResetPingTimer{}, ResetStatsTimer{}}, effects)

	again, effects := Step(next, BikeConnected{Address: "cc:dd"})
	assert.Equal(t, next, again)
	assert.Empty(t, effects)
}

func TestStep_ExitCodes(t *testing.T) {
	connecting := NewState(1, 0)
	connecting.Phase = PhaseConnecting

	tests := []struct {
		name  string
		state State
		event Event
		phase Phase
		code  int
		err   error
	}{
		{"connect timeout", connecting, ConnectTimedOut{Interval: 5 * time.Second}, PhaseFaulted, 1, ErrConnectTimeout},
		{"connect failure", connecting, ConnectFailed{Err: errors.New("no adapter")}, PhaseFaulted, 1, nil},
		{"stats timeout", connected(), StatsTimedOut{Interval: 4 * time.Second}, PhaseDisconnected, 0, ErrStatsTimeout},
		{"disconnect", connected(), BikeDisconnected{}, PhaseDisconnected, 0, ErrBikeDisconnected},
		{"transport lost", connected(), BikeDisconnected{Reason: bikes.ErrTransportDisconnect}, PhaseDisconnected, 0, bikes.ErrTransportDisconnect},
		{"bike timeout", connected(), BikeDisconnected{Reason: fmt.Errorf("no advertisement: %w", bikes.ErrBikeTimeout)}, PhaseDisconnected, 0, bikes.ErrBikeTimeout},
		{"decode failure", connected(), BikeDisconnected{Reason: errors.New("bad packet")}, PhaseFaulted, 1, ErrBikeDisconnected},
		{"interrupted", connected(), Interrupted{}, PhaseDisconnected, 0, ErrInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, effects := Step(tt.state, tt.event)
			assert.Equal(t, tt.phase, next.Phase)
			assert.Equal(t, tt.code, next.ExitCode)
			require.Len(t, effects, 1)
			stop, ok := effects[0].(Stop)
			require.True(t, ok)
			assert.Equal(t, tt.code, stop.Code)
			require.Error(t, stop.Err)
			if tt.err != nil {
				assert.ErrorIs(t, stop.Err, tt.err)
			}
		})
	}
}

func TestStep_TimeoutMessagesIncludeInterval(t *testing.T) {
	_, effects := Step(connected(), StatsTimedOut{Interval: 4 * time.Second})
	assert.EqualError(t, effects[0].(Stop).Err, "timed out waiting for bike stats after 4s")

	_, effects = Step(connected(), BikeDisconnected{})
	assert.EqualError(t, effects[0].(Stop).Err, "bike disconnected aa:bb:cc:dd:ee:ff")
}

func TestStep_TerminalIgnoresEverything(t *testing.T) {
	s, _ := Step(connected(), StatsTimedOut{Interval: time.Second})
	for _, ev := range []Event{Start{}, BikeConnected{}, StatsReceived{}, PingElapsed{}, BikeDisconnected{}, Interrupted{}} {
		next, effects := Step(s, ev)
		assert.Equal(t, s, next)
		assert.Empty(t, effects)
	}
}

func TestStep_StatsReceived(t *testing.T) {
	s := connected()
	s.PowerScale = 2
	s.PowerOffset = 10

	next, effects := Step(s, StatsReceived{Reading: cycling.Reading{Power: 100, Cadence: 80, Speed: 25.5, HasSpeed: true}})
	assert.Equal(t, int32(210), next.Power)
	assert.Equal(t, uint32(80), next.Cadence)
	assert.Equal(t, 25.5, next.Speed)
	assert.Equal(t, []Effect{
		ResetStatsTimer{},
		SetCrankRate{Cadence: 80},
		SetWheelSpeed{Speed: 25.5},
		Push{Measurement: cycling.Measurement{Power: 210, Cadence: 80}},
	}, effects)

	next, effects = Step(next, StatsReceived{Reading: cycling.Reading{Power: 0, Cadence: 0}})
	assert.Equal(t, int32(0), next.Power)
	assert.Equal(t, 0.0, next.Speed)
	assert.Contains(t, effects, SetWheelSpeed{Speed: 0})
}

func TestStep_Rotations(t *testing.T) {
	s := connected()
	s.Power = 150
	s.Cadence = 90

	crank := cycling.RotationEvent{Revolutions: 3, Timestamp: 1000}
	next, effects := Step(s, CrankRotated{Rotation: crank})
	assert.Equal(t, crank, next.Crank)
	require.Len(t, effects, 2)
	assert.Equal(t, ResetPingTimer{}, effects[0])
	push := effects[1].(Push)
	assert.Equal(t, int32(150), push.Measurement.Power)
	require.NotNil(t, push.Measurement.Crank)
	assert.Equal(t, crank, *push.Measurement.Crank)
	assert.Nil(t, push.Measurement.Wheel)

	wheel := cycling.RotationEvent{Revolutions: 7, Timestamp: 1200}
	next, effects = Step(next, WheelRotated{Rotation: wheel})
	assert.Equal(t, wheel, next.Wheel)
	push = effects[1].(Push)
	require.NotNil(t, push.Measurement.Wheel)
	assert.Equal(t, wheel, *push.Measurement.Wheel)
	assert.Nil(t, push.Measurement.Crank)
}

func TestStep_Ping(t *testing.T) {
	s := connected()
	s.Power = 120
	s.Cadence = 70
	s.Crank = cycling.RotationEvent{Revolutions: 9, Timestamp: 500}

	_, effects := Step(s, PingElapsed{})
	assert.Equal(t, []Effect{Push{Measurement: cycling.Measurement{Power: 120, Cadence: 70}}}, effects)
}

func TestStep_ConnectingIgnoresBikeData(t *testing.T) {
	connecting := NewState(1, 0)
	connecting.Phase = PhaseConnecting

	tests := []struct {
		name  string
		event Event
	}{
		{"stats", StatsReceived{Reading: cycling.Reading{Power: 150, Cadence: 80}}},
		{"crank", CrankRotated{Rotation: cycling.RotationEvent{Revolutions: 1, Timestamp: 1000}}},
		{"wheel", WheelRotated{Rotation: cycling.RotationEvent{Revolutions: 1, Timestamp: 1000}}},
		{"ping", PingElapsed{}},
		{"stats timeout", StatsTimedOut{Interval: 4 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, effects := Step(connecting, tt.event)
			assert.Equal(t, connecting, next)
			assert.Empty(t, effects)
		})
	}
}
