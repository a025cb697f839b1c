// Package cycling holds the values passed between the bike decoders, the
// rotation simulators and the output servers.
package cycling

import (
	"fmt"
	"math"
	"time"
)

// Reading is one decoded set of stats from a bike.
type Reading struct {
	Power    int32  // watts
	Cadence  uint32 // rpm
	Speed    float64
	HasSpeed bool // Speed (km/h) is only set by bikes that report it
}

func (r Reading) String() string {
	if r.HasSpeed {
		return fmt.Sprintf("power=%dW cadence=%drpm speed=%.2fkm/h", r.Power, r.Cadence, r.Speed)
	}
	return fmt.Sprintf("power=%dW cadence=%drpm", r.Power, r.Cadence)
}

// RotationEvent is a crank or wheel revolution: the cumulative count and
// the time of the latest revolution in milliseconds since the Unix epoch.
type RotationEvent struct {
	Revolutions uint64
	Timestamp   float64
}

// Measurement is what the app pushes to the BLE and ANT+ servers. Crank
// and Wheel are nil when no new rotation happened since the last push.
type Measurement struct {
	Power   int32
	Cadence uint32
	Crank   *RotationEvent
	Wheel   *RotationEvent
}

// Millis converts t to milliseconds since the Unix epoch.
func Millis(t time.Time) float64 {
	return float64(t.UnixMilli()) + float64(t.Nanosecond()%1e6)/1e6
}

// FromMillis is the inverse of Millis.
func FromMillis(ms float64) time.Time {
	whole := math.Floor(ms)
	return time.UnixMilli(int64(whole)).Add(time.Duration(math.Round((ms - whole) * 1e6)))
}

// EventTime1024 converts a millisecond timestamp to the 16-bit rolling
// 1/1024 s event time used by BLE CSC/CP and ANT+ speed and cadence.
func EventTime1024(ms float64) uint16 {
	return uint16(int64(math.Round(ms*1024/1000)) & 0xffff)
}
