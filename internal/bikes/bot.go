package bikes

import (
	"encoding/json"
	"math"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

// BotAddress is the address reported by the synthetic bike.
const BotAddress = "00:00:00:00:00:00"

// BotUpdate is the JSON message accepted by the bot bike. Absent fields
// keep their previous value.
type BotUpdate struct {
	Power   *float64 `json:"power,omitempty"`
	Cadence *float64 `json:"cadence,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
}

// BotDecoder holds the values of the synthetic bike. Power and cadence
// must be non-negative integers and speed non-negative; anything else in
// an update is ignored.
type BotDecoder struct {
	state cycling.Reading
}

// NewBotDecoder creates a decoder starting at the given values.
func NewBotDecoder(initial cycling.Reading) *BotDecoder {
	return &BotDecoder{state: initial}
}

// Decode applies a JSON BotUpdate and returns the resulting values.
func (d *BotDecoder) Decode(data []byte) (cycling.Reading, error) {
	var u BotUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return cycling.Reading{}, unrecognized("bot message: %v", err)
	}
	return d.Apply(u), nil
}

// Apply merges u into the current values.
func (d *BotDecoder) Apply(u BotUpdate) cycling.Reading {
	if isNonNegativeInt(u.Power) {
		d.state.Power = int32(*u.Power)
	}
	if isNonNegativeInt(u.Cadence) {
		d.state.Cadence = uint32(*u.Cadence)
	}
	if u.Speed != nil && *u.Speed >= 0 && !math.IsInf(*u.Speed, 0) {
		d.state.Speed = *u.Speed
		d.state.HasSpeed = true
	}
	return d.state
}

// Current returns the values without changing them.
func (d *BotDecoder) Current() cycling.Reading {
	return d.state
}

func isNonNegativeInt(v *float64) bool {
	return v != nil && *v >= 0 && *v <= math.MaxInt32 && *v == math.Trunc(*v)
}
