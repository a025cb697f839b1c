package bikes

import (
	"math"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

// Peloton bikes talk to their head unit over a 19200 baud serial line;
// messages are terminated by PelotonDelimiter.
const (
	PelotonBaudRate  = 19200
	PelotonDelimiter = 0xf6
)

// Requests the head unit sends to poll for values.
var (
	PelotonRequestCadence    = []byte{0xf6, 0xf5, 0x41, 0x36}
	PelotonRequestPower      = []byte{0xf6, 0xf5, 0x44, 0x39}
	PelotonRequestResistance = []byte{0xf6, 0xf5, 0x4a, 0x3f}
)

// PelotonMessageType is the type byte at offset 1.
type PelotonMessageType byte

const (
	PelotonCadence PelotonMessageType = 65
	PelotonPower   PelotonMessageType = 68
)

const pelotonDigitsOffset = 3

// PelotonMessage is a single decoded cadence (rpm) or power (W) value.
type PelotonMessage struct {
	Type  PelotonMessageType
	Value float64
}

// DecodePelotonDigits reads n ASCII digits starting at offset 3, least
// significant first. For power the first digit is tenths of a watt.
func DecodePelotonDigits(data []byte, n int, isPower bool) (float64, error) {
	if len(data) < pelotonDigitsOffset+n {
		return 0, unrecognized("peloton packet too short for %d digits: %d bytes", n, len(data))
	}
	place := 1.0
	fraction := 0.0
	accumulator := 0.0
	for i := 0; i < n; i++ {
		digit := int(data[pelotonDigitsOffset+i]) - '0'
		if digit < 0 || digit > 9 {
			return 0, unrecognized("peloton invalid digit 0x%02x", data[pelotonDigitsOffset+i])
		}
		if isPower && i == 0 {
			fraction = place * float64(digit) / 10
			continue
		}
		accumulator += float64(digit) * place
		place *= 10
	}
	return accumulator + fraction, nil
}

// ParsePeloton decodes one delimiter-stripped frame.
func ParsePeloton(frame []byte) (PelotonMessage, error) {
	if len(frame) < pelotonDigitsOffset {
		return PelotonMessage{}, unrecognized("peloton frame too short: %d bytes", len(frame))
	}
	t := PelotonMessageType(frame[1])
	if t != PelotonCadence && t != PelotonPower {
		return PelotonMessage{}, unrecognized("peloton message type %d", frame[1])
	}
	v, err := DecodePelotonDigits(frame, int(frame[2]), t == PelotonPower)
	if err != nil {
		return PelotonMessage{}, err
	}
	return PelotonMessage{Type: t, Value: v}, nil
}

// PelotonSpeed estimates road speed in km/h from power in watts, rounded
// to two decimals.
func PelotonSpeed(power float64) float64 {
	if !(power > 0) {
		return 0
	}
	r := math.Sqrt(power)
	var speed float64
	if power < 26 {
		speed = 0.057 - 0.172*r + 0.759*r*r - 0.079*r*r*r
	} else {
		speed = -1.635 + 2.325*r - 0.064*r*r + 0.001*r*r*r
	}
	return math.Round(speed*100) / 100
}

// PelotonDecoder merges power and cadence frames.
type PelotonDecoder struct {
	power   float64
	cadence float64
}

func (d *PelotonDecoder) Decode(frame []byte) (cycling.Reading, error) {
	msg, err := ParsePeloton(frame)
	if err != nil {
		return cycling.Reading{}, err
	}
	switch msg.Type {
	case PelotonPower:
		d.power = msg.Value
	case PelotonCadence:
		d.cadence = msg.Value
	}
	return cycling.Reading{
		Power:    int32(math.Round(d.power)),
		Cadence:  uint32(math.Round(d.cadence)),
		Speed:    PelotonSpeed(d.power),
		HasSpeed: true,
	}, nil
}
