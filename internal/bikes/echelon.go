package bikes

import (
	"math"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

// Echelon bikes advertise EchelonAdvertisedUUID and stream cadence and
// resistance in separate packets over a vendor UART service.
const (
	EchelonAdvertisedUUID = "0bf669f0-45f2-11e7-9598-0800200c9a66"
	EchelonServiceUUID    = "0bf669f1-45f2-11e7-9598-0800200c9a66"
	EchelonRxCharUUID     = "0bf669f2-45f2-11e7-9598-0800200c9a66"
	EchelonTxCharUUID     = "0bf669f4-45f2-11e7-9598-0800200c9a66"
)

// EchelonStartStreaming asks the bike to start sending stats.
var EchelonStartStreaming = []byte{0xf0, 0xb0, 0x01, 0x01, 0xa2}

// EchelonMessageType is the type byte at offset 1.
type EchelonMessageType byte

const (
	EchelonCadence    EchelonMessageType = 0xd1
	EchelonResistance EchelonMessageType = 0xd2
)

// EchelonMessage is a single decoded cadence or resistance value.
type EchelonMessage struct {
	Type  EchelonMessageType
	Value uint8
}

// ParseEchelon decodes a cadence (offset 10) or resistance (offset 3)
// packet.
func ParseEchelon(data []byte) (EchelonMessage, error) {
	if len(data) < 2 {
		return EchelonMessage{}, unrecognized("echelon packet too short: %d bytes", len(data))
	}
	switch t := EchelonMessageType(data[1]); t {
	case EchelonCadence:
		if len(data) < 11 {
			return EchelonMessage{}, unrecognized("echelon cadence packet too short: %d bytes", len(data))
		}
		return EchelonMessage{Type: t, Value: data[10]}, nil
	case EchelonResistance:
		if len(data) < 4 {
			return EchelonMessage{}, unrecognized("echelon resistance packet too short: %d bytes", len(data))
		}
		return EchelonMessage{Type: t, Value: data[3]}, nil
	default:
		return EchelonMessage{}, unrecognized("echelon message type 0x%02x", byte(t))
	}
}

// EchelonPower estimates power in watts from cadence and resistance
// level. The bike does not report power itself.
func EchelonPower(cadence, resistance uint8) int32 {
	if cadence == 0 || resistance == 0 {
		return 0
	}
	return int32(math.Round(math.Pow(1.090112, float64(resistance)) * math.Pow(1.015343, float64(cadence)) * 7.228958))
}

// EchelonDecoder merges cadence and resistance packets into the running
// state and reports power derived from both.
type EchelonDecoder struct {
	cadence    uint8
	resistance uint8
}

func (d *EchelonDecoder) Decode(data []byte) (cycling.Reading, error) {
	msg, err := ParseEchelon(data)
	if err != nil {
		return cycling.Reading{}, err
	}
	switch msg.Type {
	case EchelonCadence:
		d.cadence = msg.Value
	case EchelonResistance:
		d.resistance = msg.Value
	}
	return cycling.Reading{
		Power:   EchelonPower(d.cadence, d.resistance),
		Cadence: uint32(d.cadence),
	}, nil
}
