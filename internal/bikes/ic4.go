package bikes

import (
	"encoding/binary"
	"math"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

// IC4 bikes (Schwinn IC4 / Bowflex C6) expose FTMS indoor bike data.
const (
	IC4LocalName          = "IC Bike"
	IC4ServiceUUID        = "00001826-0000-1000-8000-00805f9b34fb"
	IC4IndoorBikeDataUUID = "00002ad2-0000-1000-8000-00805f9b34fb"
)

const ic4Magic = 0x44

// ParseIC4 decodes the fixed-layout indoor bike data packet the IC4
// sends: speed (0.01 km/h) at 2, cadence (0.5 rpm) at 4, power at 6, all
// little-endian.
func ParseIC4(data []byte) (cycling.Reading, error) {
	if len(data) == 0 || data[0] != ic4Magic {
		return cycling.Reading{}, unrecognized("ic4 packet without magic")
	}
	if len(data) < 8 {
		return cycling.Reading{}, unrecognized("ic4 packet too short: %d bytes", len(data))
	}
	power := int32(int16(binary.LittleEndian.Uint16(data[6:])))
	if power < 0 {
		power = 0
	}
	return cycling.Reading{
		Power:    power,
		Cadence:  uint32(math.Round(float64(binary.LittleEndian.Uint16(data[4:])) / 2)),
		Speed:    float64(binary.LittleEndian.Uint16(data[2:])) / 100,
		HasSpeed: true,
	}, nil
}
