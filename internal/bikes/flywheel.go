package bikes

import (
	"bytes"
	"encoding/binary"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

// Flywheel bikes stream stats over the Nordic UART service.
const (
	FlywheelLocalName    = "Flywheel 1"
	FlywheelServiceUUID  = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	FlywheelRxCharUUID   = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	FlywheelTxCharUUID   = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
	flywheelPowerOffset  = 3
	flywheelCadenceIndex = 12
)

var flywheelMagic = []byte{0xff, 0x1f, 0x0c}

// ParseFlywheel decodes a Flywheel stats packet: big-endian power at
// offset 3 and cadence at offset 12.
func ParseFlywheel(data []byte) (cycling.Reading, error) {
	if !bytes.HasPrefix(data, flywheelMagic) {
		return cycling.Reading{}, unrecognized("flywheel packet without magic")
	}
	if len(data) <= flywheelCadenceIndex {
		return cycling.Reading{}, unrecognized("flywheel packet too short: %d bytes", len(data))
	}
	return cycling.Reading{
		Power:   int32(binary.BigEndian.Uint16(data[flywheelPowerOffset:])),
		Cadence: uint32(data[flywheelCadenceIndex]),
	}, nil
}
