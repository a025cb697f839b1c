package gatt

import "tinygo.org/x/bluetooth"

// Services and characteristics exposed to training apps.
var (
	ServiceUUIDCyclingPower         = bluetooth.ServiceUUIDCyclingPower
	CharUUIDCyclingPowerMeasurement = bluetooth.CharacteristicUUIDCyclingPowerMeasurement
	CharUUIDCyclingPowerFeature     = bluetooth.New16BitUUID(0x2a65)
	CharUUIDSensorLocation          = bluetooth.New16BitUUID(0x2a5d)

	ServiceUUIDCyclingSpeedCadence = bluetooth.ServiceUUIDCyclingSpeedAndCadence
	CharUUIDCSCMeasurement         = bluetooth.CharacteristicUUIDCSCMeasurement
	CharUUIDCSCFeature             = bluetooth.New16BitUUID(0x2a5c)
)

// Static characteristic values.
var (
	// CyclingPowerFeature advertises crank revolution data (bit 3).
	CyclingPowerFeature = []byte{0x08, 0x00, 0x00, 0x00}
	// SensorLocationRearHub is what most trainers report.
	SensorLocationRearHub = []byte{0x0d}
	// CSCFeature advertises wheel and crank revolution data.
	CSCFeature = []byte{0x03, 0x00}
)
