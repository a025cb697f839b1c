package gatt

import (
	"encoding/binary"
	"fmt"
)

// cpmValue is the decoded form of a CPM notification.
type cpmValue struct {
	Power            int16
	HasCrank         bool
	CrankRevolutions uint16
	CrankEventTime   uint16 // 1/1024 s
}

// parseCPM decodes power and crank data. Optional fields before the
// crank data (pedal balance, torque, wheel) are skipped.
// See: https://www.bluetooth.com/specifications/specs/cycling-power-service-1-1/
func parseCPM(buf []byte) (cpmValue, error) {
	if len(buf) < 4 {
		return cpmValue{}, fmt.Errorf("cycling power data too short: %d bytes", len(buf))
	}
	flags := binary.LittleEndian.Uint16(buf[0:2])
	m := cpmValue{Power: int16(binary.LittleEndian.Uint16(buf[2:4]))}

	offset := 4
	if flags&(1<<0) != 0 { // pedal power balance
		offset++
	}
	if flags&(1<<2) != 0 { // accumulated torque
		offset += 2
	}
	if flags&(1<<4) != 0 { // wheel revolution data
		offset += 6
	}
	if flags&cpmFlagCrankData == 0 {
		return m, nil
	}
	if offset+4 > len(buf) {
		return cpmValue{}, fmt.Errorf("cycling power data too short for crank data at offset %d", offset)
	}
	m.HasCrank = true
	m.CrankRevolutions = binary.LittleEndian.Uint16(buf[offset:])
	m.CrankEventTime = binary.LittleEndian.Uint16(buf[offset+2:])
	return m, nil
}

// cscValue is the decoded form of a CSC notification.
type cscValue struct {
	HasWheel         bool
	WheelRevolutions uint32
	WheelEventTime   uint16
	HasCrank         bool
	CrankRevolutions uint16
	CrankEventTime   uint16
}

// parseCSC decodes a CSC measurement.
// See: https://www.bluetooth.com/specifications/specs/cycling-speed-and-cadence-service-1-0/
func parseCSC(buf []byte) (cscValue, error) {
	if len(buf) < 1 {
		return cscValue{}, fmt.Errorf("CSC data too short: %d bytes", len(buf))
	}
	flags := buf[0]
	offset := 1
	var m cscValue

	if flags&cscFlagWheelData != 0 {
		if offset+6 > len(buf) {
			return cscValue{}, fmt.Errorf("CSC data too short for wheel data at offset %d", offset)
		}
		m.HasWheel = true
		m.WheelRevolutions = binary.LittleEndian.Uint32(buf[offset:])
		m.WheelEventTime = binary.LittleEndian.Uint16(buf[offset+4:])
		offset += 6
	}
	if flags&cscFlagCrankData != 0 {
		if offset+4 > len(buf) {
			return cscValue{}, fmt.Errorf("CSC data too short for crank data at offset %d", offset)
		}
		m.HasCrank = true
		m.CrankRevolutions = binary.LittleEndian.Uint16(buf[offset:])
		m.CrankEventTime = binary.LittleEndian.Uint16(buf[offset+2:])
	}
	return m, nil
}
