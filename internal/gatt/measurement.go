package gatt

import (
	"encoding/binary"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

const (
	cpmFlagCrankData = 1 << 5
	cpmLength        = 8

	cscFlagWheelData = 1 << 0
	cscFlagCrankData = 1 << 1
)

// CPMEncoder builds Cycling Power Measurement notifications. It keeps the
// last crank event so that every notification carries crank data once
// any has been seen.
type CPMEncoder struct {
	crank *cycling.RotationEvent
}

// Encode returns the 8 byte measurement: flags, power and, once known,
// the crank revolutions and event time in 1/1024 s.
func (e *CPMEncoder) Encode(m cycling.Measurement) []byte {
	if m.Crank != nil {
		crank := *m.Crank
		e.crank = &crank
	}

	buf := make([]byte, cpmLength)
	var flags uint16
	binary.LittleEndian.PutUint16(buf[2:4], uint16(int16(clampInt16(m.Power))))
	if e.crank != nil {
		flags |= cpmFlagCrankData
		binary.LittleEndian.PutUint16(buf[4:6], uint16(e.crank.Revolutions))
		binary.LittleEndian.PutUint16(buf[6:8], cycling.EventTime1024(e.crank.Timestamp))
	}
	binary.LittleEndian.PutUint16(buf[0:2], flags)
	return buf
}

// CSCEncoder builds CSC Measurement notifications.
type CSCEncoder struct {
	crank *cycling.RotationEvent
	wheel *cycling.RotationEvent
}

// Encode returns the measurement, or nil while there is no rotation
// data at all.
func (e *CSCEncoder) Encode(m cycling.Measurement) []byte {
	if m.Crank != nil {
		crank := *m.Crank
		e.crank = &crank
	}
	if m.Wheel != nil {
		wheel := *m.Wheel
		e.wheel = &wheel
	}
	if e.crank == nil && e.wheel == nil {
		return nil
	}

	buf := []byte{0}
	if e.wheel != nil {
		buf[0] |= cscFlagWheelData
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.wheel.Revolutions))
		buf = binary.LittleEndian.AppendUint16(buf, cycling.EventTime1024(e.wheel.Timestamp))
	}
	if e.crank != nil {
		buf[0] |= cscFlagCrankData
		buf = binary.LittleEndian.AppendUint16(buf, uint16(e.crank.Revolutions))
		buf = binary.LittleEndian.AppendUint16(buf, cycling.EventTime1024(e.crank.Timestamp))
	}
	return buf
}

func clampInt16(v int32) int32 {
	switch {
	case v > 0x7fff:
		return 0x7fff
	case v < -0x8000:
		return -0x8000
	default:
		return v
	}
}
