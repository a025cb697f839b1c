package ant

import "encoding/binary"

// PowerOnlyPage is the standard power-only page (0x10) of the bike power
// profile. Pedal power is not reported.
func PowerOnlyPage(eventCount, cadence uint8, accumulatedPower, power uint16) [8]byte {
	var p [8]byte
	p[0] = 0x10
	p[1] = eventCount
	p[2] = 0xff
	p[3] = cadence
	binary.LittleEndian.PutUint16(p[4:6], accumulatedPower)
	binary.LittleEndian.PutUint16(p[6:8], power)
	return p
}

// SpeedCadencePage is the combined bike speed and cadence page. Event
// times are in 1/1024 s.
func SpeedCadencePage(crankTime, crankRevs, wheelTime, wheelRevs uint16) [8]byte {
	var p [8]byte
	binary.LittleEndian.PutUint16(p[0:2], crankTime)
	binary.LittleEndian.PutUint16(p[2:4], crankRevs)
	binary.LittleEndian.PutUint16(p[4:6], wheelTime)
	binary.LittleEndian.PutUint16(p[6:8], wheelRevs)
	return p
}

// SpeedPage is page 0 of the speed-only profile.
func SpeedPage(wheelTime, wheelRevs uint16) [8]byte {
	var p [8]byte
	binary.LittleEndian.PutUint16(p[4:6], wheelTime)
	binary.LittleEndian.PutUint16(p[6:8], wheelRevs)
	return p
}
