package bt

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

// Advertisement is the part of a scan result the bike clients look at.
type Advertisement struct {
	Address          string // normalized, see NormalizeMAC
	LocalName        string
	RSSI             int16
	ServiceUUIDs     []bluetooth.UUID
	ManufacturerData []bluetooth.ManufacturerDataElement

	raw bluetooth.Address
}

func advertisementFrom(r bluetooth.ScanResult) Advertisement {
	addr := r.Address.String()
	if norm, err := NormalizeMAC(addr); err == nil {
		addr = norm
	} else {
		// macOS reports UUIDs instead of hardware addresses
		addr = strings.ToLower(addr)
	}
	return Advertisement{
		Address:          addr,
		LocalName:        r.LocalName(),
		RSSI:             r.RSSI,
		ServiceUUIDs:     r.ServiceUUIDs(),
		ManufacturerData: r.ManufacturerData(),
		raw:              r.Address,
	}
}

// HasServiceUUID reports whether uuid is advertised.
func (a Advertisement) HasServiceUUID(uuid bluetooth.UUID) bool {
	for _, u := range a.ServiceUUIDs {
		if u == uuid {
			return true
		}
	}
	return false
}

// ManufacturerPayload returns the manufacturer data of companyID with the
// little-endian company id in front, i.e. the bytes as sent over the air.
func (a Advertisement) ManufacturerPayload(companyID uint16) ([]byte, bool) {
	for _, m := range a.ManufacturerData {
		if m.CompanyID == companyID {
			buf := make([]byte, 0, len(m.Data)+2)
			buf = append(buf, byte(companyID), byte(companyID>>8))
			return append(buf, m.Data...), true
		}
	}
	return nil, false
}

func (a Advertisement) String() string {
	name := a.LocalName
	if name == "" {
		name = "Unknown"
	}
	return name + " (" + a.Address + ")"
}
