package bt

import (
	"tinygo.org/x/bluetooth"
)

// Filter selects advertisements during a scan.
type Filter func(Advertisement) bool

// NameFilter matches the advertised local name exactly.
func NameFilter(name string) Filter {
	return func(a Advertisement) bool {
		return a.LocalName != "" && a.LocalName == name
	}
}

// NamesFilter matches any of the given local names.
func NamesFilter(names ...string) Filter {
	return func(a Advertisement) bool {
		for _, n := range names {
			if a.LocalName != "" && a.LocalName == n {
				return true
			}
		}
		return false
	}
}

// AddressFilter matches a hardware address in any accepted notation.
// An invalid address never matches.
func AddressFilter(address string) Filter {
	want, err := NormalizeMAC(address)
	return func(a Advertisement) bool {
		if err != nil || a.Address == "" {
			return false
		}
		got, gerr := NormalizeMAC(a.Address)
		return gerr == nil && got == want
	}
}

// ServiceFilter matches advertisements listing uuid.
func ServiceFilter(uuid bluetooth.UUID) Filter {
	return func(a Advertisement) bool {
		return a.HasServiceUUID(uuid)
	}
}
