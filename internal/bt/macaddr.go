package bt

import (
	"fmt"
	"regexp"
	"strings"
)

var macPattern = regexp.MustCompile(`(?i)^([\da-f]{2}[:-]?){5}[\da-f]{2}$`)

// NormalizeMAC returns mac as lower-case, colon separated hex. Colons,
// hyphens or no separator at all are accepted.
func NormalizeMAC(mac string) (string, error) {
	if !macPattern.MatchString(mac) {
		return "", fmt.Errorf("%q is not a valid MAC address", mac)
	}
	hex := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(mac))
	if len(hex) != 12 {
		return "", fmt.Errorf("%q is not a valid MAC address", mac)
	}
	parts := make([]string, 6)
	for i := range parts {
		parts[i] = hex[i*2 : i*2+2]
	}
	return strings.Join(parts, ":"), nil
}

// MACFromBytes formats a 6-byte hardware address.
func MACFromBytes(b []byte) (string, error) {
	if len(b) != 6 {
		return "", fmt.Errorf("%x is not a valid MAC address", b)
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5]), nil
}
