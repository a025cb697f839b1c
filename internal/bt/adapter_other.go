//go:build !linux

package bt

import (
	"tinygo.org/x/bluetooth"
)

// OpenAdapter returns the default adapter; only BlueZ can address a
// specific controller.
func OpenAdapter(id string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
