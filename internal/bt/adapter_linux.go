//go:build linux

package bt

import (
	"tinygo.org/x/bluetooth"
)

// OpenAdapter returns the BlueZ adapter with the given id (e.g. "hci0").
// An empty id selects the system default.
func OpenAdapter(id string) *bluetooth.Adapter {
	if id == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(id)
}
