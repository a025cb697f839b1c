package bt

import (
	"tinygo.org/x/bluetooth"
)

// AdapterConfig names the controllers used for talking to the bike and
// for serving training apps. They may be the same.
type AdapterConfig struct {
	Bike   string
	Server string
}

// Shared reports whether both roles use one controller.
func (c AdapterConfig) Shared() bool {
	return c.Bike == c.Server
}

// Adapters holds the opened controllers of an AdapterConfig.
type Adapters struct {
	Bike   *bluetooth.Adapter
	Server *bluetooth.Adapter
	Shared bool
}

// Open opens the adapters of c, returning a single adapter for both roles
// when they share a controller.
func (c AdapterConfig) Open() Adapters {
	bike := OpenAdapter(c.Bike)
	if c.Shared() {
		return Adapters{Bike: bike, Server: bike, Shared: true}
	}
	return Adapters{Bike: bike, Server: OpenAdapter(c.Server)}
}
