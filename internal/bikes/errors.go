package bikes

import "errors"

var (
	// ErrUnrecognizedFormat marks a packet that does not carry stats.
	// It is expected protocol noise and is never fatal.
	ErrUnrecognizedFormat = errors.New("unrecognized packet format")

	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected is returned by Write while disconnected.
	ErrNotConnected = errors.New("not connected")

	// ErrBikeTimeout is the disconnect reason of a beacon bike that has
	// not been heard from for too long.
	ErrBikeTimeout = errors.New("bike timeout")

	// ErrTransportDisconnect is the disconnect reason when the BLE link or
	// serial port goes away.
	ErrTransportDisconnect = errors.New("transport disconnected")
)
