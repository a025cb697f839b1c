//go:build !linux

package bt

import "errors"

func writeDescriptor(address, serviceUUID, charUUID, descriptorUUID string, data []byte) error {
	return errors.New("descriptor writes need BlueZ")
}
