//go:build linux

package bt

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus          = "org.bluez"
	bluezGattService  = "org.bluez.GattService1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	bluezGattDesc     = "org.bluez.GattDescriptor1"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// writeDescriptor goes to BlueZ directly: the adapter library has no
// descriptor access on Linux.
func writeDescriptor(address, serviceUUID, charUUID, descriptorUUID string, data []byte) error {
	// shared connection, never closed
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}

	var objects managedObjects
	call := conn.Object(bluezBus, "/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return fmt.Errorf("parse managed objects: %w", err)
	}

	path, ok := findDescriptor(objects, address, serviceUUID, charUUID, descriptorUUID)
	if !ok {
		return fmt.Errorf("descriptor %s not found", descriptorUUID)
	}
	call = conn.Object(bluezBus, path).Call(bluezGattDesc+".WriteValue", 0, data, map[string]dbus.Variant{})
	return call.Err
}

// findDescriptor looks up the descriptor object below the device with the
// given address. UUIDs are compared case-insensitively.
func findDescriptor(objects managedObjects, address, serviceUUID, charUUID, descriptorUUID string) (dbus.ObjectPath, bool) {
	device := "/dev_" + strings.ToUpper(strings.NewReplacer(":", "_", "-", "_").Replace(address)) + "/"
	for path, ifaces := range objects {
		desc, ok := ifaces[bluezGattDesc]
		if !ok || !strings.Contains(string(path), device) {
			continue
		}
		if !uuidIs(desc, descriptorUUID) {
			continue
		}
		charPath, ok := desc["Characteristic"].Value().(dbus.ObjectPath)
		if !ok || !uuidIs(objects[charPath][bluezGattChar], charUUID) {
			continue
		}
		svcPath, ok := objects[charPath][bluezGattChar]["Service"].Value().(dbus.ObjectPath)
		if !ok || !uuidIs(objects[svcPath][bluezGattService], serviceUUID) {
			continue
		}
		return path, true
	}
	return "", false
}

func uuidIs(props map[string]dbus.Variant, uuid string) bool {
	v, ok := props["UUID"]
	if !ok {
		return false
	}
	s, ok := v.Value().(string)
	return ok && strings.EqualFold(s, uuid)
}
