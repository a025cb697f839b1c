package bt

// CCCDUUID is the Client Characteristic Configuration Descriptor.
const CCCDUUID = "00002902-0000-1000-8000-00805f9b34fb"

// CCCDEnableNotifications is the CCCD value that turns notifications on.
var CCCDEnableNotifications = []byte{0x01, 0x00}
