// Package ant broadcasts bike power and speed/cadence over ANT+.
package ant

import (
	"encoding/binary"
	"fmt"

	"github.com/half2me/antgo/message"
)

// Message ids used by the server.
const (
	MsgChannelEvent    byte = 0x40
	MsgUnassignChannel byte = 0x41
	MsgAssignChannel   byte = 0x42
	MsgChannelPeriod   byte = 0x43
	MsgRFFrequency     byte = 0x45
	MsgNetworkKey      byte = 0x46
	MsgResetSystem     byte = 0x4a
	MsgOpenChannel     byte = 0x4b
	MsgCloseChannel    byte = 0x4c
	MsgBroadcastData   byte = 0x4e
	MsgChannelID       byte = 0x51
	MsgStartup         byte = 0x6f
)

// Channel event fields.
const (
	rfEvent         byte = 0x01
	responseNoError byte = 0x00
)

// ChannelTypeTransmit is the bidirectional master channel type.
const ChannelTypeTransmit byte = 0x10

// Sync is the first byte of every message.
var Sync = byte(message.MESSAGE_TX_SYNC)

// Message is one ANT serial message.
type Message struct {
	ID      byte
	Payload []byte
}

// Encode frames m as sync, length, id, payload and the XOR checksum.
func (m Message) Encode() []byte {
	buf := make([]byte, 0, len(m.Payload)+4)
	buf = append(buf, Sync, byte(len(m.Payload)), m.ID)
	buf = append(buf, m.Payload...)
	return append(buf, Checksum(buf))
}

func (m Message) String() string {
	return fmt.Sprintf("ant[%02x % x]", m.ID, m.Payload)
}

// Checksum XORs all bytes of b.
func Checksum(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

// ParseMessages splits buf into complete messages. Bytes before a sync
// byte and messages with a bad checksum are dropped; an incomplete
// trailing message is returned as rest.
func ParseMessages(buf []byte) (msgs []Message, rest []byte) {
	for len(buf) > 0 {
		if buf[0] != Sync {
			buf = buf[1:]
			continue
		}
		if len(buf) < 4 {
			return msgs, buf
		}
		n := int(buf[1])
		total := n + 4
		if len(buf) < total {
			return msgs, buf
		}
		frame := buf[:total]
		if Checksum(frame[:total-1]) == frame[total-1] {
			msgs = append(msgs, Message{ID: frame[2], Payload: append([]byte(nil), frame[3:total-1]...)})
			buf = buf[total:]
		} else {
			buf = buf[1:]
		}
	}
	return msgs, nil
}

// ResetSystem restarts the stick.
func ResetSystem() []byte {
	return []byte(message.SystemResetMessage())
}

// SetANTPlusNetworkKey loads the ANT+ key into network 0.
func SetANTPlusNetworkKey() []byte {
	return []byte(message.SetNetworkKeyMessage(0, []byte(message.ANTPLUS_NETWORK_KEY)))
}

// AssignChannel assigns ch as a master on network 0.
func AssignChannel(ch byte) []byte {
	return []byte(message.AssignChannelMessage(ch, ChannelTypeTransmit))
}

// SetChannelID sets the device number, type and transmission type of ch.
// antgo only builds the wildcard id used by receivers.
func SetChannelID(ch byte, deviceID uint16, deviceType, transmissionType byte) []byte {
	p := []byte{ch, 0, 0, deviceType, transmissionType}
	binary.LittleEndian.PutUint16(p[1:3], deviceID)
	return Message{ID: MsgChannelID, Payload: p}.Encode()
}

// SetRFFrequency tunes ch to mhz, between 2400 and 2524.
func SetRFFrequency(ch byte, mhz uint16) []byte {
	return []byte(message.SetChannelRfFrequencyMessage(ch, mhz))
}

// SetChannelPeriod sets the message period of ch in 1/32768 s.
func SetChannelPeriod(ch byte, period uint16) []byte {
	p := []byte{ch, 0, 0}
	binary.LittleEndian.PutUint16(p[1:3], period)
	return Message{ID: MsgChannelPeriod, Payload: p}.Encode()
}

// OpenChannel opens ch.
func OpenChannel(ch byte) []byte {
	return Message{ID: MsgOpenChannel, Payload: []byte{ch}}.Encode()
}

// CloseChannel closes ch.
func CloseChannel(ch byte) []byte {
	return Message{ID: MsgCloseChannel, Payload: []byte{ch}}.Encode()
}

// UnassignChannel releases ch.
func UnassignChannel(ch byte) []byte {
	return Message{ID: MsgUnassignChannel, Payload: []byte{ch}}.Encode()
}

// BroadcastData sends an 8 byte page on ch.
func BroadcastData(ch byte, page [8]byte) []byte {
	return Message{ID: MsgBroadcastData, Payload: append([]byte{ch}, page[:]...)}.Encode()
}
