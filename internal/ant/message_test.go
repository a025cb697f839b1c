package ant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Encode(t *testing.T) {
	assert.Equal(t, []byte{0xa4, 0x01, 0x4b, 0x01, 0xef}, OpenChannel(1))

	assign := AssignChannel(1)
	require.Len(t, assign, 7)
	assert.Equal(t, []byte{0xa4, 0x03, 0x42, 0x01, 0x10, 0x00}, assign[:6])
	assert.Equal(t, Checksum(assign[:6]), assign[6])
}

func TestSetChannelID(t *testing.T) {
	msg := SetChannelID(1, 11234, PowerDeviceType, PowerTransmissionType)
	assert.Equal(t, []byte{0xa4, 0x05, 0x51, 0x01, 0xe2, 0x2b, 0x0b, 0x01}, msg[:8])
	assert.Equal(t, Checksum(msg[:8]), msg[8])
}

func TestSetChannelPeriodAndFrequency(t *testing.T) {
	msg := SetChannelPeriod(2, 8086)
	assert.Equal(t, []byte{0xa4, 0x03, 0x43, 0x02, 0x96, 0x1f}, msg[:6])

	msg = SetRFFrequency(1, RFFrequency)
	require.Len(t, msg, 6)
	assert.Equal(t, []byte{0xa4, 0x02, 0x45, 0x01, 57}, msg[:5])
	assert.Equal(t, Checksum(msg[:5]), msg[5])
}

func TestResetAndNetworkKey(t *testing.T) {
	reset := ResetSystem()
	require.GreaterOrEqual(t, len(reset), 4)
	assert.Equal(t, Sync, reset[0])
	assert.Equal(t, MsgResetSystem, reset[2])

	key := SetANTPlusNetworkKey()
	require.Len(t, key, 4+9)
	assert.Equal(t, MsgNetworkKey, key[2])
	assert.Equal(t, byte(0), key[3], "network 0")
}

func TestParseMessages(t *testing.T) {
	stream := append([]byte{0x00, 0x55}, OpenChannel(1)...)
	stream = append(stream, BroadcastData(2, [8]byte{1, 2, 3, 4, 5, 6, 7, 8})...)
	stream = append(stream, 0xa4, 0x01, 0x6f)

	msgs, rest := ParseMessages(stream)
	require.Len(t, msgs, 2)
	assert.Equal(t, Message{ID: MsgOpenChannel, Payload: []byte{1}}, msgs[0])
	assert.Equal(t, MsgBroadcastData, msgs[1].ID)
	assert.Equal(t, []byte{2, 1, 2, 3, 4, 5, 6, 7, 8}, msgs[1].Payload)
	assert.Equal(t, []byte{0xa4, 0x01, 0x6f}, rest)

	msgs, rest = ParseMessages(append(rest, 0x20, Checksum([]byte{0xa4, 0x01, 0x6f, 0x20})))
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgStartup, msgs[0].ID)
	assert.Empty(t, rest)
}

func TestParseMessages_BadChecksum(t *testing.T) {
	bad := OpenChannel(1)
	bad[len(bad)-1] ^= 0xff
	msgs, rest := ParseMessages(append(bad, CloseChannel(1)...))
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgCloseChannel, msgs[0].ID)
	assert.Empty(t, rest)
}
