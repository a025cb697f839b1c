package bt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMAC_Accepts(t *testing.T) {
	for _, in := range []string{
		"aA:bB:cC:01:02:03",
		"aA-bB-cC-01-02-03",
		"aAbBcC010203",
	} {
		out, err := NormalizeMAC(in)
		require.NoError(t, err, in)
		assert.Equal(t, "aa:bb:cc:01:02:03", out)
	}
}

func TestNormalizeMAC_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"gg:bb:cc:01:02:03",
		"aa!bb!cc!01!02!03",
		"aa:bb:cc:01:02",
		"aa:bb:cc:01:02:03:04",
		"aabbcc0102",
		"aabbcc01020304",
	} {
		_, err := NormalizeMAC(in)
		require.Error(t, err, in)
		assert.Contains(t, err.Error(), "is not a valid MAC address")
	}
}

func TestMACFromBytes(t *testing.T) {
	out, err := MACFromBytes([]byte{0xaa, 0xbb, 0xcc, 0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:01:02:03", out)

	_, err = MACFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}
