package ant

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUSBStick_ReleaseClearsClaim(t *testing.T) {
	s := NewUSBStick(log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	s.out = &gousb.OutEndpoint{}
	s.cancel = cancel

	s.mu.Lock()
	err := s.releaseLocked()
	s.mu.Unlock()

	require.NoError(t, err)
	assert.Error(t, ctx.Err(), "reader stopped")
	assert.Nil(t, s.out)
	assert.Nil(t, s.cancel)
	assert.EqualError(t, s.Write(ResetSystem()), "AntStick: not open")
}

func TestUSBStick_CloseUnopened(t *testing.T) {
	s := NewUSBStick(log.New(io.Discard, "", 0))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
