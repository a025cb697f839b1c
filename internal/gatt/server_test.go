package gatt

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

type fakeNotifier struct {
	values [][]byte
	err    error
}

func (f *fakeNotifier) Write(p []byte) (int, error) {
	f.values = append(f.values, append([]byte(nil), p...))
	return len(p), f.err
}

func newTestServer() (*Server, *fakeNotifier, *fakeNotifier) {
	s := newServer("", log.New(io.Discard, "", 0), nil)
	cpm, csc := &fakeNotifier{}, &fakeNotifier{}
	s.cpm, s.csc = cpm, csc
	return s, cpm, csc
}

func TestNewServer_NilArgs(t *testing.T) {
	assert.Panics(t, func() { NewServer(nil, "x", log.New(io.Discard, "", 0), nil) })
	assert.Panics(t, func() { newServer("x", nil, nil) })
}

func TestServer_DefaultName(t *testing.T) {
	s, _, _ := newTestServer()
	assert.Equal(t, DefaultName, s.Name())
}

func TestServer_UpdateMeasurement(t *testing.T) {
	s, cpm, csc := newTestServer()

	s.UpdateMeasurement(cycling.Measurement{Power: 150, Cadence: 80})
	require.Len(t, cpm.values, 1)
	assert.Empty(t, csc.values, "no CSC notification without rotation data")

	s.UpdateMeasurement(cycling.Measurement{Power: 150, Cadence: 80, Crank: &cycling.RotationEvent{Revolutions: 1, Timestamp: 750}})
	require.Len(t, cpm.values, 2)
	require.Len(t, csc.values, 1)

	m, err := parseCPM(cpm.values[1])
	require.NoError(t, err)
	assert.True(t, m.HasCrank)
	assert.Equal(t, uint16(1), m.CrankRevolutions)
}

func TestServer_NotifyErrorsAreNotFatal(t *testing.T) {
	s, cpm, csc := newTestServer()
	cpm.err = errors.New("not subscribed")

	s.UpdateMeasurement(cycling.Measurement{Power: 100, Crank: &cycling.RotationEvent{Revolutions: 1}})
	assert.Len(t, csc.values, 1)
}

func TestServer_StoppedServerIgnoresUpdates(t *testing.T) {
	s, cpm, _ := newTestServer()
	require.NoError(t, s.Stop())

	s.UpdateMeasurement(cycling.Measurement{Power: 100})
	assert.Empty(t, cpm.values)
}

func TestServer_HandleConnection(t *testing.T) {
	s, _, _ := newTestServer()

	s.HandleConnection("aa:bb:cc:dd:ee:01", true)
	s.HandleConnection("aa:bb:cc:dd:ee:02", true)
	assert.Equal(t, 2, s.Centrals())

	s.HandleConnection("aa:bb:cc:dd:ee:01", false)
	assert.Equal(t, 1, s.Centrals())
}
