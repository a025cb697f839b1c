package bikes

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu  sync.Mutex
	out bytes.Buffer
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) Close() error {
	return p.r.Close()
}

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func newTestPeloton(t *testing.T, trigger PelotonTrigger) (*PelotonClient, *fakePort, Deps) {
	port := newFakePort()
	deps := newTestDeps(nil)
	c := NewPeloton(deps, PelotonOptions{
		Path:    "/dev/ttyUSB0",
		Trigger: trigger,
		Open: func(path string) (io.ReadWriteCloser, error) {
			assert.Equal(t, "/dev/ttyUSB0", path)
			return port, nil
		},
	})
	return c, port, deps
}

func TestParsePelotonTrigger(t *testing.T) {
	tr, err := ParsePelotonTrigger("Poll")
	require.NoError(t, err)
	assert.Equal(t, PelotonTriggerPoll, tr)

	_, err = ParsePelotonTrigger("sometimes")
	assert.Error(t, err)
}

func TestPelotonClient_ReadsFrames(t *testing.T) {
	c, port, deps := newTestPeloton(t, PelotonTriggerEvent)
	rec := record(c)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	assert.Equal(t, "/dev/ttyUSB0", c.Address())

	go port.w.Write(mustHex(t, "f6f14103323930f6f14405363333323038f6"))

	require.Eventually(t, func() bool {
		deps.Loop.Advance(0)
		return len(rec.stats) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint32(92), rec.stats[1].Cadence)
	assert.Equal(t, int32(234), rec.stats[1].Power)
	assert.Equal(t, 22.52, rec.stats[1].Speed)
}

func TestPelotonClient_PollTrigger(t *testing.T) {
	c, port, deps := newTestPeloton(t, PelotonTriggerPoll)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	deps.Loop.Advance(0)
	assert.Empty(t, port.written())

	deps.Loop.Advance(pelotonPollInterval)
	assert.Equal(t, PelotonRequestCadence, port.written())

	deps.Loop.Advance(pelotonPowerDelay)
	assert.Equal(t, append(append([]byte(nil), PelotonRequestCadence...), PelotonRequestPower...), port.written())
}

func TestPelotonClient_PortClosedDisconnects(t *testing.T) {
	c, port, deps := newTestPeloton(t, PelotonTriggerEvent)
	rec := record(c)
	require.NoError(t, c.Connect(context.Background()))

	port.w.CloseWithError(errors.New("unplugged"))

	require.Eventually(t, func() bool {
		deps.Loop.Advance(0)
		return len(rec.disconnects) == 1
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.disconnects[0], ErrTransportDisconnect)
	assert.Equal(t, Disconnected, c.State())
}

func TestPelotonClient_OpenFailure(t *testing.T) {
	deps := newTestDeps(nil)
	c := NewPeloton(deps, PelotonOptions{
		Path: "/dev/missing",
		Open: func(string) (io.ReadWriteCloser, error) { return nil, errors.New("no such file") },
	})

	assert.Error(t, c.Connect(context.Background()))
	assert.Equal(t, Disconnected, c.State())
	assert.ErrorIs(t, c.Write(PelotonRequestPower), ErrNotConnected)
}
