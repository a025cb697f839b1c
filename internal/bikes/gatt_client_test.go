package bikes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

const flywheelPacket = "ff1f0c0122000000000000005a00000000000000000000000000000a000000016155"

func TestGATTClient_Flywheel_ConnectAndStats(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: FlywheelLocalName})
	deps := newTestDeps(s)
	c := NewFlywheel(deps, BLEOptions{})
	rec := record(c)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", c.Address())

	s.link.send(mustHex(t, flywheelPacket))
	assert.Empty(t, rec.stats, "stats are delivered on the loop")
	deps.Loop.Advance(0)
	assert.Equal(t, []cycling.Reading{{Power: 290, Cadence: 90}}, rec.stats)
}

func TestGATTClient_Flywheel_AddressFilterWins(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: "renamed"})
	c := NewFlywheel(newTestDeps(s), BLEOptions{Name: FlywheelLocalName, Address: "AA-BB-CC-DD-EE-FF"})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())
}

func TestGATTClient_IgnoresUnrecognizedPackets(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: IC4LocalName})
	deps := newTestDeps(s)
	c := NewIC4(deps, BLEOptions{})
	rec := record(c)
	require.NoError(t, c.Connect(context.Background()))

	s.link.send(mustHex(t, "4502da020201220100"))
	s.link.send(mustHex(t, "4402da020201220100"))
	deps.Loop.Advance(0)

	require.Len(t, rec.stats, 1)
	assert.Equal(t, int32(290), rec.stats[0].Power)
	assert.Empty(t, rec.disconnects)
}

func TestGATTClient_DropoutFilter(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: FlywheelLocalName})
	deps := newTestDeps(s)
	c := NewFlywheel(deps, BLEOptions{})
	rec := record(c)
	require.NoError(t, c.Connect(context.Background()))

	zeroPower := mustHex(t, flywheelPacket)
	zeroPower[3], zeroPower[4] = 0, 0
	s.link.send(mustHex(t, flywheelPacket))
	s.link.send(zeroPower)
	deps.Loop.Advance(0)

	require.Len(t, rec.stats, 2)
	assert.Equal(t, int32(290), rec.stats[1].Power)
}

func TestGATTClient_Echelon_WritesStartCommand(t *testing.T) {
	uuid, err := bluetooth.ParseUUID(EchelonAdvertisedUUID)
	require.NoError(t, err)
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", ServiceUUIDs: []bluetooth.UUID{uuid}})
	deps := newTestDeps(s)
	c := NewEchelon(deps, BLEOptions{})
	rec := record(c)

	require.NoError(t, c.Connect(context.Background()))
	require.Len(t, s.link.writes, 1)
	assert.Equal(t, EchelonServiceUUID, s.link.writes[0].service)
	assert.Equal(t, EchelonRxCharUUID, s.link.writes[0].char)
	assert.Equal(t, EchelonStartStreaming, s.link.writes[0].data)

	s.link.send(mustHex(t, "f0d20111d4"))
	s.link.send(mustHex(t, "f0d109001300000011003e002c"))
	deps.Loop.Advance(0)
	require.Len(t, rec.stats, 2)
	assert.Equal(t, uint32(62), rec.last(t).Cadence)
	assert.Equal(t, EchelonPower(62, 17), rec.last(t).Power)
}

func TestGATTClient_ConnectTwice(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: FlywheelLocalName})
	c := NewFlywheel(newTestDeps(s), BLEOptions{})
	require.NoError(t, c.Connect(context.Background()))

	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestGATTClient_WriteWhileDisconnected(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: FlywheelLocalName})
	c := NewFlywheel(newTestDeps(s), BLEOptions{})

	assert.ErrorIs(t, c.Write([]byte{1}), ErrNotConnected)
}

func TestGATTClient_ScanFailure(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{})
	s.scanErr = context.DeadlineExceeded
	c := NewFlywheel(newTestDeps(s), BLEOptions{})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Disconnected, c.State())
}

func TestGATTClient_SubscribeFailureDisconnects(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: FlywheelLocalName})
	s.link.subscribeErr = errors.New("no such characteristic")
	s.link.descriptorErr = errors.New("descriptor not found")
	c := NewFlywheel(newTestDeps(s), BLEOptions{})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such characteristic")
	assert.Contains(t, err.Error(), "descriptor not found")
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, 1, s.link.disconnects)
}

func TestGATTClient_SubscribeFallsBackToCCCDWrite(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: IC4LocalName})
	s.link.subscribeErr = errors.New("notify not permitted")
	deps := newTestDeps(s)
	c := NewIC4(deps, BLEOptions{})
	rec := record(c)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())
	require.Len(t, s.link.writes, 1)
	assert.Equal(t, written{IC4ServiceUUID, IC4IndoorBikeDataUUID, bt.CCCDUUID, []byte{0x01, 0x00}}, s.link.writes[0])

	s.link.send(mustHex(t, "4402da020201220100"))
	deps.Loop.Advance(0)
	require.Len(t, rec.stats, 1)
	assert.Equal(t, int32(290), rec.stats[0].Power)
}

func TestGATTClient_TransportDisconnect(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: FlywheelLocalName})
	deps := newTestDeps(s)
	c := NewFlywheel(deps, BLEOptions{})
	rec := record(c)
	require.NoError(t, c.Connect(context.Background()))

	s.link.dropped.Emit(struct{}{})
	deps.Loop.Advance(0)

	require.Len(t, rec.disconnects, 1)
	assert.ErrorIs(t, rec.disconnects[0], ErrTransportDisconnect)
	assert.Equal(t, Disconnected, c.State())
}

func TestGATTClient_DisconnectIsSilent(t *testing.T) {
	s := newFakeScanner(bt.Advertisement{Address: "aa:bb:cc:dd:ee:ff", LocalName: FlywheelLocalName})
	deps := newTestDeps(s)
	c := NewFlywheel(deps, BLEOptions{})
	rec := record(c)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Disconnect())
	s.link.dropped.Emit(struct{}{})
	deps.Loop.Advance(0)

	assert.Empty(t, rec.disconnects)
	assert.Equal(t, 1, s.link.disconnects)
	assert.NoError(t, c.Disconnect())
}
