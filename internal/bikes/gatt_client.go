package bikes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/dropout"
)

// BLEOptions select which bike to connect to. An address, when given,
// wins over the name.
type BLEOptions struct {
	Name    string
	Address string
}

func (o BLEOptions) filter(fallback bt.Filter) bt.Filter {
	if o.Address != "" {
		return bt.AddressFilter(o.Address)
	}
	if o.Name != "" {
		return bt.NameFilter(o.Name)
	}
	return fallback
}

// gattProfile describes a bike that streams stats as GATT notifications.
type gattProfile struct {
	kind         Kind
	filter       bt.Filter
	serviceUUID  string
	notifyUUID   string
	writeUUID    string
	startCommand []byte
	rules        *dropout.Rules
}

// GATTClient connects to a bike over GATT and decodes its notifications.
type GATTClient struct {
	clientBase
	profile gattProfile
	scanner Scanner

	linkMu   sync.Mutex
	link     Link
	unlisten func()
}

var _ Client = (*GATTClient)(nil)

// NewFlywheel creates a client for a Flywheel bike. Flywheel bikes drop
// power samples only, so only the power rule of the dropout filter is on.
func NewFlywheel(deps Deps, opts BLEOptions) *GATTClient {
	if opts.Name == "" && opts.Address == "" {
		opts.Name = FlywheelLocalName
	}
	return newGATTClient(deps, gattProfile{
		kind:        KindFlywheel,
		filter:      opts.filter(nil),
		serviceUUID: FlywheelServiceUUID,
		notifyUUID:  FlywheelTxCharUUID,
		writeUUID:   FlywheelRxCharUUID,
		rules:       &dropout.Rules{Power: true},
	}, DecoderFunc(ParseFlywheel))
}

// NewIC4 creates a client for a Schwinn IC4 bike.
func NewIC4(deps Deps, opts BLEOptions) *GATTClient {
	return newGATTClient(deps, gattProfile{
		kind:        KindIC4,
		filter:      opts.filter(bt.NameFilter(IC4LocalName)),
		serviceUUID: IC4ServiceUUID,
		notifyUUID:  IC4IndoorBikeDataUUID,
		rules:       &dropout.Both,
	}, DecoderFunc(ParseIC4))
}

// NewEchelon creates a client for an Echelon bike. Streaming starts once
// the start command has been written to the bike.
func NewEchelon(deps Deps, opts BLEOptions) *GATTClient {
	return newGATTClient(deps, gattProfile{
		kind:         KindEchelon,
		filter:       opts.filter(bt.ServiceFilter(mustParseUUID(EchelonAdvertisedUUID))),
		serviceUUID:  EchelonServiceUUID,
		notifyUUID:   EchelonTxCharUUID,
		writeUUID:    EchelonRxCharUUID,
		startCommand: EchelonStartStreaming,
		rules:        &dropout.Both,
	}, &EchelonDecoder{})
}

func newGATTClient(deps Deps, profile gattProfile, decoder Decoder) *GATTClient {
	if deps.Scanner == nil {
		panic("bikes: scanner cannot be nil")
	}
	c := &GATTClient{profile: profile, scanner: deps.Scanner}
	c.init(profile.kind, deps, decoder, profile.rules)
	return c
}

// Connect scans for the bike, connects and subscribes to its stats.
func (c *GATTClient) Connect(ctx context.Context) error {
	if err := c.beginConnect(); err != nil {
		return err
	}
	c.logger.Printf("%s: scanning", c.kind)
	adv, err := c.scanner.Scan(ctx, c.profile.filter)
	if err != nil {
		c.connectFailed()
		return fmt.Errorf("%s: scan: %w", c.kind, err)
	}

	link, err := c.scanner.Connect(adv)
	if err != nil {
		c.connectFailed()
		return fmt.Errorf("%s: %w", c.kind, err)
	}
	if err := c.subscribe(link); err != nil {
		if derr := link.Disconnect(); derr != nil {
			c.logger.Printf("%s: disconnect after failed setup: %v", c.kind, derr)
		}
		c.connectFailed()
		return fmt.Errorf("%s: %w", c.kind, err)
	}

	c.markConnected(link.Address())
	c.logger.Printf("%s: connected to %s", c.kind, link.Address())
	return nil
}

func (c *GATTClient) subscribe(link Link) error {
	unlisten := link.OnDisconnect(func() {
		c.lost(ErrTransportDisconnect)
	})
	if err := link.EnableNotifications(c.profile.serviceUUID, c.profile.notifyUUID, c.receiveAsync); err != nil {
		// some bikes only start notifying once the CCCD is written directly
		c.logger.Printf("%s: subscribe failed, writing CCCD: %v", c.kind, err)
		derr := link.WriteDescriptor(c.profile.serviceUUID, c.profile.notifyUUID, bt.CCCDUUID, bt.CCCDEnableNotifications)
		if derr != nil {
			unlisten()
			return fmt.Errorf("subscribe: %w", errors.Join(err, derr))
		}
	}
	if len(c.profile.startCommand) > 0 {
		if err := link.WriteWithoutResponse(c.profile.serviceUUID, c.profile.writeUUID, c.profile.startCommand); err != nil {
			unlisten()
			return fmt.Errorf("start streaming: %w", err)
		}
	}

	c.linkMu.Lock()
	c.link = link
	c.unlisten = unlisten
	c.linkMu.Unlock()
	return nil
}

// Write sends data to the bike's receive characteristic.
func (c *GATTClient) Write(data []byte) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	if c.profile.writeUUID == "" {
		return fmt.Errorf("%s: bike has no writable characteristic", c.kind)
	}
	c.linkMu.Lock()
	link := c.link
	c.linkMu.Unlock()
	return link.WriteWithoutResponse(c.profile.serviceUUID, c.profile.writeUUID, data)
}

// Disconnect closes the link. No disconnect event is emitted.
func (c *GATTClient) Disconnect() error {
	if !c.markDisconnected() {
		return nil
	}
	c.linkMu.Lock()
	link, unlisten := c.link, c.unlisten
	c.link, c.unlisten = nil, nil
	c.linkMu.Unlock()
	if link == nil {
		return nil
	}
	unlisten()
	c.logger.Printf("%s: disconnecting from %s", c.kind, link.Address())
	return link.Disconnect()
}

func mustParseUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("bikes: bad uuid %q: %v", s, err))
	}
	return uuid
}
