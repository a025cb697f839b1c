package bikes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/dropout"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/goutil"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/timer"
)

// KeiserClient follows the advertisements of a Keiser M3. There is no
// GATT link: the bike counts as connected from the first advertisement
// until it stays silent for KeiserBikeTimeout.
type KeiserClient struct {
	clientBase
	scanner    Scanner
	opts       BLEOptions
	keiser     *KeiserDecoder
	bikeTimer  *timer.Timer
	statsTimer *timer.Timer

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

var _ Client = (*KeiserClient)(nil)

// NewKeiser creates a client for a Keiser M3 bike.
func NewKeiser(deps Deps, opts BLEOptions) *KeiserClient {
	if deps.Scanner == nil {
		panic("bikes: scanner cannot be nil")
	}
	if opts.Name == "" && opts.Address == "" {
		opts.Name = KeiserLocalName
	}
	decoder := &KeiserDecoder{}
	c := &KeiserClient{
		scanner:   deps.Scanner,
		opts:      opts,
		keiser:    decoder,
		bikeTimer: timer.New(deps.Loop, KeiserBikeTimeout, false),
	}
	c.init(KindKeiser, deps, decoder, &dropout.Both)
	c.bikeTimer.OnTimeout(func(d time.Duration) {
		c.logger.Printf("%s: no advertisement from %s in %s", c.kind, c.Address(), d)
		c.stopWatching()
		if c.statsTimer != nil {
			c.statsTimer.Cancel()
		}
		c.fail(fmt.Errorf("%s: %w", c.kind, ErrBikeTimeout))
	})
	return c
}

// Connect waits for the first advertisement of the bike and then keeps
// listening to it in the background.
func (c *KeiserClient) Connect(ctx context.Context) error {
	if err := c.beginConnect(); err != nil {
		return err
	}
	c.logger.Printf("%s: scanning", c.kind)
	adv, err := c.scanner.Scan(ctx, c.opts.filter(nil))
	if err != nil {
		c.connectFailed()
		return fmt.Errorf("%s: scan: %w", c.kind, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()

	c.markConnected(adv.Address)
	c.logger.Printf("%s: found bike %s", c.kind, adv.Address)
	c.loop.Post(func() { c.bikeTimer.Reset() })
	c.advertised(adv)

	goutil.SafeGo(c.logger, "keiser-watch", func() {
		err := c.scanner.Watch(watchCtx, bt.AddressFilter(adv.Address), func(a bt.Advertisement) bool {
			c.advertised(a)
			return true
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.lost(fmt.Errorf("%w: %v", ErrTransportDisconnect, err))
		}
	})
	return nil
}

// advertised hands the manufacturer payload to the loop.
func (c *KeiserClient) advertised(adv bt.Advertisement) {
	payload, ok := adv.ManufacturerPayload(KeiserCompanyID)
	if !ok {
		return
	}
	c.loop.Post(func() { c.receiveAdvertisement(payload) })
}

func (c *KeiserClient) receiveAdvertisement(payload []byte) {
	if c.State() != Connected {
		return
	}
	r, err := c.keiser.Decode(payload)
	if err != nil {
		c.debug.Printf("%s: ignoring advertisement %x: %v", c.kind, payload, err)
		return
	}
	c.bikeTimer.Reset()
	if c.statsTimer == nil {
		version, _ := c.keiser.Version()
		c.logger.Printf("%s: firmware %s, stats timeout %s", c.kind, version, version.StatsTimeout())
		c.statsTimer = timer.New(c.loop, version.StatsTimeout(), false)
		c.statsTimer.OnTimeout(func(time.Duration) {
			c.debug.Printf("%s: stats timeout, reporting zero", c.kind)
			c.stats.Emit(cycling.Reading{})
		})
	}
	c.statsTimer.Reset()

	r = c.filter.Apply(r)
	c.debug.Printf("%s: %s", c.kind, r)
	c.stats.Emit(r)
}

func (c *KeiserClient) stopWatching() {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Disconnect stops listening to the bike. Must be called on the loop.
func (c *KeiserClient) Disconnect() error {
	if !c.markDisconnected() {
		return nil
	}
	c.stopWatching()
	c.bikeTimer.Cancel()
	if c.statsTimer != nil {
		c.statsTimer.Cancel()
	}
	return nil
}
