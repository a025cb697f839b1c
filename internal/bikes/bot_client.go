package bikes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/goutil"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/timer"
)

// BotInterval is how often the bot reports its values.
const BotInterval = 1 * time.Second

const botMaxMessage = 2048

// BotOptions configure the synthetic bike.
type BotOptions struct {
	Initial cycling.Reading
	Host    string
	Port    int
}

// BotClient pretends to be a bike riding at fixed values. The values can
// be changed with JSON messages on a UDP socket or with Set.
type BotClient struct {
	clientBase
	opts  BotOptions
	bot   *BotDecoder
	ticks *timer.Timer

	connMu sync.Mutex
	conn   net.PacketConn
}

var _ Client = (*BotClient)(nil)

// NewBot creates the synthetic bike.
func NewBot(deps Deps, opts BotOptions) *BotClient {
	bot := NewBotDecoder(opts.Initial)
	c := &BotClient{
		opts:  opts,
		bot:   bot,
		ticks: timer.New(deps.Loop, BotInterval, true),
	}
	c.init(KindBot, deps, bot, nil)
	c.ticks.OnTimeout(func(time.Duration) {
		c.stats.Emit(c.bot.Current())
	})
	return c
}

// Connect starts listening for control messages.
func (c *BotClient) Connect(ctx context.Context) error {
	if err := c.beginConnect(); err != nil {
		return err
	}
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		c.connectFailed()
		return fmt.Errorf("%s: listen %s: %w", c.kind, addr, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.markConnected(BotAddress)
	c.logger.Printf("%s: listening on udp %s", c.kind, conn.LocalAddr())
	goutil.SafeGo(c.logger, "bot-udp", func() { c.readMessages(conn) })
	c.loop.Post(func() {
		if c.State() == Connected {
			c.ticks.Reset()
		}
	})
	return nil
}

// LocalAddr returns the bound control address, nil before Connect.
func (c *BotClient) LocalAddr() net.Addr {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *BotClient) readMessages(conn net.PacketConn) {
	buf := make([]byte, botMaxMessage)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.lost(fmt.Errorf("%w: %v", ErrTransportDisconnect, err))
			return
		}
		msg := append([]byte(nil), buf[:n]...)
		c.loop.Post(func() {
			r, err := c.bot.Decode(msg)
			if err != nil {
				c.logger.Printf("%s: bad message from %s: %v", c.kind, from, err)
				return
			}
			c.logger.Printf("%s: values set to %s", c.kind, r)
		})
	}
}

// Set changes the values from any goroutine.
func (c *BotClient) Set(u BotUpdate) {
	c.loop.Post(func() {
		r := c.bot.Apply(u)
		c.logger.Printf("%s: values set to %s", c.kind, r)
	})
}

// Disconnect stops reporting and closes the socket.
func (c *BotClient) Disconnect() error {
	if !c.markDisconnected() {
		return nil
	}
	c.ticks.Cancel()
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
