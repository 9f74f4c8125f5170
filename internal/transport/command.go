package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"kitchensync/internal/platform/metrics"
)

// CommandHandler processes one decoded control message together with the
// sender's address. Handlers must be idempotent: the transport may deliver a
// command zero, one, or several times.
type CommandHandler func(msg Message, from *net.UDPAddr)

// CommandConfig configures one side of the control channel.
type CommandConfig struct {
	// Port is the local control port to bind.
	Port int
	// Target is the broadcast destination for outgoing messages,
	// e.g. "255.255.255.255:5006". Collaborators broadcast rather than
	// address the leader because the leader's address may not be known.
	Target string
}

// CommandChannel is the bidirectional control-message endpoint used by both
// roles. Messages are dispatched by kind to registered handlers; kinds with
// no handler are ignored, not errored.
type CommandChannel struct {
	cfg     CommandConfig
	log     *slog.Logger
	metrics *metrics.Metrics

	handlers map[Kind]CommandHandler

	mu      sync.Mutex
	conn    *net.UDPConn
	target  *net.UDPAddr
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewCommandChannel returns a stopped control channel. metrics may be nil.
func NewCommandChannel(cfg CommandConfig, log *slog.Logger, m *metrics.Metrics) *CommandChannel {
	return &CommandChannel{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		handlers: make(map[Kind]CommandHandler),
	}
}

// Handle registers the handler for a message kind. Must be called before
// Start; later registrations race with the listen loop.
func (c *CommandChannel) Handle(kind Kind, h CommandHandler) {
	c.handlers[kind] = h
}

// Start binds the control port and begins dispatching inbound messages.
// A bind failure is returned and leaves the channel stopped.
func (c *CommandChannel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	target, err := net.ResolveUDPAddr("udp4", c.cfg.Target)
	if err != nil {
		return fmt.Errorf("resolve control target %s: %w", c.cfg.Target, err)
	}
	conn, err := listenBroadcastUDP(c.cfg.Port)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.target = target
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.loop(ctx, conn)

	c.log.Info("control channel started", slog.Int("port", conn.LocalAddr().(*net.UDPAddr).Port))
	return nil
}

// Stop signals the loop, waits for it to exit, and releases the socket.
func (c *CommandChannel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	conn.Close()
	c.log.Info("control channel stopped")
}

// LocalPort returns the bound port, useful when constructed with port 0.
func (c *CommandChannel) LocalPort() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return c.cfg.Port
	}
	return c.conn.LocalAddr().(*net.UDPAddr).Port
}

// Broadcast sends a message to the configured broadcast target. There is no
// acknowledgment and no retry.
func (c *CommandChannel) Broadcast(msg Message) error {
	c.mu.Lock()
	conn, target := c.conn, c.target
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("control channel not started")
	}
	return c.send(conn, target, msg)
}

// SendTo addresses a message to one peer's control port.
func (c *CommandChannel) SendTo(addr *net.UDPAddr, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("control channel not started")
	}
	return c.send(conn, addr, msg)
}

func (c *CommandChannel) send(conn *net.UDPConn, addr *net.UDPAddr, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	if _, err := conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	if c.metrics != nil {
		c.metrics.IncCommandsSent()
	}
	return nil
}

func (c *CommandChannel) loop(ctx context.Context, conn *net.UDPConn) {
	defer c.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.log.Warn("control receive failed", slog.String("error", err.Error()))
			continue
		}

		msg, err := Decode(buf[:n])
		if err != nil {
			c.log.Debug("dropping datagram",
				slog.String("from", from.String()),
				slog.String("error", err.Error()))
			if c.metrics != nil {
				c.metrics.IncMalformed()
			}
			continue
		}

		h, ok := c.handlers[msg.Kind()]
		if !ok {
			continue
		}
		if c.metrics != nil {
			c.metrics.IncCommandsReceived()
		}
		h(msg, from)
	}
}
