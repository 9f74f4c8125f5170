package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"kitchensync/internal/platform/metrics"
)

// TickHandler receives each decoded clock tick together with its local
// receipt time.
type TickHandler func(leaderTime float64, receivedAt time.Time)

// SyncReceiver listens on the clock channel and hands each tick to its
// handler. Malformed datagrams and non-sync messages are dropped; nothing in
// steady state terminates the listen loop.
type SyncReceiver struct {
	port    int
	handler TickHandler
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	conn    *net.UDPConn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSyncReceiver returns a stopped receiver for the given clock port.
// metrics may be nil.
func NewSyncReceiver(port int, handler TickHandler, clock clockwork.Clock, log *slog.Logger, m *metrics.Metrics) *SyncReceiver {
	return &SyncReceiver{port: port, handler: handler, clock: clock, log: log, metrics: m}
}

// Start binds the clock port and begins listening. A bind failure is
// returned and leaves the receiver stopped.
func (r *SyncReceiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	conn, err := listenBroadcastUDP(r.port)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.conn = conn
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.loop(ctx, conn)

	r.log.Info("sync listener started", slog.Int("port", conn.LocalAddr().(*net.UDPAddr).Port))
	return nil
}

// Stop signals the loop, waits for it to exit, and releases the socket.
func (r *SyncReceiver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	conn.Close()
	r.log.Info("sync listener stopped")
}

// LocalPort returns the bound port, useful when constructed with port 0.
func (r *SyncReceiver) LocalPort() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return r.port
	}
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func (r *SyncReceiver) loop(ctx context.Context, conn *net.UDPConn) {
	defer r.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			r.log.Warn("sync receive failed", slog.String("error", err.Error()))
			continue
		}

		msg, err := Decode(buf[:n])
		if err != nil {
			r.log.Debug("dropping datagram", slog.String("error", err.Error()))
			if r.metrics != nil {
				r.metrics.IncMalformed()
			}
			continue
		}

		tick, ok := msg.(Sync)
		if !ok {
			continue
		}
		if r.metrics != nil {
			r.metrics.IncTicksReceived()
		}
		r.handler(tick.Time, r.clock.Now())
	}
}
