package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"kitchensync/internal/platform/metrics"
)

// Tick interval bounds. Anything outside is clamped rather than rejected;
// a misconfigured interval should not keep the leader from starting.
const (
	MinTickInterval     = 20 * time.Millisecond
	MaxTickInterval     = 5 * time.Second
	DefaultTickInterval = 100 * time.Millisecond
)

// ClampTickInterval forces d into the broadcaster's supported range.
// d <= 0 selects DefaultTickInterval.
func ClampTickInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTickInterval
	case d < MinTickInterval:
		return MinTickInterval
	case d > MaxTickInterval:
		return MaxTickInterval
	default:
		return d
	}
}

// BroadcasterConfig configures the leader's clock broadcaster.
type BroadcasterConfig struct {
	// LeaderID identifies this leader in tick messages.
	LeaderID string
	// Target is the clock channel destination, e.g. "255.255.255.255:5005".
	Target string
	// Interval is the tick period, clamped to [MinTickInterval, MaxTickInterval].
	Interval time.Duration
	// TimeSource, when set, supplies the broadcast time (e.g. the live
	// media position) instead of elapsed-since-epoch. Returning false
	// falls back to the epoch clock for that tick.
	TimeSource func() (float64, bool)
}

// ClockBroadcaster periodically emits the leader's elapsed session time on
// the clock channel. Delivery is at-most-once and lossy: a dropped tick is
// superseded by the next one within one interval, so send errors are logged
// and swallowed, never stopping the loop.
type ClockBroadcaster struct {
	cfg     BroadcasterConfig
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	conn    *net.UDPConn
	target  *net.UDPAddr
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewClockBroadcaster returns a stopped broadcaster. metrics may be nil.
func NewClockBroadcaster(cfg BroadcasterConfig, clock clockwork.Clock, log *slog.Logger, m *metrics.Metrics) *ClockBroadcaster {
	cfg.Interval = ClampTickInterval(cfg.Interval)
	return &ClockBroadcaster{cfg: cfg, clock: clock, log: log, metrics: m}
}

// Start binds the send socket and begins broadcasting ticks measured from
// epoch. A bind failure is returned and leaves the broadcaster stopped.
func (b *ClockBroadcaster) Start(epoch time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	target, err := net.ResolveUDPAddr("udp4", b.cfg.Target)
	if err != nil {
		return fmt.Errorf("resolve clock target %s: %w", b.cfg.Target, err)
	}
	conn, err := listenBroadcastUDP(0)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.conn = conn
	b.target = target
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.loop(ctx, epoch)

	b.log.Info("clock broadcast started",
		slog.String("target", b.cfg.Target),
		slog.Duration("interval", b.cfg.Interval))
	return nil
}

// Stop signals the loop, waits for it to exit, and releases the socket.
func (b *ClockBroadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	cancel()
	b.wg.Wait()
	conn.Close()
	b.log.Info("clock broadcast stopped")
}

func (b *ClockBroadcaster) loop(ctx context.Context, epoch time.Time) {
	defer b.wg.Done()

	ticker := b.clock.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			b.tick(epoch)
		}
	}
}

func (b *ClockBroadcaster) tick(epoch time.Time) {
	elapsed := b.clock.Since(epoch).Seconds()
	if b.cfg.TimeSource != nil {
		if pos, ok := b.cfg.TimeSource(); ok {
			elapsed = pos
		}
	}

	data, err := Encode(NewSync(elapsed, b.cfg.LeaderID))
	if err != nil {
		b.log.Error("encode tick", slog.String("error", err.Error()))
		return
	}

	b.mu.Lock()
	conn, target := b.conn, b.target
	b.mu.Unlock()
	if conn == nil {
		return
	}

	if _, err := conn.WriteToUDP(data, target); err != nil {
		b.log.Warn("broadcast tick failed", slog.String("error", err.Error()))
		return
	}
	if b.metrics != nil {
		b.metrics.IncTicksBroadcast()
	}
}
