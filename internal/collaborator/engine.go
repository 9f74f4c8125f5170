// Package collaborator wires the follower side: it ingests the leader's
// clock ticks, keeps the cue scheduler and the playback corrector in step,
// and answers the leader's control commands.
package collaborator

import (
	"context"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"kitchensync/internal/cue"
	"kitchensync/internal/platform/metrics"
	"kitchensync/internal/player"
	"kitchensync/internal/session"
	"kitchensync/internal/synctrack"
	"kitchensync/internal/transport"
)

// DefaultHeartbeatInterval is how often the collaborator announces itself on
// the control channel.
const DefaultHeartbeatInterval = 2 * time.Second

// minHeartbeatGap rate-limits heartbeats regardless of the configured
// interval, so a misconfigured loop cannot spam the leader.
const minHeartbeatGap = 1 * time.Second

// Config configures a collaborator engine.
type Config struct {
	// DeviceID identifies this collaborator to the leader.
	DeviceID string
	// VideoFile is the media file to load and report; may be empty for
	// cue-only devices.
	VideoFile string
	// SyncPort is the clock channel port to listen on.
	SyncPort int
	// ControlPort is the control channel port to bind.
	ControlPort int
	// ControlTarget is the broadcast destination for register/heartbeat,
	// e.g. "255.255.255.255:5006".
	ControlTarget string
	// HeartbeatInterval is the heartbeat period; zero selects the default.
	HeartbeatInterval time.Duration
	// LoopJumpThreshold is the scheduler's backward-jump threshold in
	// seconds; zero selects the default.
	LoopJumpThreshold float64
	// Corrector tunes the playback sync corrector.
	Corrector synctrack.CorrectorConfig
}

// TickSubscriber is one independently registered consumer of the per-tick
// event. Subscribers run in registration order on the sync listener's
// goroutine and must not block.
type TickSubscriber func(leaderTime float64, receivedAt time.Time)

// Engine owns the collaborator's background tasks and component wiring.
// Constructing one returns the ownership handle; Stop releases everything.
type Engine struct {
	cfg     Config
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	tracker   *synctrack.Tracker
	scheduler *cue.Scheduler
	corrector *synctrack.Corrector
	player    player.Player
	state     *session.State
	receiver  *transport.SyncReceiver
	commands  *transport.CommandChannel

	mu            sync.Mutex
	subscribers   []TickSubscriber
	status        string
	lastHeartbeat time.Time
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	started       bool
}

// New wires a collaborator engine around the given player and trigger sink.
// metrics may be nil.
func New(cfg Config, pl player.Player, sink cue.Sink, clock clockwork.Clock, log *slog.Logger, m *metrics.Metrics) *Engine {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	e := &Engine{
		cfg:     cfg,
		clock:   clock,
		log:     log,
		metrics: m,
		tracker: synctrack.NewTracker(clock, 0),
		player:  pl,
		state:   session.NewState(clock),
		status:  "ready",
	}
	e.scheduler = cue.NewScheduler(e.countingSink(sink), cfg.LoopJumpThreshold, log)
	e.corrector = synctrack.NewCorrector(pl, cfg.Corrector, clock, log)

	e.receiver = transport.NewSyncReceiver(cfg.SyncPort, e.dispatchTick, clock, log, m)
	e.commands = transport.NewCommandChannel(transport.CommandConfig{
		Port:   cfg.ControlPort,
		Target: cfg.ControlTarget,
	}, log, m)
	e.commands.Handle(transport.KindStart, e.handleStart)
	e.commands.Handle(transport.KindStop, e.handleStop)
	e.commands.Handle(transport.KindUpdateSchedule, e.handleUpdateSchedule)

	// The per-tick pipeline, in order: estimate drift, fire due cues,
	// correct the media position. Each stage is independently replaceable
	// via Subscribe.
	e.Subscribe(func(leaderTime float64, receivedAt time.Time) {
		e.tracker.RecordSync(leaderTime, receivedAt)
	})
	e.Subscribe(func(leaderTime float64, _ time.Time) {
		e.scheduler.Process(leaderTime)
	})
	e.Subscribe(func(leaderTime float64, _ time.Time) {
		if !e.state.Running() {
			return
		}
		pos, ok := e.player.Position()
		if !ok {
			return
		}
		if e.corrector.Check(leaderTime, pos) && e.metrics != nil {
			e.metrics.IncCorrections()
		}
	})

	return e
}

// Subscribe adds a consumer to the per-tick event. Call before Start.
func (e *Engine) Subscribe(s TickSubscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, s)
}

// Start binds both channels, loads the media file, and begins the heartbeat
// loop. Any bind failure is returned with everything already started torn
// down again.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	if e.cfg.VideoFile != "" {
		if err := e.player.Load(e.cfg.VideoFile); err != nil {
			e.log.Warn("media load failed, continuing without video",
				slog.String("file", e.cfg.VideoFile),
				slog.String("error", err.Error()))
		}
	}

	if err := e.commands.Start(); err != nil {
		e.failStart()
		return err
	}
	if err := e.receiver.Start(); err != nil {
		e.failStart()
		return err
	}

	e.wg.Add(1)
	go e.heartbeatLoop(ctx)

	e.log.Info("collaborator started",
		slog.String("device_id", e.cfg.DeviceID),
		slog.Int("sync_port", e.cfg.SyncPort),
		slog.Int("control_port", e.cfg.ControlPort))
	return nil
}

// Stop ends any running session and releases all transports and tasks.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	e.stopPlayback()
	e.teardown()
	e.log.Info("collaborator stopped", slog.String("device_id", e.cfg.DeviceID))
}

// failStart tears down whatever a failed Start already bound and rolls the
// engine back to stopped, so a retried Start binds again instead of
// returning nil with nothing running.
func (e *Engine) failStart() {
	e.teardown()
	e.mu.Lock()
	e.started = false
	e.cancel = nil
	e.mu.Unlock()
}

func (e *Engine) teardown() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.receiver.Stop()
	e.commands.Stop()
}

// dispatchTick fans each received tick out to the subscriber pipeline.
func (e *Engine) dispatchTick(leaderTime float64, receivedAt time.Time) {
	e.mu.Lock()
	subs := e.subscribers
	e.mu.Unlock()

	for _, s := range subs {
		s(leaderTime, receivedAt)
	}
}

// handleStart is idempotent: starting while running performs an implicit
// stop first, then adopts the leader's schedule and start time.
func (e *Engine) handleStart(msg transport.Message, _ *net.UDPAddr) {
	start, ok := msg.(transport.Start)
	if !ok {
		return
	}

	if e.state.Running() {
		e.log.Info("start while running, restarting")
		e.stopPlayback()
	}

	e.scheduler.Load(start.Schedule)
	e.corrector.Reset()

	epoch := e.clock.Now()
	if start.StartTime > 0 {
		sec, frac := math.Modf(start.StartTime)
		epoch = time.Unix(int64(sec), int64(frac*float64(time.Second)))
	}
	e.state.StartAt(epoch)

	if err := e.player.Play(); err != nil {
		e.log.Error("media play failed", slog.String("error", err.Error()))
	}
	e.scheduler.Start()
	e.setStatus("playing")

	e.log.Info("session started",
		slog.Int("cues", len(start.Schedule)),
		slog.Bool("debug_mode", start.DebugMode))
}

func (e *Engine) handleStop(transport.Message, *net.UDPAddr) {
	e.stopPlayback()
	e.log.Info("session stopped by leader")
}

func (e *Engine) handleUpdateSchedule(msg transport.Message, _ *net.UDPAddr) {
	upd, ok := msg.(transport.UpdateSchedule)
	if !ok {
		return
	}
	e.scheduler.Load(upd.Schedule)
}

func (e *Engine) stopPlayback() {
	e.scheduler.Stop()
	e.corrector.Reset()
	if err := e.player.Stop(); err != nil {
		e.log.Error("media stop failed", slog.String("error", err.Error()))
	}
	e.state.Stop()
	e.setStatus("ready")
}

func (e *Engine) setStatus(s string) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

func (e *Engine) currentStatus() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// heartbeatLoop registers with the leader once, then sends periodic
// heartbeats until stopped. Send failures are logged and swallowed; the
// next beat supersedes a lost one.
func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.wg.Done()

	reg := transport.NewRegister(e.cfg.DeviceID, e.currentStatus(), e.cfg.VideoFile)
	if err := e.commands.Broadcast(reg); err != nil {
		e.log.Warn("registration send failed", slog.String("error", err.Error()))
	}

	ticker := e.clock.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.sendHeartbeat()
		}
	}
}

func (e *Engine) sendHeartbeat() {
	now := e.clock.Now()

	e.mu.Lock()
	if !e.lastHeartbeat.IsZero() && now.Sub(e.lastHeartbeat) < minHeartbeatGap {
		e.mu.Unlock()
		return
	}
	e.lastHeartbeat = now
	e.mu.Unlock()

	hb := transport.NewHeartbeat(e.cfg.DeviceID, e.currentStatus())
	if err := e.commands.Broadcast(hb); err != nil {
		e.log.Warn("heartbeat send failed", slog.String("error", err.Error()))
	}
}

// countingSink wraps the trigger sink with the fired-cue metric.
func (e *Engine) countingSink(sink cue.Sink) cue.Sink {
	return sinkFunc(func(c cue.Cue) error {
		if e.metrics != nil {
			e.metrics.IncCuesFired()
		}
		return sink.Send(c)
	})
}

type sinkFunc func(cue.Cue) error

func (f sinkFunc) Send(c cue.Cue) error { return f(c) }

// Status is the collaborator's status view for reporting.
type Status struct {
	DeviceID  string                 `json:"device_id"`
	Status    string                 `json:"status"`
	VideoFile string                 `json:"video_file,omitempty"`
	Session   session.StateStats     `json:"session"`
	Sync      synctrack.TrackerStats `json:"sync"`
	Scheduler cue.Stats              `json:"scheduler"`
}

// Status returns a snapshot of the collaborator for status reporting.
func (e *Engine) Status() Status {
	return Status{
		DeviceID:  e.cfg.DeviceID,
		Status:    e.currentStatus(),
		VideoFile: e.cfg.VideoFile,
		Session:   e.state.Stats(),
		Sync:      e.tracker.Stats(),
		Scheduler: e.scheduler.Stats(),
	}
}

// Tracker exposes the sync tracker for metrics gauge refresh.
func (e *Engine) Tracker() *synctrack.Tracker { return e.tracker }
