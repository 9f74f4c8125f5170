// Package leader wires the leader side: the authoritative session clock,
// the clock broadcaster, the collaborator registry, and the cue schedule it
// pushes to collaborators.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"kitchensync/internal/cue"
	"kitchensync/internal/platform/metrics"
	"kitchensync/internal/session"
	"kitchensync/internal/transport"
)

// Config configures a leader engine.
type Config struct {
	// DeviceID identifies this leader in tick messages.
	DeviceID string
	// SyncTarget is the clock channel broadcast destination,
	// e.g. "255.255.255.255:5005".
	SyncTarget string
	// ControlPort is the control channel port to bind.
	ControlPort int
	// ControlTarget is the control channel broadcast destination,
	// e.g. "255.255.255.255:5006".
	ControlTarget string
	// TickInterval is the clock broadcast period.
	TickInterval time.Duration
	// LivenessTimeout is the registry's online window.
	LivenessTimeout time.Duration
	// ScheduleFile is the cue schedule source (JSON array or .mid). It is
	// loaded on session start and watched for changes while the engine
	// runs; empty disables schedule loading.
	ScheduleFile string
	// DebugMode is forwarded to collaborators in start commands.
	DebugMode bool
}

// Engine owns the leader's background tasks. Constructing one returns the
// ownership handle; Stop releases everything.
type Engine struct {
	cfg     Config
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	state       *session.State
	registry    *session.Registry
	broadcaster *transport.ClockBroadcaster
	commands    *transport.CommandChannel

	mu       sync.Mutex
	schedule []cue.Cue
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// New wires a leader engine. metrics may be nil.
func New(cfg Config, clock clockwork.Clock, log *slog.Logger, m *metrics.Metrics) *Engine {
	e := &Engine{
		cfg:      cfg,
		clock:    clock,
		log:      log,
		metrics:  m,
		state:    session.NewState(clock),
		registry: session.NewRegistry(clock, cfg.LivenessTimeout),
	}
	e.broadcaster = transport.NewClockBroadcaster(transport.BroadcasterConfig{
		LeaderID: cfg.DeviceID,
		Target:   cfg.SyncTarget,
		Interval: cfg.TickInterval,
	}, clock, log, m)
	e.commands = transport.NewCommandChannel(transport.CommandConfig{
		Port:   cfg.ControlPort,
		Target: cfg.ControlTarget,
	}, log, m)
	e.commands.Handle(transport.KindRegister, e.handleRegister)
	e.commands.Handle(transport.KindHeartbeat, e.handleHeartbeat)
	return e
}

// Start binds the control channel and begins the background eviction and
// schedule-watch loops. It does not start a session; see StartSession.
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

	if err := e.commands.Start(); err != nil {
		cancel()
		e.failStart()
		return err
	}

	e.wg.Add(1)
	go e.evictLoop(ctx)

	if e.cfg.ScheduleFile != "" {
		if err := e.watchSchedule(ctx); err != nil {
			e.log.Warn("schedule watch unavailable", slog.String("error", err.Error()))
		}
	}

	e.log.Info("leader started",
		slog.String("device_id", e.cfg.DeviceID),
		slog.Int("control_port", e.cfg.ControlPort))
	return nil
}

// failStart rolls the engine back to stopped after a failed Start, so a
// retried Start binds again instead of returning nil with nothing running.
func (e *Engine) failStart() {
	e.mu.Lock()
	e.started = false
	e.cancel = nil
	e.mu.Unlock()
}

// Stop ends any running session and releases all transports and tasks.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	if e.state.Running() {
		if err := e.StopSession(); err != nil {
			e.log.Warn("stop session on shutdown", slog.String("error", err.Error()))
		}
	}
	cancel()
	e.wg.Wait()
	e.commands.Stop()
	e.log.Info("leader stopped")
}

// StartSession loads the schedule, broadcasts a start command carrying it,
// and begins the clock broadcast. An already-running session is restarted.
func (e *Engine) StartSession() error {
	if e.state.Running() {
		if err := e.StopSession(); err != nil {
			return err
		}
	}

	if e.cfg.ScheduleFile != "" {
		if _, err := e.loadSchedule(); err != nil {
			return err
		}
	}

	epoch := e.state.Start()

	e.mu.Lock()
	schedule := e.schedule
	e.mu.Unlock()

	start := transport.NewStart(schedule, float64(epoch.UnixNano())/float64(time.Second), e.cfg.DebugMode)
	if err := e.commands.Broadcast(start); err != nil {
		e.state.Stop()
		return fmt.Errorf("broadcast start: %w", err)
	}

	if err := e.broadcaster.Start(epoch); err != nil {
		e.state.Stop()
		return err
	}

	e.log.Info("session started", slog.Int("cues", len(schedule)))
	return nil
}

// StopSession broadcasts a stop command and halts the clock broadcast.
func (e *Engine) StopSession() error {
	e.broadcaster.Stop()
	e.state.Stop()
	if err := e.commands.Broadcast(transport.NewStop()); err != nil {
		return fmt.Errorf("broadcast stop: %w", err)
	}
	e.log.Info("session stopped")
	return nil
}

// ReloadSchedule re-reads the schedule file and pushes it to collaborators.
// It returns the new cue count.
func (e *Engine) ReloadSchedule() (int, error) {
	cues, err := e.loadSchedule()
	if err != nil {
		return 0, err
	}
	if err := e.commands.Broadcast(transport.NewUpdateSchedule(cues)); err != nil {
		return 0, fmt.Errorf("broadcast schedule: %w", err)
	}
	e.log.Info("schedule pushed", slog.Int("cues", len(cues)))
	return len(cues), nil
}

func (e *Engine) loadSchedule() ([]cue.Cue, error) {
	cues, err := cue.LoadFile(e.cfg.ScheduleFile)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.schedule = cues
	e.mu.Unlock()
	return cues, nil
}

func (e *Engine) handleRegister(msg transport.Message, from *net.UDPAddr) {
	reg, ok := msg.(transport.Register)
	if !ok || reg.DeviceID == "" {
		return
	}
	e.registry.Register(reg.DeviceID, from.String(), reg.Status, reg.VideoFile)
	e.log.Info("collaborator registered",
		slog.String("device_id", reg.DeviceID),
		slog.String("addr", from.String()))

	// A collaborator registering mid-session missed the broadcast start;
	// send it the current one directly so it joins without waiting for the
	// next session.
	if e.state.Running() {
		if err := e.sendStartTo(reg.DeviceID); err != nil {
			e.log.Warn("late-join start send failed",
				slog.String("device_id", reg.DeviceID),
				slog.String("error", err.Error()))
		}
	}
}

// sendStartTo addresses the running session's start command to one
// registered collaborator.
func (e *Engine) sendStartTo(id string) error {
	addr, ok := e.registry.Addr(id)
	if !ok {
		return fmt.Errorf("collaborator %s not registered", id)
	}
	udp, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	epoch, ok := e.state.Epoch()
	if !ok {
		return fmt.Errorf("no session running")
	}

	e.mu.Lock()
	schedule := e.schedule
	e.mu.Unlock()

	start := transport.NewStart(schedule, float64(epoch.UnixNano())/float64(time.Second), e.cfg.DebugMode)
	return e.commands.SendTo(udp, start)
}

func (e *Engine) handleHeartbeat(msg transport.Message, _ *net.UDPAddr) {
	hb, ok := msg.(transport.Heartbeat)
	if !ok || hb.DeviceID == "" {
		return
	}
	if !e.registry.Heartbeat(hb.DeviceID, hb.Status) {
		// Tolerated: the collaborator will re-register on its own.
		e.log.Debug("heartbeat for unknown collaborator",
			slog.String("device_id", hb.DeviceID))
	}
}

// evictLoop periodically removes long-silent collaborators.
func (e *Engine) evictLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.clock.NewTicker(e.registryTimeout())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			for _, id := range e.registry.EvictStale() {
				e.log.Info("collaborator evicted", slog.String("device_id", id))
			}
		}
	}
}

func (e *Engine) registryTimeout() time.Duration {
	if e.cfg.LivenessTimeout > 0 {
		return e.cfg.LivenessTimeout
	}
	return session.DefaultLivenessTimeout
}

// watchSchedule pushes schedule updates when the file changes on disk.
// The parent directory is watched because editors typically replace the
// file rather than write it in place.
func (e *Engine) watchSchedule(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(e.cfg.ScheduleFile)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(e.cfg.ScheduleFile)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if n, err := e.ReloadSchedule(); err != nil {
					e.log.Warn("schedule reload failed", slog.String("error", err.Error()))
				} else {
					e.log.Info("schedule reloaded from disk", slog.Int("cues", n))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.log.Warn("schedule watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	e.log.Info("watching schedule", slog.String("file", e.cfg.ScheduleFile))
	return nil
}

// Collaborators returns the registry snapshot.
func (e *Engine) Collaborators() map[string]session.Info {
	return e.registry.Snapshot()
}

// Registry exposes the registry for metrics gauge refresh.
func (e *Engine) Registry() *session.Registry { return e.registry }

// Status is the leader's status view for reporting.
type Status struct {
	DeviceID     string             `json:"device_id"`
	Session      session.StateStats `json:"session"`
	CueCount     int                `json:"cue_count"`
	ScheduleFile string             `json:"schedule_file,omitempty"`
	Known        int                `json:"collaborators_known"`
	Online       int                `json:"collaborators_online"`
}

// Status returns a snapshot of the leader for status reporting.
func (e *Engine) Status() Status {
	known, online := e.registry.Counts()

	e.mu.Lock()
	cueCount := len(e.schedule)
	e.mu.Unlock()

	return Status{
		DeviceID:     e.cfg.DeviceID,
		Session:      e.state.Stats(),
		CueCount:     cueCount,
		ScheduleFile: e.cfg.ScheduleFile,
		Known:        known,
		Online:       online,
	}
}
