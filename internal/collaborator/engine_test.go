package collaborator

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"kitchensync/internal/cue"
	"kitchensync/internal/platform/logger"
	"kitchensync/internal/player"
	"kitchensync/internal/transport"
)

// recordingSink collects fired cues.
type recordingSink struct {
	fired []cue.Cue
}

func (s *recordingSink) Send(c cue.Cue) error {
	s.fired = append(s.fired, c)
	return nil
}

// scriptedPlayer reports a scripted position and records seeks.
type scriptedPlayer struct {
	player.Null
	pos    float64
	posOK  bool
	seeks  []float64
	played bool
}

func (p *scriptedPlayer) Play() error               { p.played = true; return nil }
func (p *scriptedPlayer) Position() (float64, bool) { return p.pos, p.posOK }

func (p *scriptedPlayer) SetPosition(s float64) error {
	p.seeks = append(p.seeks, s)
	return nil
}

func newTestEngine(clock clockwork.Clock) (*Engine, *recordingSink, *scriptedPlayer) {
	sink := &recordingSink{}
	pl := &scriptedPlayer{}
	e := New(Config{
		DeviceID:      "pi-test",
		SyncPort:      0,
		ControlPort:   0,
		ControlTarget: "127.0.0.1:9",
	}, pl, sink, clock, logger.Nop(), nil)
	return e, sink, pl
}

// feedTicks drives the per-tick pipeline directly, one tick per interval,
// the way the sync listener would.
func feedTicks(clock *clockwork.FakeClock, e *Engine, interval time.Duration, leaderTimes ...float64) {
	for _, lt := range leaderTimes {
		e.dispatchTick(lt, clock.Now())
		clock.Advance(interval)
	}
}

func TestEngine_failed_start_is_retriable(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{
		DeviceID:      "pi-test",
		SyncPort:      0,
		ControlPort:   0,
		ControlTarget: "not a target",
	}, &scriptedPlayer{}, sink, clockwork.NewRealClock(), logger.Nop(), nil)

	if err := e.Start(); err == nil {
		t.Fatal("expected first start to fail on the bad control target")
	}
	// The engine must not claim to be running: a retry has to attempt the
	// bind again rather than return nil with no transport up.
	if err := e.Start(); err == nil {
		t.Fatal("second start reported success with nothing running")
	}
	e.Stop() // no-op on a never-started engine
}

func TestEngine_start_fires_due_cues_once(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e, sink, pl := newTestEngine(clock)

	e.handleStart(transport.NewStart([]cue.Cue{
		{Time: 1.5, Type: cue.NoteOn, Channel: 1, Note: 60},
	}, 0, false), nil)

	if !pl.played {
		t.Error("start did not begin playback")
	}

	// Leader ticks at 1 Hz: the cue at 1.5 rides out with the 2.0 tick.
	feedTicks(clock, e, time.Second, 0.0, 1.0, 2.0, 3.0)

	if len(sink.fired) != 1 {
		t.Fatalf("expected exactly 1 fired cue, got %d", len(sink.fired))
	}
	if sink.fired[0].Note != 60 {
		t.Errorf("wrong cue fired: %+v", sink.fired[0])
	}
}

func TestEngine_ticks_feed_drift_tracker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e, _, _ := newTestEngine(clock)

	feedTicks(clock, e, time.Second, 0.0, 1.0, 2.0, 3.0)

	stats := e.Tracker().Stats()
	if stats.SampleCount == 0 {
		t.Fatal("ticks never reached the tracker")
	}
	if stats.AverageDrift != 0 {
		t.Errorf("agreeing clocks produced drift %f", stats.AverageDrift)
	}
}

func TestEngine_corrector_only_runs_while_playing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e, _, pl := newTestEngine(clock)
	pl.posOK = true

	// Not running: a huge deviation must never trigger a seek.
	pl.pos = 100.0
	feedTicks(clock, e, time.Second, 0.0, 1.0, 2.0, 3.0, 4.0, 5.0)
	if len(pl.seeks) != 0 {
		t.Fatalf("corrector ran outside a session: %v", pl.seeks)
	}

	e.handleStart(transport.NewStart(nil, 0, false), nil)

	// Playing with the position pinned 0.6s behind the leader clock.
	for _, lt := range []float64{10, 11, 12, 13, 14} {
		pl.pos = lt - 0.6
		e.dispatchTick(lt, clock.Now())
		clock.Advance(time.Second)
	}
	if len(pl.seeks) != 1 {
		t.Errorf("expected exactly 1 correction while playing, got %v", pl.seeks)
	}
}

func TestEngine_start_while_running_restarts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e, sink, _ := newTestEngine(clock)

	e.handleStart(transport.NewStart([]cue.Cue{
		{Time: 0.5, Type: cue.NoteOn, Channel: 1},
	}, 0, false), nil)
	e.dispatchTick(1.0, clock.Now())
	if len(sink.fired) != 1 {
		t.Fatalf("expected 1 fire before restart, got %d", len(sink.fired))
	}

	// A second start adopts the new schedule from the top.
	e.handleStart(transport.NewStart([]cue.Cue{
		{Time: 0.5, Type: cue.NoteOn, Channel: 1},
		{Time: 0.7, Type: cue.NoteOff, Channel: 1},
	}, 0, false), nil)
	e.dispatchTick(1.0, clock.Now())

	if len(sink.fired) != 3 {
		t.Errorf("expected restart to re-fire from the top, got %d fires", len(sink.fired))
	}
	if st := e.Status(); st.Session.SessionsStarted != 2 {
		t.Errorf("sessions started = %d, want 2", st.Session.SessionsStarted)
	}
}

func TestEngine_start_adopts_leader_epoch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e, _, _ := newTestEngine(clock)

	// The leader's start lies 2.5s in the past.
	epoch := float64(clock.Now().Add(-2500*time.Millisecond).UnixNano()) / 1e9
	e.handleStart(transport.NewStart(nil, epoch, false), nil)

	if elapsed := e.Status().Session.Elapsed; elapsed < 2.4 || elapsed > 2.6 {
		t.Errorf("elapsed = %f, want ~2.5", elapsed)
	}
}

func TestEngine_stop_halts_cues_and_session(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e, sink, _ := newTestEngine(clock)

	e.handleStart(transport.NewStart([]cue.Cue{
		{Time: 5.0, Type: cue.NoteOn, Channel: 1},
	}, 0, false), nil)
	e.handleStop(transport.NewStop(), nil)

	e.dispatchTick(6.0, clock.Now())
	if len(sink.fired) != 0 {
		t.Errorf("cues fired after stop: %v", sink.fired)
	}

	st := e.Status()
	if st.Session.Running || st.Status != "ready" {
		t.Errorf("unexpected status after stop: %+v", st)
	}
}

func TestEngine_update_schedule_replaces_cues(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e, sink, _ := newTestEngine(clock)

	e.handleStart(transport.NewStart([]cue.Cue{
		{Time: 2.0, Type: cue.NoteOn, Channel: 1, Note: 60},
	}, 0, false), nil)
	e.handleUpdateSchedule(transport.NewUpdateSchedule([]cue.Cue{
		{Time: 2.0, Type: cue.NoteOn, Channel: 1, Note: 72},
	}), nil)

	e.dispatchTick(3.0, clock.Now())
	if len(sink.fired) != 1 || sink.fired[0].Note != 72 {
		t.Errorf("replaced schedule not in effect: %v", sink.fired)
	}
}

func TestEngine_extra_subscriber_sees_every_tick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e, _, _ := newTestEngine(clock)

	var seen []float64
	e.Subscribe(func(leaderTime float64, _ time.Time) {
		seen = append(seen, leaderTime)
	})

	feedTicks(clock, e, time.Second, 0.0, 1.0, 2.0)
	if len(seen) != 3 {
		t.Errorf("subscriber saw %d ticks, want 3", len(seen))
	}
}
