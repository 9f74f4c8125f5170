package session

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestState_start_stop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewState(clock)

	if s.Running() {
		t.Fatal("new state should not be running")
	}
	if s.Elapsed() != 0 {
		t.Errorf("stopped elapsed should be 0, got %f", s.Elapsed())
	}

	epoch := s.Start()
	if !s.Running() {
		t.Fatal("expected running after Start")
	}
	got, ok := s.Epoch()
	if !ok || !got.Equal(epoch) {
		t.Errorf("Epoch() = %v, %v; want %v, true", got, ok, epoch)
	}

	clock.Advance(90 * time.Second)
	if e := s.Elapsed(); e != 90 {
		t.Errorf("elapsed = %f, want 90", e)
	}
	if f := s.FormattedElapsed(); f != "01:30" {
		t.Errorf("formatted elapsed = %q, want 01:30", f)
	}

	s.Stop()
	if s.Running() {
		t.Error("expected stopped after Stop")
	}
	if s.Elapsed() != 0 {
		t.Error("stopped session still reports elapsed time")
	}
	if _, ok := s.Epoch(); ok {
		t.Error("stopped session still reports an epoch")
	}
}

func TestState_start_at_past_epoch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewState(clock)

	// Adopting an epoch that lies 2.5s in the past, the way a late-joining
	// device picks up an already-running session.
	s.StartAt(clock.Now().Add(-2500 * time.Millisecond))

	if e := s.Elapsed(); e != 2.5 {
		t.Errorf("elapsed = %f, want 2.5", e)
	}
}

func TestState_restart_stops_previous_session(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewState(clock)

	s.Start()
	clock.Advance(10 * time.Second)
	s.Start()
	clock.Advance(5 * time.Second)
	s.Stop()

	st := s.Stats()
	if st.SessionsStarted != 2 {
		t.Errorf("sessions started = %d, want 2", st.SessionsStarted)
	}
	if st.TotalRuntime != 15 {
		t.Errorf("total runtime = %f, want 15", st.TotalRuntime)
	}
	if st.LastDuration != 5 {
		t.Errorf("last duration = %f, want 5", st.LastDuration)
	}
}

func TestState_stop_idempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewState(clock)

	s.Start()
	clock.Advance(time.Second)
	s.Stop()
	s.Stop()

	if st := s.Stats(); st.TotalRuntime != 1 {
		t.Errorf("double stop changed total runtime: %f", st.TotalRuntime)
	}
}
