package cue

import (
	"errors"
	"testing"

	"kitchensync/internal/platform/logger"
)

// recordingSink collects fired cues and can be told to fail.
type recordingSink struct {
	fired []Cue
	err   error
}

func (s *recordingSink) Send(c Cue) error {
	s.fired = append(s.fired, c)
	return s.err
}

func newTestScheduler(cues []Cue) (*Scheduler, *recordingSink) {
	sink := &recordingSink{}
	s := NewScheduler(sink, 0, logger.Nop())
	s.Load(cues)
	s.Start()
	return s, sink
}

func TestScheduler_fires_each_cue_once_in_order(t *testing.T) {
	s, sink := newTestScheduler([]Cue{
		{Time: 0.5, Type: NoteOn, Channel: 1, Note: 60},
		{Time: 1.5, Type: NoteOff, Channel: 1, Note: 60},
		{Time: 2.5, Type: NoteOn, Channel: 2, Note: 64},
	})

	for _, elapsed := range []float64{0.0, 1.0, 1.0, 2.0, 3.0, 3.5} {
		s.Process(elapsed)
	}

	if len(sink.fired) != 3 {
		t.Fatalf("expected 3 fired cues, got %d", len(sink.fired))
	}
	for i := 1; i < len(sink.fired); i++ {
		if sink.fired[i].Time < sink.fired[i-1].Time {
			t.Errorf("cues fired out of order: %v", sink.fired)
		}
	}
}

func TestScheduler_fires_at_first_elapsed_at_or_past_cue_time(t *testing.T) {
	s, sink := newTestScheduler([]Cue{{Time: 1.5, Type: NoteOn, Channel: 1}})

	// Leader ticks at 1 Hz: the cue at 1.5 fires with the tick carrying 2.0.
	s.Process(0.0)
	s.Process(1.0)
	if len(sink.fired) != 0 {
		t.Fatalf("cue fired early: %v", sink.fired)
	}
	s.Process(2.0)
	if len(sink.fired) != 1 {
		t.Fatalf("cue did not fire at 2.0: %v", sink.fired)
	}
	s.Process(3.0)
	if len(sink.fired) != 1 {
		t.Errorf("cue fired twice: %v", sink.fired)
	}
}

func TestScheduler_large_backward_jump_resets_cursor(t *testing.T) {
	s, sink := newTestScheduler([]Cue{
		{Time: 0.5, Type: NoteOn, Channel: 1},
		{Time: 1.0, Type: NoteOff, Channel: 1},
	})

	s.Process(2.0)
	if len(sink.fired) != 2 {
		t.Fatalf("expected both cues fired, got %d", len(sink.fired))
	}

	// Looped media: elapsed drops by more than a second.
	s.Process(0.1)
	s.Process(1.2)
	if len(sink.fired) != 4 {
		t.Errorf("expected cues to re-fire after loop restart, got %d", len(sink.fired))
	}
}

func TestScheduler_small_backward_jitter_does_not_reset(t *testing.T) {
	s, sink := newTestScheduler([]Cue{{Time: 0.5, Type: NoteOn, Channel: 1}})

	s.Process(1.0)
	if len(sink.fired) != 1 {
		t.Fatalf("expected cue fired, got %d", len(sink.fired))
	}

	// Reordered ticks jitter backwards by less than the threshold.
	s.Process(0.2)
	s.Process(1.1)
	if len(sink.fired) != 1 {
		t.Errorf("jitter of <=1s re-fired a cue: %d fires", len(sink.fired))
	}
}

func TestScheduler_does_not_fire_when_stopped(t *testing.T) {
	s, sink := newTestScheduler([]Cue{{Time: 0.5, Type: NoteOn, Channel: 1}})
	s.Stop()

	s.Process(1.0)
	if len(sink.fired) != 0 {
		t.Errorf("stopped scheduler fired cues: %v", sink.fired)
	}
}

func TestScheduler_load_resets_cursor(t *testing.T) {
	s, sink := newTestScheduler([]Cue{{Time: 0.5, Type: NoteOn, Channel: 1}})

	s.Process(1.0)
	s.Load([]Cue{{Time: 0.5, Type: NoteOn, Channel: 1}, {Time: 0.7, Type: NoteOff, Channel: 1}})
	s.Process(1.0)

	if len(sink.fired) != 3 {
		t.Errorf("expected reloaded schedule to fire from the start, got %d fires", len(sink.fired))
	}
}

func TestScheduler_sink_error_still_advances(t *testing.T) {
	sink := &recordingSink{err: errors.New("port gone")}
	s := NewScheduler(sink, 0, logger.Nop())
	s.Load([]Cue{{Time: 0.5, Type: NoteOn, Channel: 1}})
	s.Start()

	s.Process(1.0)
	s.Process(2.0)

	// At-most-once: the failed cue is not retried.
	if len(sink.fired) != 1 {
		t.Errorf("failed cue was retried: %d sends", len(sink.fired))
	}
}

func TestScheduler_stats(t *testing.T) {
	s, _ := newTestScheduler([]Cue{
		{Time: 0.5, Type: NoteOn, Channel: 1},
		{Time: 5.0, Type: NoteOff, Channel: 1},
	})

	s.Process(1.0)

	st := s.Stats()
	if !st.Playing || st.CueCount != 2 || st.NextIndex != 1 || st.FiredTotal != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}
