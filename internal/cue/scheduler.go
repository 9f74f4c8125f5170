package cue

import (
	"log/slog"
	"sync"
)

// DefaultLoopJumpThreshold is the backward jump in elapsed time, in seconds,
// beyond which the scheduler assumes the media looped and resets its cursor.
// Smaller backward jitter (transport reordering) is deliberately ignored so
// already-fired cues are not fired again. The value is a heuristic: it cannot
// tell a loop restart from a deliberate seek backwards of more than a second.
const DefaultLoopJumpThreshold = 1.0

// Sink receives cues the moment they become due. Implementations hand the
// cue to an external trigger output (MIDI port, log, test recorder).
type Sink interface {
	Send(Cue) error
}

// Scheduler fires cues against an externally supplied elapsed time. It keeps
// a monotonic cursor into the sorted cue list so each cue fires at most once
// per playback pass, and resets the cursor when it detects a loop restart.
type Scheduler struct {
	mu            sync.Mutex
	sink          Sink
	log           *slog.Logger
	jumpThreshold float64

	cues        []Cue
	playing     bool
	lastFired   int     // index of the last fired cue, -1 before any
	lastElapsed float64 // previous Process argument, -1 before any
	firedTotal  uint64
}

// NewScheduler returns a stopped scheduler with an empty cue list.
// jumpThreshold <= 0 selects DefaultLoopJumpThreshold.
func NewScheduler(sink Sink, jumpThreshold float64, log *slog.Logger) *Scheduler {
	if jumpThreshold <= 0 {
		jumpThreshold = DefaultLoopJumpThreshold
	}
	return &Scheduler{
		sink:          sink,
		log:           log,
		jumpThreshold: jumpThreshold,
		lastFired:     -1,
		lastElapsed:   -1,
	}
}

// Load replaces the schedule wholesale and resets the firing cursor.
// The list is sorted defensively; the loaded schedule is never mutated.
func (s *Scheduler) Load(cues []Cue) {
	sorted := Sorted(cues)

	s.mu.Lock()
	s.cues = sorted
	s.lastFired = -1
	s.mu.Unlock()

	s.log.Info("schedule loaded", slog.Int("cues", len(sorted)))
}

// Start enables cue firing and resets the cursor for a fresh pass.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return
	}
	s.playing = true
	s.lastFired = -1
	s.lastElapsed = -1
}

// Stop disables cue firing. The loaded schedule is kept.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
}

// Process fires every not-yet-fired cue whose time is <= elapsed, in order.
// A backward jump in elapsed larger than the loop threshold resets the
// cursor first, making the whole schedule eligible again.
func (s *Scheduler) Process(elapsed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing {
		return
	}

	if elapsed < s.lastElapsed && s.lastElapsed-elapsed > s.jumpThreshold {
		s.log.Info("loop restart detected",
			slog.Float64("from", s.lastElapsed),
			slog.Float64("to", elapsed))
		s.lastFired = -1
	}
	s.lastElapsed = elapsed

	for i := s.lastFired + 1; i < len(s.cues); i++ {
		c := s.cues[i]
		if c.Time > elapsed {
			break
		}
		if err := s.sink.Send(c); err != nil {
			// The cue still counts as fired: at-most-once beats a
			// late retry against a moving clock.
			s.log.Error("trigger send failed",
				slog.Float64("cue_time", c.Time),
				slog.String("error", err.Error()))
		}
		s.lastFired = i
		s.firedTotal++
	}
}

// Stats describes the scheduler for status reporting.
type Stats struct {
	Playing    bool   `json:"playing"`
	CueCount   int    `json:"cue_count"`
	NextIndex  int    `json:"next_index"`
	FiredTotal uint64 `json:"fired_total"`
}

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Playing:    s.playing,
		CueCount:   len(s.cues),
		NextIndex:  s.lastFired + 1,
		FiredTotal: s.firedTotal,
	}
}
