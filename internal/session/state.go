// Package session holds the leader-side session clock and the collaborator
// registry.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State tracks whether a playback session is running and how long it has
// been running. It is mutated only by its owning engine; status reporters
// read it concurrently.
type State struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	running   bool
	startTime time.Time

	sessionsStarted int
	totalRuntime    time.Duration
	lastDuration    time.Duration
}

// NewState returns a stopped session.
func NewState(clock clockwork.Clock) *State {
	return &State{clock: clock}
}

// Start begins a new session at the current instant and returns its epoch.
// An already-running session is stopped first.
func (s *State) Start() time.Time {
	now := s.clock.Now()
	s.StartAt(now)
	return now
}

// StartAt begins a session with the given epoch, which may lie in the past
// (a collaborator adopting the leader's start time).
func (s *State) StartAt(epoch time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.stopLocked()
	}
	s.startTime = epoch
	s.running = true
	s.sessionsStarted++
}

// Stop ends the session and resets the clock to not-running.
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *State) stopLocked() {
	if s.running {
		d := s.clock.Since(s.startTime)
		s.totalRuntime += d
		s.lastDuration = d
	}
	s.running = false
	s.startTime = time.Time{}
}

// Running reports whether a session is in progress.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Epoch returns the session start time; ok is false when not running.
func (s *State) Epoch() (epoch time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime, s.running
}

// Elapsed returns seconds since the session epoch, 0 when not running.
func (s *State) Elapsed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.clock.Since(s.startTime).Seconds()
}

// FormattedElapsed renders the elapsed time as mm:ss for status displays.
func (s *State) FormattedElapsed() string {
	total := int(s.Elapsed())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// StateStats is a snapshot of the session for status reporting.
type StateStats struct {
	Running         bool    `json:"running"`
	Elapsed         float64 `json:"elapsed"`
	SessionsStarted int     `json:"sessions_started"`
	TotalRuntime    float64 `json:"total_runtime"`
	LastDuration    float64 `json:"last_session_duration"`
}

// Stats returns a snapshot of the session counters.
func (s *State) Stats() StateStats {
	elapsed := s.Elapsed()
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateStats{
		Running:         s.running,
		Elapsed:         elapsed,
		SessionsStarted: s.sessionsStarted,
		TotalRuntime:    s.totalRuntime.Seconds(),
		LastDuration:    s.lastDuration.Seconds(),
	}
}
