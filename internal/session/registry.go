package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultLivenessTimeout is how long a collaborator may stay silent before
// the snapshot marks it offline. Records are evicted after three times this.
const DefaultLivenessTimeout = 10 * time.Second

// Record is the registry's view of one collaborator.
type Record struct {
	ID           string
	Addr         string // UDP address the last registration arrived from
	Status       string
	MediaRef     string // media file the collaborator reported
	LastSeen     time.Time
	RegisteredAt time.Time
}

// Info is a Record plus derived liveness, as returned by Snapshot.
type Info struct {
	ID               string  `json:"id"`
	Addr             string  `json:"addr"`
	Status           string  `json:"status"`
	MediaRef         string  `json:"media_ref"`
	Online           bool    `json:"online"`
	SecondsSinceSeen float64 `json:"seconds_since_seen"`
	RegisteredAt     string  `json:"registered_at"`
}

// Registry tracks collaborator registration and heartbeat liveness on the
// leader. Records are upserted by registration, refreshed by heartbeats, and
// evicted only by EvictStale; a heartbeat for an unknown id is tolerated and
// does nothing.
type Registry struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	timeout time.Duration
	records map[string]*Record
}

// NewRegistry returns an empty registry. timeout <= 0 selects
// DefaultLivenessTimeout.
func NewRegistry(clock clockwork.Clock, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &Registry{
		clock:   clock,
		timeout: timeout,
		records: make(map[string]*Record),
	}
}

// Register upserts a collaborator record. RegisteredAt is set only on first
// insertion; LastSeen always refreshes. Duplicate registrations are normal
// (collaborators re-register after restarts).
func (r *Registry) Register(id, addr, status, mediaRef string) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.Addr = addr
		rec.Status = status
		rec.MediaRef = mediaRef
		rec.LastSeen = now
		return
	}
	r.records[id] = &Record{
		ID:           id,
		Addr:         addr,
		Status:       status,
		MediaRef:     mediaRef,
		LastSeen:     now,
		RegisteredAt: now,
	}
}

// Heartbeat refreshes LastSeen and Status for an existing id. It reports
// false for an unknown id; a heartbeat never implicitly registers.
func (r *Registry) Heartbeat(id, status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.LastSeen = r.clock.Now()
	rec.Status = status
	return true
}

// Addr returns the control address (host:port) of the given collaborator,
// if registered. Addressed commands (e.g. a late joiner's start) go here.
func (r *Registry) Addr(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return "", false
	}
	return rec.Addr, true
}

// Snapshot returns all records with derived liveness. It does not mutate
// state; an entry is online iff it was seen within the liveness timeout.
func (r *Registry) Snapshot() map[string]Info {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Info, len(r.records))
	for id, rec := range r.records {
		age := now.Sub(rec.LastSeen)
		out[id] = Info{
			ID:               rec.ID,
			Addr:             rec.Addr,
			Status:           rec.Status,
			MediaRef:         rec.MediaRef,
			Online:           age < r.timeout,
			SecondsSinceSeen: age.Seconds(),
			RegisteredAt:     rec.RegisteredAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}

// Counts returns the number of known and currently online collaborators.
func (r *Registry) Counts() (known, online int) {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		known++
		if now.Sub(rec.LastSeen) < r.timeout {
			online++
		}
	}
	return known, online
}

// EvictStale removes records silent for more than three times the liveness
// timeout and returns the evicted ids. Intended for periodic background
// invocation, not per-message.
func (r *Registry) EvictStale() []string {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, rec := range r.records {
		if now.Sub(rec.LastSeen) > 3*r.timeout {
			delete(r.records, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
