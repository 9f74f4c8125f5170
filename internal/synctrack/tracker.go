// Package synctrack estimates how well a collaborator is following the
// leader's clock, and corrects the local media position when it wanders.
package synctrack

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultMaxSamples bounds the sync and drift sample buffers.
const DefaultMaxSamples = 50

// DefaultSyncTimeout is how long silence on the clock channel is tolerated
// before IsSynced reports false.
const DefaultSyncTimeout = 5 * time.Second

// Quality is the coarse sync assessment reported to operators.
type Quality int

const (
	QualityNoData Quality = iota
	QualityLost
	QualityDegraded
	QualityExcellent
	QualityGood
	QualityFair
	QualityPoor
)

func (q Quality) String() string {
	switch q {
	case QualityNoData:
		return "no_data"
	case QualityLost:
		return "lost"
	case QualityDegraded:
		return "degraded"
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

type syncSample struct {
	leaderTime float64
	localTime  time.Time
}

// Tracker consumes received clock ticks and estimates drift. Drift for each
// tick is measured against the immediately preceding sample, not against
// absolute alignment, so a lost or duplicated tick only degrades one
// interval and self-corrects on the next.
type Tracker struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	maxSamples int
	samples    []syncSample
	drift      []float64
	lastSync   time.Time
}

// NewTracker returns a Tracker holding at most maxSamples recent samples.
// maxSamples <= 0 selects DefaultMaxSamples.
func NewTracker(clock clockwork.Clock, maxSamples int) *Tracker {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Tracker{clock: clock, maxSamples: maxSamples}
}

// RecordSync ingests one received tick: the leader's reported elapsed time
// and the local receipt timestamp.
func (t *Tracker) RecordSync(leaderTime float64, receivedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastSync = t.clock.Now()

	if n := len(t.samples); n > 0 {
		prev := t.samples[n-1]
		expected := prev.leaderTime + receivedAt.Sub(prev.localTime).Seconds()
		t.drift = append(t.drift, leaderTime-expected)
		if len(t.drift) > t.maxSamples {
			t.drift = t.drift[1:]
		}
	}

	t.samples = append(t.samples, syncSample{leaderTime: leaderTime, localTime: receivedAt})
	if len(t.samples) > t.maxSamples {
		t.samples = t.samples[1:]
	}
}

// AverageDrift returns the arithmetic mean of the drift buffer, 0 if empty.
func (t *Tracker) AverageDrift() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.averageDriftLocked()
}

func (t *Tracker) averageDriftLocked() float64 {
	if len(t.drift) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range t.drift {
		sum += d
	}
	return sum / float64(len(t.drift))
}

// IsSynced reports whether a tick arrived within the given timeout.
// timeout <= 0 selects DefaultSyncTimeout.
func (t *Tracker) IsSynced(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastSync.IsZero() {
		return false
	}
	return t.clock.Since(t.lastSync) < timeout
}

// SyncQuality classifies the current sync state: first by silence on the
// clock channel (lost after 10s, degraded after 5s), then by the magnitude
// of the average drift.
func (t *Tracker) SyncQuality() Quality {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		return QualityNoData
	}

	silence := t.clock.Since(t.lastSync)
	switch {
	case silence > 10*time.Second:
		return QualityLost
	case silence > 5*time.Second:
		return QualityDegraded
	}

	avg := t.averageDriftLocked()
	if avg < 0 {
		avg = -avg
	}
	switch {
	case avg < 0.1:
		return QualityExcellent
	case avg < 0.5:
		return QualityGood
	case avg < 1.0:
		return QualityFair
	default:
		return QualityPoor
	}
}

// TrackerStats is a snapshot of the tracker for status reporting.
type TrackerStats struct {
	SampleCount  int     `json:"sample_count"`
	AverageDrift float64 `json:"average_drift"`
	Quality      string  `json:"sync_quality"`
	IsSynced     bool    `json:"is_synced"`
}

// Stats returns a consistent snapshot of the tracker.
func (t *Tracker) Stats() TrackerStats {
	quality := t.SyncQuality()
	synced := t.IsSynced(0)

	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerStats{
		SampleCount:  len(t.samples),
		AverageDrift: t.averageDriftLocked(),
		Quality:      quality.String(),
		IsSynced:     synced,
	}
}
