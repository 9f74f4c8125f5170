package synctrack

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Corrector defaults. The median filter plus the cooldown suppress
// correction oscillation on noisy position reads while still tracking
// genuine drift; repeated seeking causes visible stutter.
const (
	DefaultDeviationThreshold  = 0.5
	DefaultCorrectionCooldown  = 3 * time.Second
	DefaultMinDeviationSamples = 5
	DefaultMaxDeviationSamples = 10
)

// PositionSetter is the slice of the media player the corrector needs.
type PositionSetter interface {
	SetPosition(seconds float64) error
}

// CorrectorConfig tunes the playback sync corrector. Zero values select the
// package defaults.
type CorrectorConfig struct {
	// DeviationThreshold is the median deviation, in seconds, beyond which
	// a correction is issued.
	DeviationThreshold float64
	// CorrectionCooldown is the minimum spacing between corrections.
	CorrectionCooldown time.Duration
	// MinSamples is how many deviation samples must accumulate before the
	// median is considered meaningful.
	MinSamples int
	// MaxSamples bounds the deviation window.
	MaxSamples int
}

func (c CorrectorConfig) withDefaults() CorrectorConfig {
	if c.DeviationThreshold <= 0 {
		c.DeviationThreshold = DefaultDeviationThreshold
	}
	if c.CorrectionCooldown <= 0 {
		c.CorrectionCooldown = DefaultCorrectionCooldown
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinDeviationSamples
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = DefaultMaxDeviationSamples
	}
	return c
}

// Corrector compares the reported media position against the position the
// synchronized clock implies and issues rate-limited seek commands when the
// median deviation exceeds the threshold.
type Corrector struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	cfg    CorrectorConfig
	player PositionSetter
	log    *slog.Logger

	samples        []float64
	lastCorrection time.Time
	corrections    uint64
}

// NewCorrector returns a Corrector driving the given player.
func NewCorrector(player PositionSetter, cfg CorrectorConfig, clock clockwork.Clock, log *slog.Logger) *Corrector {
	return &Corrector{
		clock:  clock,
		cfg:    cfg.withDefaults(),
		player: player,
		log:    log,
	}
}

// Check ingests one deviation sample (actual − expected, in seconds) and
// issues a seek to expected when the window median crosses the threshold and
// the cooldown has elapsed. It reports whether a correction was applied.
// A failed seek is a no-op: the window is kept for the next check.
func (c *Corrector) Check(expected, actual float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, actual-expected)
	if len(c.samples) > c.cfg.MaxSamples {
		c.samples = c.samples[1:]
	}

	if len(c.samples) < c.cfg.MinSamples {
		return false
	}

	median := medianOf(c.samples)
	if math.Abs(median) <= c.cfg.DeviationThreshold {
		return false
	}

	now := c.clock.Now()
	if !c.lastCorrection.IsZero() && now.Sub(c.lastCorrection) < c.cfg.CorrectionCooldown {
		return false
	}

	if err := c.player.SetPosition(expected); err != nil {
		c.log.Error("position correction failed",
			slog.Float64("target", expected),
			slog.String("error", err.Error()))
		return false
	}

	c.log.Info("position corrected",
		slog.Float64("median_deviation", median),
		slog.Float64("target", expected))
	c.lastCorrection = now
	c.samples = c.samples[:0]
	c.corrections++
	return true
}

// Reset clears the deviation window, e.g. on session stop or a new start.
func (c *Corrector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = c.samples[:0]
}

// Corrections returns how many corrections have been applied.
func (c *Corrector) Corrections() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrections
}

// medianOf returns the upper median of samples. Odd windows get the true
// median; even windows the higher of the two middle values.
func medianOf(samples []float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
