// Package player is the media playback capability consumed by the sync
// engine. The engine never decodes or renders media; it only loads a file,
// starts and stops playback, and reads or sets the position.
package player

// Player is the narrow control surface of an external media player.
// Position and Duration report ok=false when the player has nothing to
// report (not playing, no media, query failed); callers treat that as
// "skip this check", not as an error.
type Player interface {
	Load(path string) error
	Play() error
	Stop() error
	Position() (seconds float64, ok bool)
	Duration() (seconds float64, ok bool)
	SetPosition(seconds float64) error
}

// Null is a Player for cue-only devices with no media output. All controls
// succeed and report no position.
type Null struct{}

// NewNull returns the no-op player.
func NewNull() *Null { return &Null{} }

func (*Null) Load(string) error            { return nil }
func (*Null) Play() error                  { return nil }
func (*Null) Stop() error                  { return nil }
func (*Null) Position() (float64, bool)    { return 0, false }
func (*Null) Duration() (float64, bool)    { return 0, false }
func (*Null) SetPosition(float64) error    { return nil }
