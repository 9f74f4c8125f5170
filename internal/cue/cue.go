package cue

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Type discriminates the trigger event a cue carries.
type Type string

const (
	NoteOn        Type = "note_on"
	NoteOff       Type = "note_off"
	ControlChange Type = "control_change"
)

// Cue is a single timed trigger event. Time is seconds from session start.
// Channel is 1..16. Note/Velocity apply to note events, Control/Value to
// control changes; the unused pair is omitted on the wire.
type Cue struct {
	Time     float64 `json:"time"`
	Type     Type    `json:"type"`
	Channel  int     `json:"channel"`
	Note     int     `json:"note,omitempty"`
	Velocity int     `json:"velocity,omitempty"`
	Control  int     `json:"control,omitempty"`
	Value    int     `json:"value,omitempty"`
}

// Sorted returns a copy of cues ordered ascending by time. Schedule sources
// are expected to deliver sorted cues already; this is the defensive sort
// applied on every load.
func Sorted(cues []Cue) []Cue {
	out := make([]Cue, len(cues))
	copy(out, cues)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// LoadJSONFile reads a schedule file containing a JSON array of cues.
func LoadJSONFile(path string) ([]Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	var cues []Cue
	if err := json.Unmarshal(data, &cues); err != nil {
		return nil, fmt.Errorf("parse schedule %s: %w", path, err)
	}
	return Sorted(cues), nil
}
