package cue

import (
	"fmt"
	"path/filepath"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"
)

// LoadSMFFile converts a Standard MIDI File into a cue schedule. Event times
// come from the file's tempo map; only note and control change events are
// kept, everything else (program changes, meta events) is dropped.
func LoadSMFFile(path string) ([]Cue, error) {
	var cues []Cue

	rd := smf.ReadTracks(path).Do(func(te smf.TrackEvent) {
		var (
			ch, key, vel uint8
			cc, val      uint8
		)
		t := float64(te.AbsMicroSeconds) / 1e6

		switch {
		case te.Message.GetNoteStart(&ch, &key, &vel):
			cues = append(cues, Cue{
				Time: t, Type: NoteOn, Channel: int(ch) + 1,
				Note: int(key), Velocity: int(vel),
			})
		case te.Message.GetNoteEnd(&ch, &key):
			cues = append(cues, Cue{
				Time: t, Type: NoteOff, Channel: int(ch) + 1,
				Note: int(key),
			})
		case te.Message.GetControlChange(&ch, &cc, &val):
			cues = append(cues, Cue{
				Time: t, Type: ControlChange, Channel: int(ch) + 1,
				Control: int(cc), Value: int(val),
			})
		}
	})
	if err := rd.Error(); err != nil {
		return nil, fmt.Errorf("read midi file %s: %w", path, err)
	}

	return Sorted(cues), nil
}

// LoadFile loads a schedule from path, dispatching on the file extension:
// .mid/.midi via the SMF reader, everything else as a JSON cue array.
func LoadFile(path string) ([]Cue, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		return LoadSMFFile(path)
	default:
		return LoadJSONFile(path)
	}
}
