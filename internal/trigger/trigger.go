// Package trigger emits fired cues to the outside world. The real output is
// a MIDI port; the log sink stands in on devices with no MIDI hardware.
package trigger

import (
	"fmt"
	"log/slog"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register the MIDI driver

	"kitchensync/internal/cue"
)

// LogSink logs each fired cue instead of emitting it. Used when no MIDI
// port is configured and in tests.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a sink that writes cues to log.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Send implements cue.Sink.
func (s *LogSink) Send(c cue.Cue) error {
	s.log.Info("cue fired",
		slog.Float64("time", c.Time),
		slog.String("type", string(c.Type)),
		slog.Int("channel", c.Channel))
	return nil
}

// MIDISink sends fired cues to a MIDI output port.
type MIDISink struct {
	out  drivers.Out
	send func(midi.Message) error
}

// NewMIDISink opens the first MIDI output port whose name contains portName.
func NewMIDISink(portName string) (*MIDISink, error) {
	out, err := midi.FindOutPort(portName)
	if err != nil {
		return nil, fmt.Errorf("find midi out %q: %w", portName, err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("open midi out %q: %w", portName, err)
	}
	return &MIDISink{out: out, send: send}, nil
}

// Send implements cue.Sink. Cue channels are 1..16 on the wire and 0..15 in
// MIDI messages. Unknown cue types are dropped without error; the schedule
// source already filtered to the supported set.
func (s *MIDISink) Send(c cue.Cue) error {
	ch := uint8(c.Channel - 1)
	switch c.Type {
	case cue.NoteOn:
		return s.send(midi.NoteOn(ch, uint8(c.Note), uint8(c.Velocity)))
	case cue.NoteOff:
		return s.send(midi.NoteOff(ch, uint8(c.Note)))
	case cue.ControlChange:
		return s.send(midi.ControlChange(ch, uint8(c.Control), uint8(c.Value)))
	default:
		return nil
	}
}

// Close releases the MIDI port.
func (s *MIDISink) Close() error {
	return s.out.Close()
}
