// Package transport carries the sync engine's wire traffic: single-datagram
// JSON messages over two UDP broadcast channels, a leader-to-all clock
// channel and a bidirectional control channel. Delivery is lossy by design;
// nothing here retries or acknowledges.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"kitchensync/internal/cue"
)

// Kind discriminates wire messages. The set is closed: anything else is
// dropped at the decode boundary.
type Kind string

const (
	KindSync           Kind = "sync"
	KindStart          Kind = "start"
	KindStop           Kind = "stop"
	KindUpdateSchedule Kind = "update_schedule"
	KindRegister       Kind = "register"
	KindHeartbeat      Kind = "heartbeat"
)

// ErrUnknownKind marks a datagram whose type tag is not in the closed set.
var ErrUnknownKind = errors.New("unknown message kind")

// Message is one decoded wire message. The concrete types below are the
// complete set.
type Message interface {
	Kind() Kind
}

// Sync is the leader's periodic clock tick.
type Sync struct {
	Type     Kind    `json:"type"`
	Time     float64 `json:"time"` // leader elapsed seconds
	LeaderID string  `json:"leader_id"`
}

// Start tells collaborators to begin a session.
type Start struct {
	Type      Kind      `json:"type"`
	Schedule  []cue.Cue `json:"schedule"`
	StartTime float64   `json:"start_time"` // unix seconds
	DebugMode bool      `json:"debug_mode"`
}

// Stop tells collaborators to end the session.
type Stop struct {
	Type Kind `json:"type"`
}

// UpdateSchedule replaces the cue schedule mid-session.
type UpdateSchedule struct {
	Type     Kind      `json:"type"`
	Schedule []cue.Cue `json:"schedule"`
}

// Register announces a collaborator to the leader.
type Register struct {
	Type      Kind   `json:"type"`
	DeviceID  string `json:"device_id"`
	Status    string `json:"status"`
	VideoFile string `json:"video_file"`
}

// Heartbeat refreshes a collaborator's liveness on the leader.
type Heartbeat struct {
	Type     Kind   `json:"type"`
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}

func (Sync) Kind() Kind           { return KindSync }
func (Start) Kind() Kind          { return KindStart }
func (Stop) Kind() Kind           { return KindStop }
func (UpdateSchedule) Kind() Kind { return KindUpdateSchedule }
func (Register) Kind() Kind       { return KindRegister }
func (Heartbeat) Kind() Kind      { return KindHeartbeat }

// NewSync builds a clock tick.
func NewSync(elapsed float64, leaderID string) Sync {
	return Sync{Type: KindSync, Time: elapsed, LeaderID: leaderID}
}

// NewStart builds a session start command.
func NewStart(schedule []cue.Cue, startTime float64, debug bool) Start {
	return Start{Type: KindStart, Schedule: schedule, StartTime: startTime, DebugMode: debug}
}

// NewStop builds a session stop command.
func NewStop() Stop {
	return Stop{Type: KindStop}
}

// NewUpdateSchedule builds a schedule replacement command.
func NewUpdateSchedule(schedule []cue.Cue) UpdateSchedule {
	return UpdateSchedule{Type: KindUpdateSchedule, Schedule: schedule}
}

// NewRegister builds a collaborator registration.
func NewRegister(deviceID, status, videoFile string) Register {
	return Register{Type: KindRegister, DeviceID: deviceID, Status: status, VideoFile: videoFile}
}

// NewHeartbeat builds a collaborator heartbeat.
func NewHeartbeat(deviceID, status string) Heartbeat {
	return Heartbeat{Type: KindHeartbeat, DeviceID: deviceID, Status: status}
}

// Encode marshals a message into a single JSON datagram.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses one datagram into its typed message. Malformed payloads and
// unknown kinds return an error; callers drop the datagram either way.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch probe.Type {
	case KindSync:
		var m Sync
		return m, json.Unmarshal(data, &m)
	case KindStart:
		var m Start
		return m, json.Unmarshal(data, &m)
	case KindStop:
		var m Stop
		return m, json.Unmarshal(data, &m)
	case KindUpdateSchedule:
		var m UpdateSchedule
		return m, json.Unmarshal(data, &m)
	case KindRegister:
		var m Register
		return m, json.Unmarshal(data, &m)
	case KindHeartbeat:
		var m Heartbeat
		return m, json.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, probe.Type)
	}
}
