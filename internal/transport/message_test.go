package transport

import (
	"errors"
	"testing"
	"time"

	"kitchensync/internal/cue"
)

func TestDecode_round_trips_each_kind(t *testing.T) {
	schedule := []cue.Cue{{Time: 0.5, Type: cue.NoteOn, Channel: 1, Note: 60, Velocity: 100}}

	messages := []Message{
		NewSync(12.5, "leader-a"),
		NewStart(schedule, 1724500000.25, true),
		NewStop(),
		NewUpdateSchedule(schedule),
		NewRegister("pi-one", "ready", "loop.mp4"),
		NewHeartbeat("pi-one", "playing"),
	}

	for _, m := range messages {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("encode %s: %v", m.Kind(), err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %s: %v", m.Kind(), err)
		}
		if decoded.Kind() != m.Kind() {
			t.Errorf("kind changed in transit: sent %s, got %s", m.Kind(), decoded.Kind())
		}
	}
}

func TestDecode_sync_fields(t *testing.T) {
	data := []byte(`{"type":"sync","time":42.375,"leader_id":"leader-a"}`)

	msg, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	tick, ok := msg.(Sync)
	if !ok {
		t.Fatalf("expected Sync, got %T", msg)
	}
	if tick.Time != 42.375 || tick.LeaderID != "leader-a" {
		t.Errorf("unexpected tick: %+v", tick)
	}
}

func TestDecode_start_carries_schedule(t *testing.T) {
	data := []byte(`{"type":"start","schedule":[{"time":1.5,"type":"note_on","channel":1,"note":60}],"start_time":1724500000}`)

	msg, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	start, ok := msg.(Start)
	if !ok {
		t.Fatalf("expected Start, got %T", msg)
	}
	if len(start.Schedule) != 1 || start.Schedule[0].Note != 60 {
		t.Errorf("schedule not decoded: %+v", start)
	}
	if start.DebugMode {
		t.Error("absent debug_mode decoded as true")
	}
}

func TestDecode_unknown_kind(t *testing.T) {
	_, err := Decode([]byte(`{"type":"reboot"}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDecode_malformed(t *testing.T) {
	for _, data := range [][]byte{
		[]byte(`{"type":`),
		[]byte(`not json at all`),
		[]byte(``),
	} {
		if _, err := Decode(data); err == nil {
			t.Errorf("expected error for %q", data)
		}
	}
}

func TestDecode_missing_type_tag(t *testing.T) {
	_, err := Decode([]byte(`{"time":1.0}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind for untagged payload, got %v", err)
	}
}

func TestClampTickInterval(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"0s", "100ms"},
		{"-1s", "100ms"},
		{"5ms", "20ms"},
		{"250ms", "250ms"},
		{"1m", "5s"},
	}
	for _, tc := range cases {
		in := mustDuration(t, tc.in)
		if got := ClampTickInterval(in); got != mustDuration(t, tc.want) {
			t.Errorf("ClampTickInterval(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func mustDuration(t *testing.T, s string) time.Duration {
	t.Helper()
	d, err := time.ParseDuration(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
