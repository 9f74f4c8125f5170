package transport

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"kitchensync/internal/platform/logger"
)

// tickCollector funnels received ticks into a channel the test can wait on.
type tickCollector struct {
	ticks chan float64
}

func newTickCollector() *tickCollector {
	return &tickCollector{ticks: make(chan float64, 64)}
}

func (c *tickCollector) handle(leaderTime float64, _ time.Time) {
	select {
	case c.ticks <- leaderTime:
	default:
	}
}

func TestClockBroadcaster_delivers_ticks_to_receiver(t *testing.T) {
	clock := clockwork.NewRealClock()
	collector := newTickCollector()

	recv := NewSyncReceiver(0, collector.handle, clock, logger.Nop(), nil)
	if err := recv.Start(); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	defer recv.Stop()

	b := NewClockBroadcaster(BroadcasterConfig{
		LeaderID: "leader-test",
		Target:   fmt.Sprintf("127.0.0.1:%d", recv.LocalPort()),
		Interval: MinTickInterval,
	}, clock, logger.Nop(), nil)
	if err := b.Start(clock.Now()); err != nil {
		t.Fatalf("start broadcaster: %v", err)
	}
	defer b.Stop()

	var got []float64
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case tick := <-collector.ticks:
			got = append(got, tick)
		case <-deadline:
			t.Fatalf("received %d ticks in 2s, want 3", len(got))
		}
	}

	// Elapsed time is monotone across ticks from a live session clock.
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Errorf("elapsed went backwards: %v", got)
		}
	}
}

func TestClockBroadcaster_uses_time_source(t *testing.T) {
	clock := clockwork.NewRealClock()
	collector := newTickCollector()

	recv := NewSyncReceiver(0, collector.handle, clock, logger.Nop(), nil)
	if err := recv.Start(); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	defer recv.Stop()

	b := NewClockBroadcaster(BroadcasterConfig{
		LeaderID:   "leader-test",
		Target:     fmt.Sprintf("127.0.0.1:%d", recv.LocalPort()),
		Interval:   MinTickInterval,
		TimeSource: func() (float64, bool) { return 123.5, true },
	}, clock, logger.Nop(), nil)
	if err := b.Start(clock.Now()); err != nil {
		t.Fatalf("start broadcaster: %v", err)
	}
	defer b.Stop()

	select {
	case tick := <-collector.ticks:
		if tick != 123.5 {
			t.Errorf("tick carried %f, want the source's 123.5", tick)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
}

func TestSyncReceiver_drops_malformed_and_non_sync(t *testing.T) {
	clock := clockwork.NewRealClock()
	collector := newTickCollector()

	recv := NewSyncReceiver(0, collector.handle, clock, logger.Nop(), nil)
	if err := recv.Start(); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	defer recv.Stop()

	conn, err := net.Dial("udp4", fmt.Sprintf("127.0.0.1:%d", recv.LocalPort()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte(`garbage`))
	conn.Write([]byte(`{"type":"stop"}`))
	data, _ := Encode(NewSync(7.25, "leader-test"))
	conn.Write(data)

	select {
	case tick := <-collector.ticks:
		if tick != 7.25 {
			t.Errorf("tick = %f, want 7.25", tick)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid tick was not delivered")
	}

	select {
	case tick := <-collector.ticks:
		t.Errorf("junk datagram reached the handler: %f", tick)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCommandChannel_broadcast_dispatches_by_kind(t *testing.T) {
	log := logger.Nop()

	var mu sync.Mutex
	var gotStops int
	done := make(chan struct{}, 1)

	receiver := NewCommandChannel(CommandConfig{Port: 0, Target: "127.0.0.1:9"}, log, nil)
	receiver.Handle(KindStop, func(msg Message, from *net.UDPAddr) {
		mu.Lock()
		gotStops++
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if err := receiver.Start(); err != nil {
		t.Fatalf("start receiving channel: %v", err)
	}
	defer receiver.Stop()

	sender := NewCommandChannel(CommandConfig{
		Port:   0,
		Target: fmt.Sprintf("127.0.0.1:%d", receiver.LocalPort()),
	}, log, nil)
	if err := sender.Start(); err != nil {
		t.Fatalf("start sending channel: %v", err)
	}
	defer sender.Stop()

	// A kind with no handler is ignored; the stop must still get through.
	if err := sender.Broadcast(NewHeartbeat("pi-one", "ready")); err != nil {
		t.Fatal(err)
	}
	if err := sender.Broadcast(NewStop()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop command never dispatched")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotStops != 1 {
		t.Errorf("stop handler ran %d times, want 1", gotStops)
	}
}

func TestCommandChannel_send_to_addressed_peer(t *testing.T) {
	log := logger.Nop()

	got := make(chan string, 1)
	receiver := NewCommandChannel(CommandConfig{Port: 0, Target: "127.0.0.1:9"}, log, nil)
	receiver.Handle(KindRegister, func(msg Message, from *net.UDPAddr) {
		reg := msg.(Register)
		select {
		case got <- reg.DeviceID:
		default:
		}
	})
	if err := receiver.Start(); err != nil {
		t.Fatal(err)
	}
	defer receiver.Stop()

	sender := NewCommandChannel(CommandConfig{Port: 0, Target: "127.0.0.1:9"}, log, nil)
	if err := sender.Start(); err != nil {
		t.Fatal(err)
	}
	defer sender.Stop()

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: receiver.LocalPort()}
	if err := sender.SendTo(addr, NewRegister("pi-two", "ready", "loop.mp4")); err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-got:
		if id != "pi-two" {
			t.Errorf("device id = %q, want pi-two", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("addressed register never arrived")
	}
}

func TestCommandChannel_broadcast_before_start_fails(t *testing.T) {
	c := NewCommandChannel(CommandConfig{Port: 0, Target: "127.0.0.1:9"}, logger.Nop(), nil)
	if err := c.Broadcast(NewStop()); err == nil {
		t.Error("expected error broadcasting on a stopped channel")
	}
}
