package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// mpvTimeout bounds each IPC round trip. mpv answers locally in well under
// this; a stuck socket should fail the query, not the whole sync loop.
const mpvTimeout = 2 * time.Second

// MPV drives an mpv instance through its JSON IPC socket. mpv must be
// launched externally with --input-ipc-server=<path>; this adapter only
// connects and speaks the request/response protocol, one line per message.
type MPV struct {
	mu     sync.Mutex
	conn   net.Conn
	rd     *bufio.Reader
	nextID int64
}

type mpvRequest struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type mpvResponse struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int64           `json:"request_id"`
	Event     string          `json:"event"`
}

// NewMPV connects to the mpv IPC socket at path.
func NewMPV(path string) (*MPV, error) {
	conn, err := net.DialTimeout("unix", path, mpvTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect mpv socket %s: %w", path, err)
	}
	return &MPV{conn: conn, rd: bufio.NewReader(conn), nextID: 1}, nil
}

// Close releases the IPC connection.
func (p *MPV) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}

// Load replaces the current media with the given file.
func (p *MPV) Load(path string) error {
	_, err := p.command("loadfile", path)
	return err
}

// Play unpauses playback.
func (p *MPV) Play() error {
	_, err := p.command("set_property", "pause", false)
	return err
}

// Stop pauses playback and rewinds to the start.
func (p *MPV) Stop() error {
	if _, err := p.command("set_property", "pause", true); err != nil {
		return err
	}
	_, err := p.command("set_property", "playback-time", 0.0)
	return err
}

// Position returns the current playback position in seconds.
func (p *MPV) Position() (float64, bool) {
	return p.floatProperty("playback-time")
}

// Duration returns the media duration in seconds.
func (p *MPV) Duration() (float64, bool) {
	return p.floatProperty("duration")
}

// SetPosition seeks to an absolute position in seconds.
func (p *MPV) SetPosition(seconds float64) error {
	_, err := p.command("set_property", "playback-time", seconds)
	return err
}

func (p *MPV) floatProperty(name string) (float64, bool) {
	data, err := p.command("get_property", name)
	if err != nil {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, false
	}
	return v, true
}

// command performs one synchronous request/response exchange. mpv may
// interleave asynchronous event lines; those are skipped until the reply
// carrying our request id arrives.
func (p *MPV) command(args ...any) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	req := mpvRequest{Command: args, RequestID: p.nextID}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode mpv request: %w", err)
	}
	data = append(data, '\n')

	deadline := time.Now().Add(mpvTimeout)
	p.conn.SetDeadline(deadline)
	if _, err := p.conn.Write(data); err != nil {
		return nil, fmt.Errorf("write mpv request: %w", err)
	}

	for {
		line, err := p.rd.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read mpv response: %w", err)
		}
		var resp mpvResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Event != "" || resp.RequestID != req.RequestID {
			continue
		}
		if resp.Error != "success" {
			return nil, fmt.Errorf("mpv: %s", resp.Error)
		}
		return resp.Data, nil
	}
}
