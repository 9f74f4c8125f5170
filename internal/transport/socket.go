package transport

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// maxDatagram is the receive buffer size. Start commands carry the full cue
// schedule, so the buffer is sized well above typical control payloads.
const maxDatagram = 64 * 1024

// readTimeout bounds each blocking read so listener loops can observe their
// stop signal within one polling interval.
const readTimeout = 1 * time.Second

// listenBroadcastUDP binds a UDP socket on the given local port (0 picks an
// ephemeral port) with SO_BROADCAST set, so the same socket can both receive
// and send to the LAN broadcast address.
func listenBroadcastUDP(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}
	if err := setBroadcast(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// setBroadcast enables SO_BROADCAST on conn.
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("raw conn: %w", err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return fmt.Errorf("socket control: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("enable broadcast: %w", sockErr)
	}
	return nil
}

// isTimeout reports whether err is a read deadline expiry, the normal idle
// path of every listener loop.
func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
