// Package sockopt applies the non-blocking/keepalive/reuseaddr policy
// (spec §4.H) uniformly to every socket the proxy owns, using raw
// golang.org/x/sys/unix calls rather than the net package — the reactor
// needs bare descriptors it can hand to select(2) and read(2)/write(2)
// directly, not the buffering and deadline machinery net.Conn carries.
package sockopt

import (
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// SetNonblocking puts fd into O_NONBLOCK mode. Required on every
// descriptor the reactor owns (listener, accepted client, outbound
// target, FIFO) per §4.H.
func SetNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// EnableKeepalive turns on SO_KEEPALIVE so a dead peer's connection
// eventually times out instead of hanging forever (§4.H). Only
// meaningful on TCP sockets; callers must not apply it to the FIFO.
func EnableKeepalive(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}

// EnableReuseAddr sets SO_REUSEADDR, used only on the listening socket
// so a restart does not fail with "address already in use" while the
// previous instance's sockets are draining in TIME_WAIT.
func EnableReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// ApplyConnPolicy is the combined non-blocking + keepalive policy every
// accepted or outbound TCP socket receives before it is registered with
// the reactor (§4.D steps 3 and 6).
func ApplyConnPolicy(fd int) error {
	if err := SetNonblocking(fd); err != nil {
		return err
	}
	return EnableKeepalive(fd)
}

// IgnoreSIGPIPE sets the process-wide SIGPIPE disposition to ignore, the
// fallback when SO_NOSIGPIPE is unavailable (it is not exposed on
// Linux) — a one-shot process initialization step, not part of the
// reactor's per-socket contract (§4.H, §9 "Signal discipline").
func IgnoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}
