package sockopt

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Listen creates the IPv4 listening socket per §6: INADDR_ANY, the
// configured port, backlog 5, SO_REUSEADDR, non-blocking. IPv6
// listening sockets are explicitly out of scope (§1 Non-goals).
func Listen(port uint16) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := EnableReuseAddr(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("SO_REUSEADDR: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%d: %w", port, err)
	}
	const backlog = 5
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	if err := SetNonblocking(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set non-blocking: %w", err)
	}
	return fd, nil
}

// DialNonblocking opens a TCP socket of the address family matching ip
// and starts a non-blocking connect to ip:port. "Connect in progress"
// (EINPROGRESS) is success per §4.D step 7; the caller registers the fd
// for write-readiness and the kernel reports completion there.
//
// Both IPv4 and IPv6 targets are supported by choosing the socket
// family from ip itself, rather than the original's AF_INET-only
// connect path (see the IPv6-targets redesign note).
func DialNonblocking(ip net.IP, port uint16) (fd int, err error) {
	family := unix.AF_INET
	if ip.To4() == nil {
		family = unix.AF_INET6
	}

	fd, err = unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := SetNonblocking(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set non-blocking: %w", err)
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		var addr4 [4]byte
		copy(addr4[:], ip.To4())
		sa = &unix.SockaddrInet4{Port: int(port), Addr: addr4}
	} else {
		var addr16 [16]byte
		copy(addr16[:], ip.To16())
		sa = &unix.SockaddrInet6{Port: int(port), Addr: addr16}
	}

	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("connect: %w", err)
	}
	return fd, nil
}
