package lifecycle

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vkardon/tcproxy/internal/perr"
)

// Guard holds the single-instance advisory lock (§4.G) for the
// process's lifetime; the lock is released implicitly when the process
// exits and fd is closed by the OS.
type Guard struct {
	fd int
}

// Acquire implements §4.G: open (creating if absent) the lock file at
// /tmp/<baseName>.lock and attempt a non-blocking exclusive advisory
// write-lock over the whole file. The lock is a POSIX record lock
// (fcntl F_SETLK): it conflicts with locks held by other processes
// only, so a second Acquire from the same process succeeds.
//
// Per the inherited leniency the redesign notes call out (§9 "single-
// instance guard"), an open or lock error OTHER than EACCES/EAGAIN is
// treated as "not running" and Acquire succeeds — only an explicit
// conflicting lock refuses startup.
func Acquire(baseName string) (*Guard, error) {
	path := fmt.Sprintf("/tmp/%s.lock", baseName)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return &Guard{fd: -1}, nil
	}

	lock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0, // SEEK_SET
		Start:  0,
		Len:    0, // to EOF
	}
	if err := unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &lock); err != nil {
		if err == unix.EACCES || err == unix.EAGAIN {
			unix.Close(fd)
			return nil, fmt.Errorf("%s: %w", baseName, perr.ErrAlreadyRunning)
		}
		return &Guard{fd: fd}, nil
	}

	return &Guard{fd: fd}, nil
}

// Release closes the lock descriptor, dropping the advisory lock.
func (g *Guard) Release() {
	if g != nil && g.fd >= 0 {
		unix.Close(g.fd)
		g.fd = -1
	}
}
