// Package reactor implements the single-threaded, readiness-driven I/O
// loop: a per-descriptor read/write interest set, a blocking wait for
// readiness, and ascending-descriptor dispatch of registered handlers.
//
// The reactor owns no domain knowledge — no routes, no proxying. It is
// the mechanism spec.md §4.C describes; §4.D's pairing engine is built
// on top of it by registering HandlerFuncs that close over an *Engine.
package reactor

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/vkardon/tcproxy/internal/perr"
)

// MaxFD is the reactor's descriptor ceiling: one past the highest
// descriptor value it will track (descriptors must be below it),
// matching FD_SETSIZE on the platforms this targets (§5 "Limits").
const MaxFD = 1024

// minDispatchFD is the first descriptor the reactor dispatches handlers
// for; 0-2 are stdin/stdout/stderr and are never registered (§4.C).
const minDispatchFD = 3

// Reactor maintains the read/write interest sets and dispatches ready
// descriptors to their registered handlers, one wakeup batch at a time.
type Reactor struct {
	slots    map[int]*Slot
	readable map[int]struct{}
	writable map[int]struct{}
	logger   *slog.Logger
	stopped  bool
}

// New creates an empty Reactor.
func New(logger *slog.Logger) *Reactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reactor{
		slots:    make(map[int]*Slot),
		readable: make(map[int]struct{}),
		writable: make(map[int]struct{}),
		logger:   logger,
	}
}

// Slot returns the slot registered for fd, if any.
func (r *Reactor) Slot(fd int) (*Slot, bool) {
	s, ok := r.slots[fd]
	return s, ok
}

// Register installs read and/or write handlers for fd, paired with
// peer (or NoPeer). Either handler may be nil to omit that direction
// from the interest set. The slot for fd must not already exist.
func (r *Reactor) Register(fd, peer int, read, write HandlerFunc) error {
	if fd < 0 {
		return fmt.Errorf("reactor: invalid fd %d", fd)
	}
	if fd >= MaxFD {
		return perr.ErrFDLimitExceeded
	}
	if _, exists := r.slots[fd]; exists {
		return fmt.Errorf("reactor: fd %d already registered", fd)
	}

	s := newSlot(peer)
	s.ReadFn = read
	s.WriteFn = write
	r.slots[fd] = s

	if read != nil {
		r.readable[fd] = struct{}{}
	}
	if write != nil {
		r.writable[fd] = struct{}{}
	}
	return nil
}

// Unregister removes fd from both interest sets and resets its slot.
// Idempotent: unregistering an fd with no slot is a no-op.
func (r *Reactor) Unregister(fd int) {
	delete(r.readable, fd)
	delete(r.writable, fd)
	if s, ok := r.slots[fd]; ok {
		s.Reset()
	}
	delete(r.slots, fd)
}

// Stop requests that Run return after finishing the current dispatch
// batch. It is meant to be called from within a handler running on the
// reactor's own goroutine (the `exit` command, or a self-pipe signal
// handler) — there is exactly one goroutine mutating reactor state, so
// no synchronization is required (§5).
func (r *Reactor) Stop() {
	r.stopped = true
}

// Stopped reports whether Stop has been called.
func (r *Reactor) Stopped() bool {
	return r.stopped
}

// Run blocks, servicing readiness-driven handlers, until Stop is
// called, and then returns nil. A failing select(2) call does not end
// the loop: the failure is logged and the next iteration waits again.
func (r *Reactor) Run() error {
	for !r.stopped {
		if err := r.runOnce(); err != nil {
			return err
		}
	}
	return nil
}

// runOnce waits for one readiness batch and dispatches it.
func (r *Reactor) runOnce() error {
	var rset, wset unix.FdSet
	maxFD := minDispatchFD

	for fd := range r.readable {
		rset.Set(fd)
		if fd > maxFD {
			maxFD = fd
		}
	}
	for fd := range r.writable {
		wset.Set(fd)
		if fd > maxFD {
			maxFD = fd
		}
	}

	n, err := unix.Select(maxFD+1, &rset, &wset, nil, nil)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		r.logger.Error("select failed", slog.String("error", err.Error()))
		return nil
	}
	if n == 0 {
		return nil
	}

	for fd := minDispatchFD; fd < MaxFD; fd++ {
		if rset.IsSet(fd) {
			// Re-check the live (not snapshot) interest set: an earlier
			// handler in this same batch may have unregistered fd.
			if _, stillWanted := r.readable[fd]; stillWanted {
				if s, ok := r.slots[fd]; ok && s.ReadFn != nil {
					s.ReadFn(fd)
				}
			}
		}
		if wset.IsSet(fd) {
			if _, stillWanted := r.writable[fd]; stillWanted {
				if s, ok := r.slots[fd]; ok && s.WriteFn != nil {
					s.WriteFn(fd)
				}
			}
		}
	}
	return nil
}
