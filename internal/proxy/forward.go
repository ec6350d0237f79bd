package proxy

import (
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/vkardon/tcproxy/internal/reactor"
	"github.com/vkardon/tcproxy/internal/routing"
)

// OnRead implements §4.E's read half: fill the peer's staging buffer
// from fd, subject to the peer-buffer-not-empty backpressure rule.
func (e *Engine) OnRead(fd int) {
	slot, ok := e.re.Slot(fd)
	if !ok {
		return
	}
	peerSlot, ok := e.re.Slot(slot.Peer)
	if !ok {
		e.teardown(fd, slot.Peer)
		return
	}
	if peerSlot.Len != 0 {
		// Backpressure: the peer hasn't finished draining what's already
		// staged for it. Don't read more until it does.
		return
	}

	n, err := unix.Read(fd, peerSlot.Buf[:])
	switch {
	case n == 0 && err == nil:
		e.teardown(fd, slot.Peer)
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
		return
	case err != nil:
		e.log.Error("read failed, tearing down pair", slog.Int("fd", fd), slog.String("error", err.Error()))
		e.teardown(fd, slot.Peer)
	default:
		peerSlot.Len = n
	}
}

// OnWrite implements §4.E's write half: drain fd's own staging buffer,
// shifting any unsent suffix to the front on a partial write.
func (e *Engine) OnWrite(fd int) {
	slot, ok := e.re.Slot(fd)
	if !ok {
		return
	}
	if slot.Len == 0 {
		return
	}

	n, err := unix.Write(fd, slot.Buf[:slot.Len])
	switch {
	case n == 0 && err == nil:
		e.teardown(fd, slot.Peer)
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
		return
	case err != nil:
		e.log.Error("write failed, tearing down pair", slog.Int("fd", fd), slog.String("error", err.Error()))
		e.teardown(fd, slot.Peer)
	case n < slot.Len:
		copy(slot.Buf[:], slot.Buf[n:slot.Len])
		slot.Len -= n
	default:
		slot.Len = 0
	}
}

// teardown implements CloseSock (§4.D "Pair teardown"): close both
// descriptors, unregister their slots, and clear any route bound to
// either. Idempotent and order-independent — each half no-ops if its
// fd is NoPeer or already gone.
func (e *Engine) teardown(fd1, fd2 int) {
	for _, fd := range [2]int{fd1, fd2} {
		if fd == reactor.NoPeer {
			continue
		}
		unix.Close(fd)
		e.re.Unregister(fd)
		if rt, ok := e.routes.LookupByFD(fd); ok {
			rt.SourceFD = routing.NoFD
		}
		delete(e.sessions, fd)
	}
}
