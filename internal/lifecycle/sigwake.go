package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/vkardon/tcproxy/internal/reactor"
)

// SignalWaker bridges Go's signal delivery (which runs on its own
// goroutine, outside the reactor's single-threaded world) to the
// reactor's cooperative Stop via the classic self-pipe trick: the
// signal-watching goroutine only ever does a non-blocking write into
// one end of a pipe, and the reactor's own registered read handler for
// the other end — running on the reactor's single goroutine — calls
// Stop. No reactor state is ever touched from outside that goroutine
// (§5 "Shared resources").
type SignalWaker struct {
	readFD, writeFD int
}

// NewSignalWaker creates the pipe and registers its read end with re,
// dispatching to re.Stop on wakeup.
func NewSignalWaker(re *reactor.Reactor) (*SignalWaker, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}

	w := &SignalWaker{readFD: fds[0], writeFD: fds[1]}
	drain := func(fd int) {
		var buf [16]byte
		for {
			n, err := unix.Read(fd, buf[:])
			if n <= 0 || err != nil {
				break
			}
		}
		re.Stop()
	}
	if err := re.Register(w.readFD, reactor.NoPeer, drain, nil); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return w, nil
}

// Watch blocks the calling goroutine until SIGINT/SIGTERM arrives or
// ctx is done, whichever happens first, then wakes the reactor by
// writing one byte to the self-pipe and returns. The caller runs it on
// its own goroutine (an errgroup member in main).
func (w *SignalWaker) Watch(ctx context.Context, log *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received signal, requesting shutdown", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}
	w.wake()
}

// wake performs the non-blocking write side of the self-pipe trick.
func (w *SignalWaker) wake() {
	unix.Write(w.writeFD, []byte{0})
}

// Close releases the pipe's descriptors.
func (w *SignalWaker) Close() {
	unix.Close(w.readFD)
	unix.Close(w.writeFD)
}
