// Package control implements the named-FIFO command channel (spec
// §4.F): accumulate a single command until the writer closes its end,
// then parse, execute, and recreate the FIFO for the next command.
package control

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/vkardon/tcproxy/internal/reactor"
	"github.com/vkardon/tcproxy/internal/routing"
)

// Verbs recognised by the command grammar (§4.F), matched
// case-insensitively.
const (
	verbExit = "exit"
	verbAdd  = "add"
)

// Channel owns the control FIFO: its path, the reactor it is
// registered with, and the routing table `add` mutates.
//
// Each command consumes the FIFO: once the writer closes its end and
// the command has run, the FIFO is unlinked, recreated and reopened, so
// a writer must open the FIFO afresh for every command.
type Channel struct {
	path   string
	re     *reactor.Reactor
	routes *routing.Table
	log    *slog.Logger
	fd     int
}

// New derives the FIFO path from baseName (§6 "/tmp/<basename>.fifo")
// and creates a Channel bound to re and routes. Call Open to create
// and register the FIFO.
func New(baseName string, re *reactor.Reactor, routes *routing.Table, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		path:   fmt.Sprintf("/tmp/%s.fifo", baseName),
		re:     re,
		routes: routes,
		log:    log,
		fd:     reactor.NoPeer,
	}
}

// Open implements §4.F's startup sequence: unlink any stale FIFO,
// create a fresh one at mode 0620, open it read-only non-blocking, and
// register it for read-readiness with OnCommand.
func (c *Channel) Open() error {
	unix.Unlink(c.path) // stale FIFO from a previous run; absence is fine

	const mode = 0620
	if err := unix.Mkfifo(c.path, mode); err != nil {
		return fmt.Errorf("mkfifo %s: %w", c.path, err)
	}
	// Mkfifo's mode is filtered through the umask; set it explicitly.
	if err := unix.Chmod(c.path, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", c.path, err)
	}

	fd, err := unix.Open(c.path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.path, err)
	}
	c.fd = fd

	return c.re.Register(fd, reactor.NoPeer, c.OnCommand, nil)
}

// Close unregisters and closes the FIFO descriptor and unlinks the
// path, for use at process shutdown.
func (c *Channel) Close() {
	if c.fd != reactor.NoPeer {
		c.re.Unregister(c.fd)
		unix.Close(c.fd)
		c.fd = reactor.NoPeer
	}
	unix.Unlink(c.path)
}

// OnCommand accumulates bytes into the FIFO's staging buffer until the
// writer closes its end (read returns 0), at which point the
// accumulated text is trimmed, parsed, and executed (§4.F).
func (c *Channel) OnCommand(fd int) {
	slot, ok := c.re.Slot(fd)
	if !ok {
		c.log.Error("OnCommand: no slot for fd", slog.Int("fd", fd))
		return
	}

	n, err := unix.Read(fd, slot.Buf[slot.Len:])
	switch {
	case n == 0 && err == nil:
		cmd := strings.TrimSpace(string(slot.Buf[:slot.Len]))
		slot.Len = 0
		c.execute(cmd)
		// The `exit` command stops the reactor; don't reopen a FIFO that
		// will never be serviced again.
		if !c.re.Stopped() {
			c.reopen(fd)
		}
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
		return
	case err != nil:
		c.log.Error("OnCommand: read error", slog.Int("fd", fd), slog.String("error", err.Error()))
		slot.Len = 0
	default:
		slot.Len += n
	}
}

// reopen implements the "recreate and reopen the FIFO" half of §4.F:
// the current descriptor is spent (its writer closed it) and every
// future command needs a fresh open.
func (c *Channel) reopen(fd int) {
	c.re.Unregister(fd)
	unix.Close(fd)
	c.fd = reactor.NoPeer

	if err := c.Open(); err != nil {
		c.log.Error("recreate control FIFO failed", slog.String("error", err.Error()))
	}
}

// execute runs the command grammar of §4.F. Empty commands are
// silently ignored; unknown verbs are logged.
func (c *Channel) execute(cmd string) {
	if cmd == "" {
		return
	}

	fields := strings.Fields(cmd)
	verb := strings.ToLower(fields[0])

	switch verb {
	case verbExit:
		c.log.Info("exit command received")
		c.re.Stop()
	case verbAdd:
		c.executeAdd(strings.TrimSpace(strings.TrimPrefix(cmd, fields[0])))
	default:
		c.log.Warn("unknown command", slog.String("cmd", cmd))
	}
}

func (c *Channel) executeAdd(spec string) {
	source, target, port, err := routing.ParseSpec(spec)
	if err != nil {
		c.log.Error("add command rejected", slog.String("spec", spec), slog.String("error", err.Error()))
		return
	}
	if err := c.routes.Add(source, target, port); err != nil {
		c.log.Error("add command failed", slog.String("spec", spec), slog.String("error", err.Error()))
		return
	}
	c.log.Info("route added", slog.String("source", source), slog.String("target", target), slog.Int("port", int(port)))
}
