// Package proxy implements the connection pairing engine (spec §4.D)
// and the forwarding buffer discipline (§4.E): accepting clients,
// selecting their route, opening the target connection, and shuttling
// bytes in both directions until either side disconnects.
package proxy

import (
	"log/slog"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/vkardon/tcproxy/internal/perr"
	"github.com/vkardon/tcproxy/internal/reactor"
	"github.com/vkardon/tcproxy/internal/routing"
	"github.com/vkardon/tcproxy/internal/sockopt"
)

// maxFD is the reactor's descriptor ceiling (§5 "Limits"); accepted or
// dialed descriptors at or beyond it are rejected.
const maxFD = reactor.MaxFD

// Engine owns the reactor and the routing table and implements the
// accept/connect/forward/teardown lifecycle of §4.D-E on top of them.
// It is driven entirely by reactor callbacks; there is exactly one
// goroutine calling into it (the reactor's own), so none of its state
// needs synchronization (§5).
type Engine struct {
	re     *reactor.Reactor
	routes *routing.Table
	log    *slog.Logger

	// listenFD is remembered so the listener can stay open across
	// transient accept errors (the accept-error redesign note) while
	// still being reachable for OnConnect re-registration if ever
	// needed.
	listenFD int

	// sessions maps each fd of an established pair to a correlation ID
	// shared by both fds. The ID groups log lines; CloseAll also walks
	// this map to find the pairs still open.
	sessions map[int]uuid.UUID
}

// New creates an Engine bound to re and routes. re must not be running
// yet; the caller registers the listener and FIFO separately.
func New(re *reactor.Reactor, routes *routing.Table, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		re:       re,
		routes:   routes,
		log:      log,
		listenFD: reactor.NoPeer,
		sessions: make(map[int]uuid.UUID),
	}
}

// ListenAndServe creates the listening socket on port and registers it
// with the reactor for read-readiness, dispatching to OnConnect (§6
// "Listening socket").
func (e *Engine) ListenAndServe(port uint16) error {
	fd, err := sockopt.Listen(port)
	if err != nil {
		return err
	}
	e.listenFD = fd
	return e.re.Register(fd, reactor.NoPeer, e.OnConnect, nil)
}

// OnConnect is the listener's read handler: accept one client, route
// it, dial its target, and register the pair (§4.D steps 1-9).
func (e *Engine) OnConnect(listenFD int) {
	clientFD, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		// A hard accept error closes the listener — the inherited
		// behavior the redesign note calls out as likely a bug. We keep
		// the listener open and only log, since the note recommends not
		// reproducing it.
		e.log.Error("accept failed, listener remains open", slog.String("error", err.Error()))
		return
	}

	if clientFD >= maxFD {
		e.log.Warn("rejecting client beyond descriptor ceiling", slog.Int("fd", clientFD))
		unix.Close(clientFD)
		return
	}

	if err := sockopt.ApplyConnPolicy(clientFD); err != nil {
		e.log.Error("apply conn policy to client", slog.String("error", err.Error()))
		unix.Close(clientFD)
		return
	}

	sourceIP := sourceIPFromSockaddr(sa)
	rt, ok := e.routes.LookupByIP(sourceIP)
	if !ok {
		err := perr.New("route_lookup", clientFD, sourceIP, perr.ErrNoRoute)
		e.log.Debug("no route for source, dropping", slog.String("error", err.Error()))
		unix.Close(clientFD)
		return
	}

	targetFD, err := sockopt.DialNonblocking(net.ParseIP(rt.TargetIP), rt.TargetPort)
	if err != nil {
		e.log.Error("dial target failed", slog.String("target", rt.TargetIP), slog.String("error", err.Error()))
		unix.Close(clientFD)
		return
	}
	if targetFD >= maxFD {
		e.log.Warn("rejecting target fd beyond descriptor ceiling", slog.Int("fd", targetFD))
		unix.Close(clientFD)
		unix.Close(targetFD)
		return
	}
	if err := sockopt.ApplyConnPolicy(targetFD); err != nil {
		e.log.Error("apply conn policy to target", slog.String("error", err.Error()))
		unix.Close(clientFD)
		unix.Close(targetFD)
		return
	}

	if err := e.re.Register(clientFD, targetFD, e.OnRead, e.OnWrite); err != nil {
		e.log.Error("register client fd", slog.String("error", err.Error()))
		unix.Close(clientFD)
		unix.Close(targetFD)
		return
	}
	if err := e.re.Register(targetFD, clientFD, e.OnRead, e.OnWrite); err != nil {
		e.log.Error("register target fd", slog.String("error", err.Error()))
		e.re.Unregister(clientFD)
		unix.Close(clientFD)
		unix.Close(targetFD)
		return
	}

	rt.SourceFD = clientFD

	sessionID := uuid.New()
	e.sessions[clientFD] = sessionID
	e.sessions[targetFD] = sessionID
	e.log.Info("pair established",
		slog.String("session", sessionID.String()),
		slog.String("source_ip", sourceIP),
		slog.Int("client_fd", clientFD),
		slog.Int("target_fd", targetFD),
		slog.String("target", rt.TargetIP))
}

// Close closes the listening socket. Established pairs are left to
// CloseAll; Close only needs to stop new accepts.
func (e *Engine) Close() {
	if e.listenFD == reactor.NoPeer {
		return
	}
	e.re.Unregister(e.listenFD)
	unix.Close(e.listenFD)
	e.listenFD = reactor.NoPeer
}

// CloseAll tears down every established client/target pair still
// registered with the reactor, mirroring the original's destructor
// walking its connection table and closing each fd on shutdown
// (original_source/tcproxy.cpp ~CTcpProxy). Callers run this once, after
// the reactor loop has returned and before the process exits.
func (e *Engine) CloseAll() {
	for fd := range e.sessions {
		peer := reactor.NoPeer
		if slot, ok := e.re.Slot(fd); ok {
			peer = slot.Peer
		}
		e.teardown(fd, peer)
	}
}

func sourceIPFromSockaddr(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(v.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(v.Addr[:]).String()
	default:
		return ""
	}
}
