// Package perr provides structured error handling for the proxy engine.
package perr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions the engine distinguishes by kind
// rather than by wrapped cause.
var (
	// ErrAlreadyRunning indicates another instance holds the lock file.
	ErrAlreadyRunning = errors.New("another instance is already running")

	// ErrConfigInvalid indicates the configuration file is missing a
	// required key or carries an out-of-range value.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrNoRoute indicates no route matches a connecting source IP.
	ErrNoRoute = errors.New("no route for source address")

	// ErrNoTargetAddr indicates a host resolved to no usable address.
	ErrNoTargetAddr = errors.New("no IPv4 or IPv6 address available")

	// ErrFDLimitExceeded indicates a descriptor exceeds the reactor's ceiling.
	ErrFDLimitExceeded = errors.New("file descriptor exceeds reactor limit")
)

// ProxyError wraps an error with the operation, descriptor, and remote
// address it occurred on, the way a log line would describe it.
type ProxyError struct {
	Op         string // operation that failed, e.g. "accept", "connect"
	Fd         int    // descriptor involved, or -1 if not applicable
	RemoteAddr string // peer address, if known
	Err        error  // underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.RemoteAddr != "" {
		return fmt.Sprintf("%s fd=%d %s: %v", e.Op, e.Fd, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s fd=%d: %v", e.Op, e.Fd, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New creates a new ProxyError, or returns nil if err is nil.
func New(op string, fd int, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{Op: op, Fd: fd, RemoteAddr: remoteAddr, Err: err}
}

// Wrap adds a message to err, or returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
