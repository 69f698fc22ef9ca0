package process

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned when a command is sent to a process that has
	// not been spawned or has already stopped.
	ErrNotRunning = errors.New("plugin process is not running")

	// ErrExited reports that the child exited while the session was live.
	ErrExited = errors.New("plugin process exited unexpectedly")

	// ErrHandshakeTimeout reports that no hello arrived within the handshake window.
	ErrHandshakeTimeout = errors.New("plugin handshake timed out")

	// ErrShutdown resolves calls still outstanding when the host shuts a process down.
	ErrShutdown = errors.New("plugin process shut down")

	// ErrBackpressure is returned by a transport whose outbound queue is full.
	ErrBackpressure = errors.New("plugin outbound queue is full")
)

// ProcessError is a spawn failure, an unexpected exit, or a session-fatal
// protocol failure of one plugin process. Every call outstanding on the
// process when it fails resolves to the same ProcessError.
type ProcessError struct {
	Path string
	Op   string
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
