package process

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kiorg/kiorg/internal/plugin/protocol"
	"github.com/kiorg/kiorg/pkg/plugin"
)

// Transport is the byte-level connection to one running plugin executable.
// None of its methods block on the plugin.
type Transport interface {
	// Send queues cmd for delivery under id.
	Send(id plugin.CallID, cmd plugin.Command) error

	// Receive returns every response decoded since the previous call. A
	// *plugin.ProtocolError means the plugin wrote a malformed frame.
	Receive() ([]plugin.Response, error)

	// Exited reports whether the child has gone away and why. Any output it
	// produced before exiting is available to Receive by the time Exited
	// reports true.
	Exited() (bool, error)

	// Pid returns the OS process id, or 0 when it is not known yet.
	Pid() int

	// Close stops the child, killing it if it has not exited after grace.
	Close(grace time.Duration) error
}

// Launcher starts the executable at path and returns its transport.
type Launcher func(path string) (Transport, error)

// LauncherFor returns the launcher for a protocol kind.
func LauncherFor(kind protocol.Kind, logger hclog.Logger) Launcher {
	if kind == protocol.KindGoPlugin {
		return RPCLauncher(logger)
	}
	return StdioLauncher(logger)
}
