package process

import (
	"errors"
	"fmt"
	"net/rpc"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/kiorg/kiorg/pkg/plugin"
)

// RPCLauncher starts plugins that speak the go-plugin net/rpc transport.
// The go-plugin handshake runs in the background so launching never blocks.
func RPCLauncher(logger hclog.Logger) Launcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(path string) (Transport, error) {
		return startRPC(path, logger)
	}
}

type rpcTransport struct {
	client *goplugin.Client
	logger hclog.Logger

	ready    chan struct{}
	rpc      *plugin.PreviewRPCClient
	startErr error

	closed atomic.Bool

	mu      sync.Mutex
	results []plugin.Response
	failed  error
}

func startRPC(path string, logger hclog.Logger) (*rpcTransport, error) {
	// Fail missing or non-executable binaries synchronously, like stdio does.
	if _, err := exec.LookPath(path); err != nil {
		return nil, fmt.Errorf("failed to start plugin: %w", err)
	}
	return newRPCTransport(exec.Command(path), logger), nil
}

func newRPCTransport(cmd *exec.Cmd, logger hclog.Logger) *rpcTransport {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  plugin.Handshake,
		Plugins:          plugin.PluginMap,
		Cmd:              cmd,
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
		Logger:           logger.Named("go-plugin"),
	})

	t := &rpcTransport{
		client: client,
		logger: logger,
		ready:  make(chan struct{}),
	}
	go t.connect()
	return t
}

func (t *rpcTransport) connect() {
	defer close(t.ready)

	rpcClient, err := t.client.Client()
	if err != nil {
		t.startErr = fmt.Errorf("failed to connect to plugin: %w", err)
		return
	}

	raw, err := rpcClient.Dispense(plugin.RPCPluginName)
	if err != nil {
		t.startErr = fmt.Errorf("failed to dispense plugin: %w", err)
		return
	}

	client, ok := raw.(*plugin.PreviewRPCClient)
	if !ok {
		t.startErr = fmt.Errorf("unexpected plugin client type %T", raw)
		return
	}
	t.rpc = client
}

func (t *rpcTransport) Send(id plugin.CallID, cmd plugin.Command) error {
	if t.closed.Load() {
		return ErrShutdown
	}
	switch cmd.(type) {
	case plugin.Hello, plugin.Preview:
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}

	go func() {
		msg, err := t.call(cmd)
		if err != nil {
			// A server error is the plugin refusing one command. Anything
			// else means the connection is gone and the session with it.
			var serr rpc.ServerError
			if !errors.As(err, &serr) {
				t.fail(err)
				return
			}
			msg = plugin.ErrorResponse{Message: err.Error()}
		}

		t.mu.Lock()
		t.results = append(t.results, plugin.Response{ID: id, Message: msg})
		t.mu.Unlock()
	}()
	return nil
}

func (t *rpcTransport) call(cmd plugin.Command) (plugin.Message, error) {
	<-t.ready
	if t.startErr != nil {
		return nil, t.startErr
	}

	switch c := cmd.(type) {
	case plugin.Hello:
		md, err := t.rpc.Hello()
		if err != nil {
			return nil, err
		}
		return plugin.HelloMessage{Metadata: md}, nil
	case plugin.Preview:
		comps, err := t.rpc.Preview(c.Path)
		if err != nil {
			return nil, err
		}
		return plugin.PreviewResponse{Components: comps}, nil
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}

func (t *rpcTransport) fail(err error) {
	if t.closed.Load() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed == nil {
		t.failed = err
	}
}

func (t *rpcTransport) Receive() ([]plugin.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	results := t.results
	t.results = nil
	return results, nil
}

func (t *rpcTransport) Exited() (bool, error) {
	t.mu.Lock()
	failed := t.failed
	t.mu.Unlock()

	if failed != nil {
		return true, failed
	}
	if t.client.Exited() {
		return true, nil
	}
	return false, nil
}

func (t *rpcTransport) Pid() int {
	if cfg := t.client.ReattachConfig(); cfg != nil {
		return cfg.Pid
	}
	return 0
}

// Close asks go-plugin to stop the child. go-plugin applies its own grace
// period before killing, so grace is not consulted.
func (t *rpcTransport) Close(time.Duration) error {
	t.closed.Store(true)
	t.client.Kill()
	return nil
}
