package process

import (
	"sync"
	"time"

	"github.com/kiorg/kiorg/pkg/plugin"
)

// FakeTransport is an in-memory Transport for tests. Tests script the
// plugin side with Reply, Exit and Corrupt.
type FakeTransport struct {
	// Respond, if set, is consulted on every Send. Returning ok queues msg
	// as the reply to that request.
	Respond func(req plugin.Request) (msg plugin.Message, ok bool)

	// SendErr, if set, is returned by every Send.
	SendErr error

	mu      sync.Mutex
	sent    []plugin.Request
	pending []plugin.Response
	recvErr error
	exited  bool
	exitErr error
	closed  bool
}

// NewFakeTransport returns a fake that answers Hello with md.
func NewFakeTransport(md plugin.Metadata) *FakeTransport {
	return &FakeTransport{Respond: RespondHello(md)}
}

// RespondHello answers Hello requests with md and leaves everything else
// to the test.
func RespondHello(md plugin.Metadata) func(plugin.Request) (plugin.Message, bool) {
	return func(req plugin.Request) (plugin.Message, bool) {
		if _, ok := req.Command.(plugin.Hello); ok {
			return plugin.HelloMessage{Metadata: md}, true
		}
		return nil, false
	}
}

// Launcher returns a launcher that hands out f.
func (f *FakeTransport) Launcher() Launcher {
	return func(string) (Transport, error) {
		return f, nil
	}
}

func (f *FakeTransport) Send(id plugin.CallID, cmd plugin.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SendErr != nil {
		return f.SendErr
	}
	if f.exited {
		return ErrExited
	}

	req := plugin.Request{ID: id, Command: cmd}
	f.sent = append(f.sent, req)
	if f.Respond != nil {
		if msg, ok := f.Respond(req); ok {
			f.pending = append(f.pending, plugin.Response{ID: id, Message: msg})
		}
	}
	return nil
}

func (f *FakeTransport) Receive() ([]plugin.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.pending
	f.pending = nil
	err := f.recvErr
	f.recvErr = nil
	return out, err
}

func (f *FakeTransport) Exited() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.exited, f.exitErr
}

func (f *FakeTransport) Pid() int {
	return 0
}

func (f *FakeTransport) Close(time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.exited = true
	return nil
}

// Reply queues msg as the plugin's answer to id.
func (f *FakeTransport) Reply(id plugin.CallID, msg plugin.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, plugin.Response{ID: id, Message: msg})
}

// Exit simulates the child exiting with err.
func (f *FakeTransport) Exit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exited = true
	f.exitErr = err
}

// Corrupt makes the next Receive fail with err.
func (f *FakeTransport) Corrupt(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recvErr = err
}

// Sent returns every request the host has sent.
func (f *FakeTransport) Sent() []plugin.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]plugin.Request(nil), f.sent...)
}

// Closed reports whether Close has been called.
func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}
