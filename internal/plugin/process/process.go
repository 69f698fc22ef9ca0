// Package process supervises one plugin executable: it spawns the child,
// drives the hello handshake, sends commands without blocking, and
// correlates responses on every poll.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kiorg/kiorg/internal/plugin/correlator"
	"github.com/kiorg/kiorg/internal/plugin/protocol"
	"github.com/kiorg/kiorg/pkg/plugin"
)

const (
	// DefaultShutdownGrace is how long a stopping plugin may take to exit
	// after its input is closed.
	DefaultShutdownGrace = 500 * time.Millisecond

	handshakePollInterval = 5 * time.Millisecond
)

// State is the lifecycle state of a plugin process.
type State int

const (
	NotStarted State = iota
	Spawning
	Handshaking
	Ready
	AwaitingResponses
	Terminated
	Crashed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Spawning:
		return "spawning"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case AwaitingResponses:
		return "awaiting-responses"
	case Terminated:
		return "terminated"
	case Crashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Live reports whether the state belongs to a running session.
func (s State) Live() bool {
	switch s {
	case Spawning, Handshaking, Ready, AwaitingResponses:
		return true
	default:
		return false
	}
}

// Result is one resolved call. Exactly one of Message and Err is set.
type Result struct {
	ID      plugin.CallID
	Call    correlator.Call
	Message plugin.Message
	Err     error
}

// Options configures a Process.
type Options struct {
	Logger        hclog.Logger
	Sequence      *correlator.Sequence
	Launch        Launcher
	ShutdownGrace time.Duration
	Clock         func() time.Time
}

type queuedCommand struct {
	call correlator.Call
	cmd  plugin.Command
}

// Process owns one plugin executable. Its methods are safe for concurrent
// use but none of them wait on the plugin except Handshake and Shutdown.
type Process struct {
	path   string
	logger hclog.Logger
	launch Launcher
	grace  time.Duration
	now    func() time.Time
	calls  *correlator.Table

	mu       sync.Mutex
	state    State
	tr       Transport
	meta     plugin.Metadata
	err      error
	deadline time.Time
	queued   []queuedCommand
	backlog  []Result
}

// New creates a process handle for the executable at path. Nothing is
// started until Spawn.
func New(path string, opts Options) *Process {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.With("plugin", path)

	launch := opts.Launch
	if launch == nil {
		launch = StdioLauncher(logger)
	}
	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Process{
		path:   path,
		logger: logger,
		launch: launch,
		grace:  grace,
		now:    now,
		calls:  correlator.NewTable(opts.Sequence),
	}
}

// Path returns the executable path.
func (p *Process) Path() string {
	return p.path
}

// Spawn starts the executable. Spawning a live process is a no-op. A
// failure leaves the process Crashed and is returned as a *ProcessError.
func (p *Process) Spawn() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Live() {
		return nil
	}

	p.state = Spawning
	p.err = nil
	p.meta = plugin.Metadata{}

	tr, err := p.launch(p.path)
	if err != nil {
		p.state = Crashed
		p.err = &ProcessError{Path: p.path, Op: "spawn", Err: err}
		p.logger.Warn("failed to spawn plugin", "error", err)
		return p.err
	}

	p.tr = tr
	p.logger.Debug("plugin spawned", "pid", tr.Pid())
	return nil
}

// BeginHandshake sends Hello and returns without waiting. The handshake
// completes on a later Poll, or the process crashes once timeout elapses.
// A handshake already underway or done is left alone.
func (p *Process) BeginHandshake(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Spawning:
	case Handshaking, Ready, AwaitingResponses:
		return nil
	default:
		return &ProcessError{Path: p.path, Op: "handshake", Err: fmt.Errorf("cannot handshake in state %s", p.state)}
	}

	call := p.calls.Issue(correlator.KindHello, "")
	if err := p.tr.Send(call.ID, plugin.Hello{}); err != nil {
		p.calls.Cancel(call.ID)
		p.backlog = append(p.backlog, p.crashLocked("handshake", err)...)
		return p.err
	}

	p.deadline = p.now().Add(timeout)
	p.state = Handshaking
	return nil
}

// Handshake sends Hello and polls until the plugin answers, timeout
// elapses, or ctx is done. Results for other calls seen while waiting are
// kept for the next Poll.
func (p *Process) Handshake(ctx context.Context, timeout time.Duration) (plugin.Metadata, error) {
	if err := p.BeginHandshake(timeout); err != nil {
		return plugin.Metadata{}, err
	}

	ticker := time.NewTicker(handshakePollInterval)
	defer ticker.Stop()

	for {
		results := p.Poll()

		p.mu.Lock()
		p.backlog = append(results, p.backlog...)
		state, meta, err := p.state, p.meta, p.err
		p.mu.Unlock()

		switch state {
		case Ready, AwaitingResponses:
			return meta, nil
		case Crashed, Terminated:
			if err == nil {
				err = &ProcessError{Path: p.path, Op: "handshake", Err: ErrShutdown}
			}
			return plugin.Metadata{}, err
		}

		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.backlog = append(p.backlog, p.crashLocked("handshake", ctx.Err())...)
			err := p.err
			p.mu.Unlock()
			return plugin.Metadata{}, err
		case <-ticker.C:
		}
	}
}

// Send issues a call id for cmd and hands the command to the transport.
// Commands sent before the handshake completes are held and flushed once
// the plugin has said hello.
func (p *Process) Send(cmd plugin.Command) (plugin.CallID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.Live() {
		return 0, &ProcessError{Path: p.path, Op: "send", Err: ErrNotRunning}
	}

	var kind correlator.Kind
	var path string
	switch c := cmd.(type) {
	case plugin.Preview:
		kind, path = correlator.KindPreview, c.Path
	case plugin.Hello:
		return 0, &ProcessError{Path: p.path, Op: "send", Err: errors.New("hello is only sent by the handshake")}
	default:
		return 0, &ProcessError{Path: p.path, Op: "send", Err: fmt.Errorf("unsupported command %T", cmd)}
	}

	call := p.calls.Issue(kind, path)
	if p.state == Spawning || p.state == Handshaking {
		p.queued = append(p.queued, queuedCommand{call: call, cmd: cmd})
		return call.ID, nil
	}

	if err := p.tr.Send(call.ID, cmd); err != nil {
		p.calls.Cancel(call.ID)
		return 0, &ProcessError{Path: p.path, Op: "send", Err: err}
	}
	return call.ID, nil
}

// Cancel retires an outstanding call. A response that arrives for it later
// is dropped. The plugin is not told.
func (p *Process) Cancel(id plugin.CallID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, q := range p.queued {
		if q.call.ID == id {
			p.queued = append(p.queued[:i], p.queued[i+1:]...)
			break
		}
	}
	return p.calls.Cancel(id)
}

// Poll returns every call resolved since the previous poll, in the order
// the plugin answered. It never blocks. If the child has exited or broke
// the protocol, every outstanding call resolves to a *ProcessError and the
// process becomes Crashed.
func (p *Process) Poll() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	results := p.backlog
	p.backlog = nil

	if p.tr == nil || !p.state.Live() {
		return results
	}

	// Snapshot liveness before draining so output written just before exit
	// is delivered ahead of the crash.
	exited, exitErr := p.tr.Exited()
	responses, recvErr := p.tr.Receive()

	for _, resp := range responses {
		results = append(results, p.handleLocked(resp)...)
		if !p.state.Live() {
			return results
		}
	}

	switch {
	case recvErr != nil:
		results = append(results, p.crashLocked("receive", recvErr)...)
	case exited:
		cause := ErrExited
		if exitErr != nil {
			cause = fmt.Errorf("%w: %w", ErrExited, exitErr)
		}
		results = append(results, p.crashLocked("wait", cause)...)
	case p.state == Handshaking && !p.now().Before(p.deadline):
		results = append(results, p.crashLocked("handshake", ErrHandshakeTimeout)...)
	}
	return results
}

func (p *Process) handleLocked(resp plugin.Response) []Result {
	call, ok := p.calls.Resolve(resp.ID)
	if !ok {
		p.logger.Debug("dropping response for call that is not outstanding", "id", resp.ID)
		return nil
	}

	if call.Kind == correlator.KindHello {
		return p.completeHandshakeLocked(resp.Message)
	}
	return []Result{{ID: resp.ID, Call: call, Message: resp.Message}}
}

func (p *Process) completeHandshakeLocked(msg plugin.Message) []Result {
	var hello plugin.HelloMessage
	switch m := msg.(type) {
	case plugin.HelloMessage:
		hello = m
	case plugin.ErrorResponse:
		return p.crashLocked("handshake", fmt.Errorf("plugin rejected hello: %s", m.Message))
	default:
		return p.crashLocked("handshake", fmt.Errorf("expected hello message, got %T", msg))
	}

	if hello.Metadata.Name == "" {
		return p.crashLocked("handshake", errors.New("plugin metadata has no name"))
	}
	if err := protocol.CheckCompatible(hello.Metadata.ProtocolVersion); err != nil {
		return p.crashLocked("handshake", err)
	}

	p.meta = hello.Metadata
	p.state = Ready
	p.logger.Debug("plugin handshake complete", "name", hello.Metadata.Name, "version", hello.Metadata.Version)

	var results []Result
	for _, q := range p.queued {
		if _, ok := p.calls.Lookup(q.call.ID); !ok {
			continue
		}
		if err := p.tr.Send(q.call.ID, q.cmd); err != nil {
			p.calls.Cancel(q.call.ID)
			results = append(results, Result{
				ID:   q.call.ID,
				Call: q.call,
				Err:  &ProcessError{Path: p.path, Op: "send", Err: err},
			})
		}
	}
	p.queued = nil
	return results
}

// crashLocked marks the session failed and resolves every outstanding call.
// The transport is closed in the background.
func (p *Process) crashLocked(op string, cause error) []Result {
	err := &ProcessError{Path: p.path, Op: op, Err: cause}
	p.state = Crashed
	p.err = err
	p.queued = nil
	p.logger.Warn("plugin crashed", "op", op, "error", cause)

	var results []Result
	for _, call := range p.calls.Drain() {
		if call.Kind == correlator.KindHello {
			continue
		}
		results = append(results, Result{ID: call.ID, Call: call, Err: err})
	}

	if tr := p.tr; tr != nil {
		p.tr = nil
		grace, logger := p.grace, p.logger
		go func() {
			if err := tr.Close(grace); err != nil {
				logger.Debug("failed to stop crashed plugin", "error", err)
			}
		}()
	}
	return results
}

// Abort fails a live session with cause. Outstanding calls resolve to a
// *ProcessError on the next Poll and the child is stopped in the
// background.
func (p *Process) Abort(op string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.Live() {
		return
	}
	p.backlog = append(p.backlog, p.crashLocked(op, cause)...)
}

// Shutdown closes the plugin's input, waits briefly for it to exit, and
// kills it otherwise. Outstanding calls resolve to ErrShutdown on the next
// Poll.
func (p *Process) Shutdown() error {
	p.mu.Lock()
	tr := p.tr
	p.tr = nil
	if p.state.Live() {
		p.state = Terminated
		p.queued = nil
		shutdownErr := &ProcessError{Path: p.path, Op: "shutdown", Err: ErrShutdown}
		for _, call := range p.calls.Drain() {
			if call.Kind == correlator.KindHello {
				continue
			}
			p.backlog = append(p.backlog, Result{ID: call.ID, Call: call, Err: shutdownErr})
		}
	}
	p.mu.Unlock()

	if tr == nil {
		return nil
	}
	p.logger.Debug("stopping plugin")
	return tr.Close(p.grace)
}

// State returns the lifecycle state. A ready process with calls in flight
// reports AwaitingResponses.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Ready && p.calls.Len() > 0 {
		return AwaitingResponses
	}
	return p.state
}

// Metadata returns what the plugin advertised in its hello.
func (p *Process) Metadata() plugin.Metadata {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.meta
}

// Err returns the failure that crashed the process, if any.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

// Outstanding returns the calls awaiting a response, ordered by id.
func (p *Process) Outstanding() []correlator.Call {
	return p.calls.Outstanding()
}

func (p *Process) pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tr == nil {
		return 0
	}
	return p.tr.Pid()
}
