// Package manager is the plugin registry: it discovers plugin executables,
// registers them through the handshake, routes preview requests to the
// first matching live plugin and surfaces results on each poll.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/kiorg/kiorg/internal/plugin/correlator"
	"github.com/kiorg/kiorg/internal/plugin/process"
	"github.com/kiorg/kiorg/internal/plugin/protocol"
	"github.com/kiorg/kiorg/pkg/plugin"
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultPreviewTimeout   = 10 * time.Second
)

// Config holds registry configuration.
type Config struct {
	// PluginDir is scanned by RegisterAll.
	PluginDir string

	HandshakeTimeout time.Duration
	PreviewTimeout   time.Duration
	ShutdownGrace    time.Duration

	// Disabled lists plugin file names that are never registered.
	Disabled []string

	// Protocols selects the transport per plugin file name. Plugins not
	// listed speak stdio.
	Protocols map[string]protocol.Kind
}

// LauncherFactory picks the launcher for a plugin executable.
type LauncherFactory func(path string, kind protocol.Kind) process.Launcher

// Builder provides a fluent interface for constructing a Registry.
type Builder struct {
	config    Config
	logger    hclog.Logger
	launchers LauncherFactory
	clock     func() time.Time
	useEnv    bool
}

// NewBuilder creates a new Registry builder with default settings.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the configuration for the registry.
func (b *Builder) WithConfig(config Config) *Builder {
	b.config = config
	return b
}

// WithLogger sets the logger. Plugin processes log under a "plugin" sub-logger.
func (b *Builder) WithLogger(logger hclog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithEnvConfig loads configuration from environment variables.
// Reads KIORG_PLUGIN_DIR and KIORG_DISABLED_PLUGINS.
func (b *Builder) WithEnvConfig() *Builder {
	b.useEnv = true
	return b
}

// WithLauncher overrides how plugin executables are started (useful for testing).
func (b *Builder) WithLauncher(f LauncherFactory) *Builder {
	b.launchers = f
	return b
}

// WithClock overrides the clock used for preview deadlines.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build constructs the Registry with the configured settings.
func (b *Builder) Build() *Registry {
	config := b.config

	if b.useEnv {
		if dir := os.Getenv("KIORG_PLUGIN_DIR"); dir != "" {
			config.PluginDir = dir
		}
		if disabled := os.Getenv("KIORG_DISABLED_PLUGINS"); disabled != "" {
			config.Disabled = parsePluginList(disabled)
		}
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.PreviewTimeout <= 0 {
		config.PreviewTimeout = DefaultPreviewTimeout
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = process.DefaultShutdownGrace
	}

	logger := b.logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	launchers := b.launchers
	if launchers == nil {
		pluginLogger := logger.Named("plugin")
		launchers = func(_ string, kind protocol.Kind) process.Launcher {
			return process.LauncherFor(kind, pluginLogger)
		}
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	return &Registry{
		config:    config,
		logger:    logger,
		launchers: launchers,
		now:       clock,
		seq:       &correlator.Sequence{},
		byPath:    make(map[string]*entry),
		dead:      make(map[string]error),
		inflight:  make(map[plugin.CallID]flight),
		byFile:    make(map[string]plugin.CallID),
		pending:   make(map[string]time.Time),
	}
}

// Plugin is a snapshot of one registered plugin.
type Plugin struct {
	Path     string
	Metadata plugin.Metadata
	Pattern  string
	Kind     protocol.Kind
	Live     bool
	State    process.State
}

// DeadPlugin is a candidate that failed for the session.
type DeadPlugin struct {
	Path string
	Err  error
}

// Result is one resolved preview call.
type Result struct {
	ID plugin.CallID

	// Path is the previewed file.
	Path string

	// Plugin is the name of the plugin that served the call.
	Plugin string

	Components plugin.Components
	Err        error
}

type entry struct {
	path    string
	kind    protocol.Kind
	proc    *process.Process
	meta    plugin.Metadata
	matcher *protocol.Matcher
	live    bool

	// listed is set once the entry has a place in registration order.
	listed bool
	// registering is closed when the handshake in progress finishes.
	registering chan struct{}
	// refresh asks PollAll to reload metadata once a respawned process
	// has said hello.
	refresh bool
}

type flight struct {
	entry    *entry
	file     string
	deadline time.Time
}

// Registry owns every plugin process. It is safe for concurrent use, but
// is designed to be driven from a single tick loop: nothing except
// Register, RegisterAll and Shutdown waits on a plugin.
type Registry struct {
	config    Config
	logger    hclog.Logger
	launchers LauncherFactory
	now       func() time.Time
	seq       *correlator.Sequence

	mu       sync.Mutex
	entries  []*entry
	byPath   map[string]*entry
	dead     map[string]error
	inflight map[plugin.CallID]flight
	byFile   map[string]plugin.CallID

	// pending holds watcher events waiting for Step, by last event time.
	pending map[string]time.Time
	watcher *fsnotify.Watcher
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	return r.config
}

// Register spawns path if needed, performs the handshake and makes the
// plugin available for matching. On failure the path is recorded as dead.
// Registering a dead or stopped plugin again retries it in its original
// registration position. Concurrent calls for the same path share one
// process and one handshake.
func (r *Registry) Register(ctx context.Context, path string) (plugin.Metadata, error) {
	r.mu.Lock()
	e := r.byPath[path]
	if e == nil {
		kind := r.kindFor(path)
		e = &entry{
			path: path,
			kind: kind,
			proc: process.New(path, process.Options{
				Logger:        r.logger.Named("plugin"),
				Sequence:      r.seq,
				Launch:        r.launchers(path, kind),
				ShutdownGrace: r.config.ShutdownGrace,
				Clock:         r.now,
			}),
		}
		r.byPath[path] = e
	}

	if wait := e.registering; wait != nil {
		r.mu.Unlock()
		return r.awaitRegistration(ctx, e, wait)
	}
	if e.live && e.proc.State().Live() {
		meta := e.meta
		r.mu.Unlock()
		return meta, nil
	}
	done := make(chan struct{})
	e.registering = done
	r.mu.Unlock()

	meta, matcher, err := r.start(ctx, e.proc)

	r.mu.Lock()
	e.registering = nil
	close(done)
	if err != nil {
		derr := &DiscoveryError{Path: path, Err: err}
		r.dead[path] = derr
		e.live = false
		r.mu.Unlock()
		r.logger.Warn("plugin registration failed", "path", path, "error", err)
		return plugin.Metadata{}, derr
	}
	if !e.listed {
		e.listed = true
		r.entries = append(r.entries, e)
	}
	e.meta = meta
	e.matcher = matcher
	e.live = true
	e.refresh = false
	delete(r.dead, path)
	r.mu.Unlock()

	pattern := ""
	if matcher != nil {
		pattern = matcher.String()
	}
	r.logger.Info("plugin registered", "name", meta.Name, "version", meta.Version, "path", path, "pattern", pattern)
	return meta, nil
}

// awaitRegistration waits for another caller's handshake of e and reports
// its outcome.
func (r *Registry) awaitRegistration(ctx context.Context, e *entry, wait <-chan struct{}) (plugin.Metadata, error) {
	select {
	case <-wait:
	case <-ctx.Done():
		return plugin.Metadata{}, &DiscoveryError{Path: e.path, Err: ctx.Err()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e.live {
		return e.meta, nil
	}
	if err := r.dead[e.path]; err != nil {
		return plugin.Metadata{}, err
	}
	return plugin.Metadata{}, &DiscoveryError{Path: e.path, Err: process.ErrNotRunning}
}

func (r *Registry) start(ctx context.Context, proc *process.Process) (plugin.Metadata, *protocol.Matcher, error) {
	if err := proc.Spawn(); err != nil {
		return plugin.Metadata{}, nil, err
	}

	meta, err := proc.Handshake(ctx, r.config.HandshakeTimeout)
	if err != nil {
		return plugin.Metadata{}, nil, err
	}

	// A plugin without a preview capability registers but is never routed.
	var matcher *protocol.Matcher
	if capability := meta.Capabilities.Preview; capability != nil {
		matcher, err = protocol.CompilePattern(capability.FilePattern)
		if err != nil {
			_ = proc.Shutdown()
			return plugin.Metadata{}, nil, err
		}
	}
	return meta, matcher, nil
}

func (r *Registry) kindFor(path string) protocol.Kind {
	if kind, ok := r.config.Protocols[filepath.Base(path)]; ok {
		return kind
	}
	return protocol.KindStdio
}

// RegisterAll discovers the configured plugin directory and registers each
// candidate in discovery order. Individual failures are logged and recorded
// as dead. The registered plugins' metadata is returned in order.
func (r *Registry) RegisterAll(ctx context.Context) ([]plugin.Metadata, error) {
	candidates, err := r.Discover(r.config.PluginDir)
	if err != nil {
		return nil, err
	}

	var registered []plugin.Metadata
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return registered, err
		}
		meta, err := r.Register(ctx, path)
		if err != nil {
			continue
		}
		registered = append(registered, meta)
	}
	return registered, nil
}

// Match returns the first registered live plugin whose pattern matches the
// file name of path.
func (r *Registry) Match(path string) (Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.matchLocked(path)
	if e == nil {
		return Plugin{}, false
	}
	return e.snapshot(), true
}

func (r *Registry) matchLocked(path string) *entry {
	for _, e := range r.entries {
		if e.live && e.matcher != nil && e.matcher.Match(path) {
			return e
		}
	}
	return nil
}

// RequestPreview routes a preview of file to the matching plugin and
// returns the call id to watch for in PollAll. A stopped plugin is started
// again without waiting for its handshake. An outstanding call for the
// same file is superseded and its answer will never surface.
func (r *Registry) RequestPreview(file string) (plugin.CallID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.matchLocked(file)
	if e == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoMatchingPlugin, file)
	}

	if !e.proc.State().Live() {
		if err := e.proc.Spawn(); err != nil {
			r.markDeadLocked(e, err)
			return 0, err
		}
		if err := e.proc.BeginHandshake(r.config.HandshakeTimeout); err != nil {
			r.markDeadLocked(e, err)
			return 0, err
		}
		e.refresh = true
	}

	if prev, ok := r.byFile[file]; ok {
		r.logger.Debug("superseding preview call", "file", file, "id", prev)
		r.retireLocked(prev)
	}

	id, err := e.proc.Send(plugin.Preview{Path: file})
	if err != nil {
		return 0, err
	}

	r.inflight[id] = flight{entry: e, file: file, deadline: r.now().Add(r.config.PreviewTimeout)}
	r.byFile[file] = id
	return id, nil
}

// Cancel drops an outstanding preview call. Its answer, if any, is discarded.
func (r *Registry) Cancel(id plugin.CallID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.inflight[id]; !ok {
		return false
	}
	r.retireLocked(id)
	return true
}

func (r *Registry) retireLocked(id plugin.CallID) {
	f, ok := r.inflight[id]
	if !ok {
		return
	}
	delete(r.inflight, id)
	if r.byFile[f.file] == id {
		delete(r.byFile, f.file)
	}
	f.entry.proc.Cancel(id)
}

func (r *Registry) markDeadLocked(e *entry, err error) {
	if !e.live {
		return
	}
	e.live = false
	r.dead[e.path] = err
	r.logger.Warn("plugin marked dead", "path", e.path, "error", err)
}

// PollAll drains every plugin process and returns the preview calls that
// resolved since the last poll. Calls past the preview timeout resolve to
// a *TimeoutError. A plugin whose process crashed stops matching.
func (r *Registry) PollAll() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var results []Result
	for _, e := range r.entries {
		polled := e.proc.Poll()
		r.refreshLocked(e)
		for _, pr := range polled {
			f, ok := r.inflight[pr.ID]
			if !ok {
				continue
			}
			delete(r.inflight, pr.ID)
			if r.byFile[f.file] == pr.ID {
				delete(r.byFile, f.file)
			}
			results = append(results, resultFor(e, f.file, pr))
		}

		if e.proc.State() == process.Crashed {
			r.markDeadLocked(e, e.proc.Err())
		}
	}

	now := r.now()
	var expired []plugin.CallID
	for id, f := range r.inflight {
		if !now.Before(f.deadline) {
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)
	for _, id := range expired {
		f := r.inflight[id]
		r.retireLocked(id)
		results = append(results, Result{
			ID:     id,
			Path:   f.file,
			Plugin: f.entry.meta.Name,
			Err:    &TimeoutError{Path: f.file, Plugin: f.entry.meta.Name, After: r.config.PreviewTimeout},
		})
	}
	return results
}

// refreshLocked picks up the metadata a respawned plugin advertised. A
// pattern that no longer compiles kills the plugin.
func (r *Registry) refreshLocked(e *entry) {
	if !e.refresh || !e.live {
		return
	}
	switch e.proc.State() {
	case process.Ready, process.AwaitingResponses:
	default:
		return
	}
	e.refresh = false

	meta := e.proc.Metadata()
	var matcher *protocol.Matcher
	if capability := meta.Capabilities.Preview; capability != nil {
		var err error
		matcher, err = protocol.CompilePattern(capability.FilePattern)
		if err != nil {
			r.markDeadLocked(e, &DiscoveryError{Path: e.path, Err: err})
			e.proc.Abort("handshake", err)
			return
		}
	}
	previous := e.meta
	pattern := e.pattern()
	e.meta = meta
	e.matcher = matcher
	if meta.Name != previous.Name || meta.Version != previous.Version || e.pattern() != pattern {
		r.logger.Info("plugin metadata changed on restart", "path", e.path, "name", meta.Name, "version", meta.Version, "pattern", e.pattern())
	}
}

func resultFor(e *entry, file string, pr process.Result) Result {
	res := Result{ID: pr.ID, Path: file, Plugin: e.meta.Name}
	if pr.Err != nil {
		res.Err = pr.Err
		return res
	}

	switch m := pr.Message.(type) {
	case plugin.PreviewResponse:
		res.Components = m.Components
	case plugin.ErrorResponse:
		res.Err = &PluginError{Plugin: e.meta.Name, Path: file, Message: m.Message}
	default:
		res.Err = fmt.Errorf("plugin %s answered preview with %T", e.meta.Name, pr.Message)
	}
	return res
}

// Plugins lists registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Plugin, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Dead lists candidates that failed this session, ordered by path.
func (r *Registry) Dead() []DeadPlugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DeadPlugin, 0, len(r.dead))
	for path, err := range r.dead {
		out = append(out, DeadPlugin{Path: path, Err: err})
	}
	slices.SortFunc(out, func(a, b DeadPlugin) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Info returns process diagnostics for every registered plugin.
func (r *Registry) Info() []process.Info {
	r.mu.Lock()
	procs := make([]*process.Process, 0, len(r.entries))
	for _, e := range r.entries {
		procs = append(procs, e.proc)
	}
	r.mu.Unlock()

	infos := make([]process.Info, 0, len(procs))
	for _, p := range procs {
		infos = append(infos, p.Info())
	}
	return infos
}

// Stop shuts a plugin's process down without forgetting the plugin. The
// next preview routed to it starts it again.
func (r *Registry) Stop(path string) error {
	r.mu.Lock()
	e := r.byPath[path]
	r.mu.Unlock()

	if e == nil || !e.listed {
		return fmt.Errorf("plugin %s is not registered", path)
	}
	return e.proc.Shutdown()
}

// Shutdown stops the watcher and every plugin process, including ones
// that never finished registering.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	procs := make([]*process.Process, 0, len(r.byPath))
	for _, e := range r.byPath {
		procs = append(procs, e.proc)
	}
	watcher := r.watcher
	r.watcher = nil
	r.mu.Unlock()

	var errs []error
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close plugin watcher: %w", err))
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Shutdown(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (e *entry) snapshot() Plugin {
	p := Plugin{
		Path:     e.path,
		Metadata: e.meta,
		Kind:     e.kind,
		Live:     e.live,
		State:    e.proc.State(),
	}
	p.Pattern = e.pattern()
	return p
}

func (e *entry) pattern() string {
	if e.matcher == nil {
		return ""
	}
	return e.matcher.String()
}
