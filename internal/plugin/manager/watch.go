package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettle is how long a new plugin file must go without events before
// Step registers it, so half-copied executables are not handshaken.
const watchSettle = 200 * time.Millisecond

// Watch starts watching the plugin directory. Executables that appear or
// become executable are registered on a later Step. Plugins that died are
// never picked up again by the watcher.
func (r *Registry) Watch(ctx context.Context) error {
	if r.config.PluginDir == "" {
		return errors.New("no plugin directory configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(r.config.PluginDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch plugin directory %s: %w", r.config.PluginDir, err)
	}

	r.mu.Lock()
	if r.watcher != nil {
		r.mu.Unlock()
		watcher.Close()
		return errors.New("plugin directory is already watched")
	}
	r.watcher = watcher
	r.mu.Unlock()

	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		r.mu.Lock()
		if r.watcher == watcher {
			r.watcher = nil
		}
		r.mu.Unlock()
		watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			r.logger.Debug("plugin directory changed", "file", event.Name, "op", event.Op.String())

			r.mu.Lock()
			r.pending[event.Name] = r.now()
			r.mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("plugin watcher error", "error", err)
		}
	}
}

// Step runs one tick: it registers settled watcher candidates and then
// returns PollAll.
func (r *Registry) Step(ctx context.Context) []Result {
	for _, path := range r.settled() {
		if reason := candidateProblem(path, r.config.PluginDir); reason != "" {
			r.logger.Debug("ignoring new file in plugin directory", "path", path, "reason", reason)
			continue
		}
		// Errors are recorded as dead plugins by Register.
		_, _ = r.Register(ctx, path)
	}
	return r.PollAll()
}

// settled removes and returns pending paths whose last event is older than
// watchSettle, skipping known and disabled plugins.
func (r *Registry) settled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var ready []string
	for path, last := range r.pending {
		if now.Sub(last) < watchSettle {
			continue
		}
		delete(r.pending, path)

		_, known := r.byPath[path]
		_, dead := r.dead[path]
		if known || dead || r.disabled(filepath.Base(path)) {
			continue
		}
		ready = append(ready, path)
	}
	slices.Sort(ready)
	return ready
}
