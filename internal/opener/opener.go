// Package opener hands paths to the operating system's default application.
package opener

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Opener opens a path with whatever application the user has associated
// with it.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// SystemOpener opens paths through the platform launcher.
type SystemOpener struct {
	goos   string
	logger hclog.Logger
}

// NewSystemOpener creates an opener for the running platform.
func NewSystemOpener(logger hclog.Logger) *SystemOpener {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &SystemOpener{goos: runtime.GOOS, logger: logger.Named("opener")}
}

// Open starts the launcher and returns without waiting for the
// application to exit.
func (o *SystemOpener) Open(ctx context.Context, path string) error {
	name, args := commandFor(o.goos, path)

	// #nosec G204 -- launcher name is fixed per platform, path is an argument
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	o.logger.Debug("opened", "path", path, "launcher", name, "pid", cmd.Process.Pid)

	go func() {
		if err := cmd.Wait(); err != nil {
			o.logger.Debug("launcher exited", "path", path, "error", err)
		}
	}()
	return nil
}

func commandFor(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		// The empty argument is the window title start expects first.
		return "cmd", []string{"/c", "start", "", path}
	default:
		return "xdg-open", []string{path}
	}
}

// RecordingOpener records the paths it is asked to open instead of opening
// them. It is safe for concurrent use.
type RecordingOpener struct {
	mu     sync.Mutex
	opened []string

	// Err, when set, is returned from every Open after recording.
	Err error
}

// Open records path.
func (r *RecordingOpener) Open(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.opened = append(r.opened, path)
	return r.Err
}

// Opened returns the recorded paths in call order.
func (r *RecordingOpener) Opened() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.opened...)
}

// New selects an opener by name: "system" (the default) or "record".
func New(kind string, logger hclog.Logger) (Opener, error) {
	switch kind {
	case "", "system":
		return NewSystemOpener(logger), nil
	case "record":
		return &RecordingOpener{}, nil
	default:
		return nil, fmt.Errorf("unknown opener %q", kind)
	}
}
