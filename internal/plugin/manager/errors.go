package manager

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoMatchingPlugin is returned by RequestPreview when no live plugin
// claims the file.
var ErrNoMatchingPlugin = errors.New("no plugin matches file")

// DiscoveryError reports a candidate that could not be registered. The
// candidate stays dead for the session unless Register is called again.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to register plugin %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// TimeoutError resolves a preview call that got no answer in time. The
// plugin keeps running.
type TimeoutError struct {
	Path   string
	Plugin string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("preview of %s by plugin %s timed out after %s", e.Path, e.Plugin, e.After)
}

// Timeout reports true so callers can treat it like other timeout errors.
func (e *TimeoutError) Timeout() bool {
	return true
}

// PluginError is a failure the plugin itself reported for one call.
type PluginError struct {
	Plugin  string
	Path    string
	Message string
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s failed to preview %s: %s", e.Plugin, e.Path, e.Message)
}
