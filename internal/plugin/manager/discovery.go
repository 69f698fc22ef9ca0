package manager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/kiorg/kiorg/internal/security"
)

// Discover lists the plugin candidates in dir in lexical order of file
// name. Directories, non-regular files, files without an execute bit,
// symlinks that leave dir and disabled names are skipped silently. A
// missing directory yields no candidates.
func (r *Registry) Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Debug("plugin directory does not exist", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	// os.ReadDir returns entries sorted by file name.
	var candidates []string
	for _, de := range entries {
		name := de.Name()
		if r.disabled(name) {
			r.logger.Debug("skipping disabled plugin", "name", name)
			continue
		}

		path := filepath.Join(dir, name)
		if reason := candidateProblem(path, dir); reason != "" {
			r.logger.Debug("skipping plugin candidate", "path", path, "reason", reason)
			continue
		}
		candidates = append(candidates, path)
	}
	return candidates, nil
}

func (r *Registry) disabled(name string) bool {
	return slices.Contains(r.config.Disabled, name)
}

// candidateProblem returns why path cannot be a plugin, or "" if it can.
func candidateProblem(path, dir string) string {
	resolved, err := security.ResolvePluginPath(path, dir)
	if err != nil {
		return err.Error()
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return err.Error()
	}
	if !info.Mode().IsRegular() {
		return "not a regular file"
	}
	if !isExecutable(resolved, info) {
		return "not executable"
	}
	return ""
}

func isExecutable(path string, info fs.FileInfo) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(filepath.Ext(path), ".exe")
	}
	return info.Mode().Perm()&0o111 != 0
}

// parsePluginList parses a comma-separated list of plugin file names.
func parsePluginList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
