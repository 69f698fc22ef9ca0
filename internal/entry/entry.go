// Package entry describes directory entries as the listing layer hands them
// to the preview subsystem.
package entry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// displayLayout is how modification times are shown.
const displayLayout = "2006-01-02 15:04"

// formatModified renders a modification time for display. Tests replace it
// to count calls.
var formatModified = func(t time.Time) string {
	return t.Local().Format(displayLayout)
}

// Meta is the fingerprint of a directory entry: its path and modification
// time. It is immutable once created and safe for concurrent use.
type Meta struct {
	Path     string
	Modified time.Time

	once    sync.Once
	display string
}

// NewMeta creates entry metadata.
func NewMeta(path string, modified time.Time) *Meta {
	return &Meta{Path: path, Modified: modified}
}

// FromFileInfo creates entry metadata for a file found in dir.
func FromFileInfo(dir string, info fs.FileInfo) *Meta {
	return NewMeta(filepath.Join(dir, info.Name()), info.ModTime())
}

// Stat reads the metadata of path from the filesystem.
func Stat(path string) (*Meta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return NewMeta(path, info.ModTime()), nil
}

// Name returns the base name of the entry.
func (m *Meta) Name() string {
	return filepath.Base(m.Path)
}

// DisplayModified returns the formatted modification time. It is computed
// on first use and reused afterwards.
func (m *Meta) DisplayModified() string {
	m.once.Do(func() {
		m.display = formatModified(m.Modified)
	})
	return m.display
}
