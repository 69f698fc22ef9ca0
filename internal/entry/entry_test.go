package entry

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDisplayModifiedComputedOnce(t *testing.T) {
	var calls atomic.Int32
	orig := formatModified
	formatModified = func(t time.Time) string {
		calls.Add(1)
		return t.UTC().Format(time.RFC3339)
	}
	t.Cleanup(func() { formatModified = orig })

	m := NewMeta("/tmp/a.txt", time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := m.DisplayModified(); got != "2024-03-01T12:30:00Z" {
				t.Errorf("unexpected display %q", got)
			}
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("expected one format call, got %d", n)
	}
}

func TestStat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	modified := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := os.Chtimes(path, modified, modified); err != nil {
		t.Fatal(err)
	}

	m, err := Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !m.Modified.Equal(modified) {
		t.Errorf("expected %s, got %s", modified, m.Modified)
	}
	if m.Name() != "file.txt" {
		t.Errorf("expected name file.txt, got %s", m.Name())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fm := FromFileInfo(filepath.Dir(path), info); fm.Path != path {
		t.Errorf("expected path %s, got %s", path, fm.Path)
	}

	if _, err := Stat(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
