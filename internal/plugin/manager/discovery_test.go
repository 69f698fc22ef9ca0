package manager

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path string, mode os.FileMode) {
	t.Helper()

	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), mode); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestDiscoverSkipsNonCandidates(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("discovery relies on execute bits")
	}

	dir := t.TempDir()
	outside := t.TempDir()

	writeFile(t, filepath.Join(dir, "charlie"), 0o755)
	writeFile(t, filepath.Join(dir, "alpha"), 0o755)
	writeFile(t, filepath.Join(dir, "bravo"), 0o700)
	writeFile(t, filepath.Join(dir, "notes.txt"), 0o644)
	writeFile(t, filepath.Join(dir, "disabled"), 0o755)
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(outside, "evil"), 0o755)
	if err := os.Symlink(filepath.Join(outside, "evil"), filepath.Join(dir, "escape")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, "alpha"), filepath.Join(dir, "delta")); err != nil {
		t.Fatal(err)
	}

	r := NewBuilder().WithConfig(Config{Disabled: []string{"disabled"}}).Build()
	got, err := r.Discover(dir)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	want := []string{
		filepath.Join(dir, "alpha"),
		filepath.Join(dir, "bravo"),
		filepath.Join(dir, "charlie"),
		filepath.Join(dir, "delta"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverMissingDirectory(t *testing.T) {
	r := NewBuilder().Build()

	got, err := r.Discover(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("expected no error for missing directory, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no candidates, got %v", got)
	}
}

func TestStepRegistersSettledCandidates(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("discovery relies on execute bits")
	}

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "demo"), 0o755)
	writeFile(t, filepath.Join(dir, "readme"), 0o644)

	clock := &fakeClock{now: time.Unix(1000, 0)}
	fleet := newFakeFleet()
	fleet.add("demo", `.*\.demo$`)
	r := NewBuilder().
		WithConfig(Config{PluginDir: dir}).
		WithLauncher(fleet.factory).
		WithClock(clock.Now).
		Build()
	t.Cleanup(func() { _ = r.Shutdown() })

	r.mu.Lock()
	r.pending[filepath.Join(dir, "demo")] = clock.Now()
	r.pending[filepath.Join(dir, "readme")] = clock.Now()
	r.mu.Unlock()

	r.Step(context.Background())
	if len(r.Plugins()) != 0 {
		t.Fatal("expected unsettled candidates to wait")
	}

	clock.Advance(watchSettle)
	r.Step(context.Background())

	plugins := r.Plugins()
	if len(plugins) != 1 || plugins[0].Metadata.Name != "demo" {
		t.Fatalf("expected demo to be registered, got %+v", plugins)
	}
	if len(r.Dead()) != 0 {
		t.Errorf("expected the non-executable file to be ignored, not dead: %+v", r.Dead())
	}
}

func TestStepNeverRevivesDeadPlugins(t *testing.T) {
	fleet := newFakeFleet()
	fleet.add("demo", `.*\.demo$`)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	dir := t.TempDir()
	path := filepath.Join(dir, "demo")
	writeFile(t, path, 0o755)

	r := NewBuilder().
		WithConfig(Config{PluginDir: dir}).
		WithLauncher(fleet.factory).
		WithClock(clock.Now).
		Build()
	t.Cleanup(func() { _ = r.Shutdown() })

	mustRegister(t, r, path)
	fleet.last(t, "demo").Exit(nil)
	r.PollAll()

	r.mu.Lock()
	r.pending[path] = clock.Now()
	r.mu.Unlock()
	clock.Advance(time.Second)
	r.Step(context.Background())

	if n := len(fleet.launched["demo"]); n != 1 {
		t.Errorf("expected dead plugin not to be relaunched, got %d launches", n)
	}
}

func TestWatchPicksUpNewPlugin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("discovery relies on execute bits")
	}

	dir := t.TempDir()
	fleet := newFakeFleet()
	fleet.add("late", `.*\.late$`)
	r := NewBuilder().
		WithConfig(Config{PluginDir: dir}).
		WithLauncher(fleet.factory).
		Build()
	t.Cleanup(func() { _ = r.Shutdown() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "late"), 0o755)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.Step(ctx)
		if _, ok := r.Match("x.late"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watched plugin was never registered")
}
