package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiorg/kiorg/internal/plugin/protocol"
	"github.com/kiorg/kiorg/pkg/plugin"
)

func TestPatternMatchesDemoFiles(t *testing.T) {
	m, err := protocol.CompilePattern(demo{}.Metadata().Capabilities.Preview.FilePattern)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match("/tmp/notes.demo") {
		t.Error("expected .demo files to match")
	}
	if m.Match("/tmp/notes.demo.txt") {
		t.Error("expected other files not to match")
	}
}

func TestPreview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.demo")
	if err := os.WriteFile(path, []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	comps, err := demo{}.Preview(context.Background(), path)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(comps) != 3 {
		t.Fatalf("expected 3 components, got %d", len(comps))
	}
	if title, ok := comps[0].(plugin.Title); !ok || title.Text != "a.demo" {
		t.Errorf("expected title a.demo, got %#v", comps[0])
	}
	if text, ok := comps[2].(plugin.Text); !ok || text.Text != "one\ntwo" {
		t.Errorf("expected excerpt, got %#v", comps[2])
	}

	if _, err := (demo{}).Preview(context.Background(), filepath.Dir(path)); err == nil {
		t.Error("expected error for a directory")
	}
}

func TestServeOverStdio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.demo")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	hello, err := plugin.EncodeRequest(1, plugin.Hello{})
	if err != nil {
		t.Fatal(err)
	}
	prev, err := plugin.EncodeRequest(2, plugin.Preview{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	in := bytes.NewReader(append(hello, prev...))
	if err := plugin.Serve(context.Background(), demo{}, in, &out); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 responses, got %q", out.String())
	}
	if !strings.Contains(lines[0], `"name":"demo"`) {
		t.Errorf("expected hello with metadata, got %s", lines[0])
	}
	if !strings.Contains(lines[1], `"b.demo"`) {
		t.Errorf("expected preview titled b.demo, got %s", lines[1])
	}
}
