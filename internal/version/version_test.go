package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func withBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()

	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = orig })
}

func TestGetInfoFallsBackToBuildInfo(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2024-01-01T00:00:00Z"},
		},
	})

	info := GetInfo()
	if info.Version != "v1.2.3" || info.Commit != "0123456789abcdef" || info.Date != "2024-01-01T00:00:00Z" {
		t.Errorf("unexpected info %+v", info)
	}
	if s := String(); !strings.Contains(s, "commit: 01234567,") {
		t.Errorf("expected short commit in %q", s)
	}
}

func TestGetInfoPrefersInjectedValues(t *testing.T) {
	orig := Version
	Version = "9.9.9"
	t.Cleanup(func() { Version = orig })
	withBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "v1.2.3"}})

	if got := GetInfo().Version; got != "9.9.9" {
		t.Errorf("expected injected version, got %s", got)
	}
}

func TestStringWithoutVCS(t *testing.T) {
	withBuildInfo(t, nil)

	s := String()
	if !strings.HasPrefix(s, "kiorg version dev (protocol ") {
		t.Errorf("unexpected version string %q", s)
	}
}

func TestShortCommit(t *testing.T) {
	if shortCommit("abc") != "abc" {
		t.Error("expected short commits to be kept")
	}
	if shortCommit("0123456789") != "01234567" {
		t.Error("expected long commits to be cut")
	}
}
