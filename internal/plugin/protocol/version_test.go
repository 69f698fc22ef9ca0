package protocol

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		version     string
		expectError bool
		want        Version
	}{
		{"0.1.0", false, Version{0, 1, 0}},
		{"1.0.0", false, Version{1, 0, 0}},
		{"10.99.42", false, Version{10, 99, 42}},
		{"invalid", true, Version{}},
		{"1", true, Version{}},
		{"1.2", true, Version{}},
		{"1.-2.0", true, Version{}},
	}

	for _, tt := range tests {
		v, err := Parse(tt.version)
		if tt.expectError {
			if err == nil {
				t.Errorf("Parse(%q) expected error but got none", tt.version)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", tt.version, err)
		}
		if v != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.version, v, tt.want)
		}
	}
}

func TestCheckCompatible(t *testing.T) {
	tests := []struct {
		pluginVersion string
		errorContains string
	}{
		// Missing version is tolerated.
		{"", ""},

		// Same version.
		{"0.1.0", ""},

		// Same major, newer minor or patch.
		{"0.1.7", ""},
		{"0.4.0", ""},

		// Different major version.
		{"1.0.0", "incompatible major version"},

		// Older than the minimum.
		{"0.0.9", "too old"},

		// Garbage.
		{"v1", "failed to parse"},
	}

	for _, tt := range tests {
		err := CheckCompatible(tt.pluginVersion)
		if tt.errorContains == "" {
			if err != nil {
				t.Errorf("CheckCompatible(%q) unexpected error: %v", tt.pluginVersion, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.errorContains) {
			t.Errorf("CheckCompatible(%q) = %v, want error containing %q", tt.pluginVersion, err, tt.errorContains)
		}
	}
}

func TestVersionLess(t *testing.T) {
	if !(Version{0, 1, 0}).Less(Version{0, 1, 1}) {
		t.Error("expected 0.1.0 < 0.1.1")
	}
	if (Version{1, 0, 0}).Less(Version{0, 9, 9}) {
		t.Error("expected 1.0.0 > 0.9.9")
	}
	if (Version{0, 2, 0}).Less(Version{0, 2, 0}) {
		t.Error("expected equal versions to not be less")
	}
}
