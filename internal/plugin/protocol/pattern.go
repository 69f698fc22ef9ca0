package protocol

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// Matcher is a compiled preview capability pattern.
//
// Patterns are matched against the base name of the candidate path and are
// always anchored at both ends: the host compiles "^(?:pattern)$", so a
// pattern of "kiorg" or "^kiorg$" matches only the name "kiorg".
type Matcher struct {
	raw string
	re  *regexp.Regexp
}

// CompilePattern compiles a plugin file_pattern with the anchoring convention.
func CompilePattern(pattern string) (*Matcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty file pattern")
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
	}
	return &Matcher{raw: pattern, re: re}, nil
}

// Match reports whether the file name of path matches the pattern.
func (m *Matcher) Match(path string) bool {
	return m.re.MatchString(filepath.Base(path))
}

// String returns the pattern as the plugin advertised it.
func (m *Matcher) String() string {
	return m.raw
}
