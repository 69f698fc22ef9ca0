// Package protocol holds host-side protocol rules: version compatibility,
// transport selection and file pattern anchoring.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kiorg/kiorg/pkg/plugin"
)

// Version represents a parsed protocol version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Parse parses a version string in "MAJOR.MINOR.PATCH" format.
func Parse(version string) (Version, error) {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version format: %s (expected MAJOR.MINOR.PATCH)", version)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version component %q in %s", part, version)
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String returns the string representation of the version.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// CheckCompatible returns an error if a plugin advertising pluginVersion
// cannot talk to this host. The major version must match exactly and the
// version must not be older than plugin.MinCompatibleVersion. An empty
// version is accepted for plugins that predate version advertising.
func CheckCompatible(pluginVersion string) error {
	if pluginVersion == "" {
		return nil
	}

	pv, err := Parse(pluginVersion)
	if err != nil {
		return fmt.Errorf("failed to parse plugin protocol version: %w", err)
	}

	current := mustParse(plugin.ProtocolVersion)
	minimum := mustParse(plugin.MinCompatibleVersion)

	if pv.Major != current.Major {
		return fmt.Errorf("incompatible major version: plugin speaks %s, host requires %d.x.x", pv, current.Major)
	}
	if pv.Less(minimum) {
		return fmt.Errorf("plugin protocol version %s is too old, minimum required is %s", pv, minimum)
	}
	return nil
}

func mustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		// Only reachable if a version constant is malformed.
		panic(fmt.Sprintf("invalid protocol version constant %q: %v", s, err))
	}
	return v
}
