// Package plugin provides the public API for kiorg preview plugins.
// External plugins should import this package instead of internal packages.
package plugin

import "strconv"

// CallID scopes exactly one outstanding request/response pair.
// The zero value is never issued by the host.
type CallID uint64

// String returns the decimal form of the id.
func (id CallID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Metadata describes a plugin. It is returned in the Hello response and is
// immutable for the lifetime of the plugin process.
type Metadata struct {
	Name            string       `json:"name"`
	Version         string       `json:"version"`
	Description     string       `json:"description"`
	Homepage        string       `json:"homepage,omitempty"`
	ProtocolVersion string       `json:"protocol_version,omitempty"`
	Capabilities    Capabilities `json:"capabilities"`
}

// Capabilities is the set of capability descriptors a plugin advertises.
// A nil descriptor means the capability is not offered.
type Capabilities struct {
	Preview *PreviewCapability `json:"preview,omitempty"`
}

// PreviewCapability declares which files a plugin can preview.
//
// FilePattern is an RE2 regular expression matched against the file name
// (not the full path). The host always anchors it at both ends, so "kiorg"
// and "^kiorg$" are equivalent.
type PreviewCapability struct {
	FilePattern string `json:"file_pattern"`
}
