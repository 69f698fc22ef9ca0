// Package plugin provides the public API for kiorg preview plugins.
package plugin

import (
	"github.com/hashicorp/go-plugin"
)

const (
	// ProtocolVersion defines the current plugin API version.
	// Format: MAJOR.MINOR.PATCH.
	// - Increment MAJOR for breaking changes (incompatible wire changes).
	// - Increment MINOR for backward-compatible additions (new command kinds).
	// - Increment PATCH for backward-compatible bug fixes.
	ProtocolVersion = "0.1.0"

	// MinCompatibleVersion is the oldest protocol version this host can work with.
	MinCompatibleVersion = "0.1.0"

	// MaxFrameSize bounds a single line-framed message. A plugin that writes
	// more than this without a newline is treated as speaking garbage.
	MaxFrameSize = 16 << 20

	// MagicCookieKey is the environment variable go-plugin uses for the handshake.
	MagicCookieKey = "KIORG_PLUGIN"

	// MagicCookieValue is the expected value for the handshake cookie.
	MagicCookieValue = "kiorg_preview_plugin"

	// RPCPluginName is the name the preview service is dispensed under.
	RPCPluginName = "preview"
)

// Handshake is the handshake configuration for the go-plugin transport.
// The go-plugin protocol version only tracks the major version; the full
// semantic check happens against Metadata.ProtocolVersion after Hello.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  0, // Major version from ProtocolVersion
	MagicCookieKey:   MagicCookieKey,
	MagicCookieValue: MagicCookieValue,
}

// PluginMap is the set of plugins served and dispensed over go-plugin.
var PluginMap = map[string]plugin.Plugin{
	RPCPluginName: &PreviewPluginRPC{},
}
