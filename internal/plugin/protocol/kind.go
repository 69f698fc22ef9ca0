package protocol

import "fmt"

// Kind identifies the transport a plugin executable speaks.
type Kind string

const (
	// KindStdio is the line-framed JSON protocol over stdin/stdout.
	KindStdio Kind = "stdio"

	// KindGoPlugin is the HashiCorp go-plugin net/rpc protocol.
	KindGoPlugin Kind = "go-plugin"
)

// ParseKind parses a transport name. The empty string selects KindStdio.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindStdio, "":
		return KindStdio, nil
	case KindGoPlugin:
		return KindGoPlugin, nil
	default:
		return "", fmt.Errorf("unknown plugin protocol: %s", s)
	}
}
