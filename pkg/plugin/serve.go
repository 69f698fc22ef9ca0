package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// PreviewPlugin is the interface preview plugins implement. The same
// implementation can be served over stdio (Serve) or go-plugin (ServeRPC).
type PreviewPlugin interface {
	// Metadata returns the plugin identity and capabilities.
	Metadata() Metadata

	// Preview renders the file at path.
	Preview(ctx context.Context, path string) ([]Component, error)
}

// Serve runs the line-framed protocol loop, reading commands from r and
// writing responses to w, until r reaches EOF or ctx is cancelled.
// Commands are handled in arrival order.
func Serve(ctx context.Context, p PreviewPlugin, r io.Reader, w io.Writer) error {
	dec := NewRequestDecoder()
	chunk := make([]byte, 32<<10)

	for {
		for {
			req, err := dec.Next()
			if errors.Is(err, ErrNeedMoreData) {
				break
			}
			var perr *ProtocolError
			if errors.As(err, &perr) {
				if werr := writeResponse(w, 0, ErrorResponse{Message: perr.Error()}); werr != nil {
					return werr
				}
				continue
			}
			if err := writeResponse(w, req.ID, handle(ctx, p, req.Command)); err != nil {
				return err
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			dec.Feed(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read command: %w", err)
		}
	}
}

// ServeStdio serves p on the process's standard input and output.
func ServeStdio(p PreviewPlugin) error {
	return Serve(context.Background(), p, os.Stdin, os.Stdout)
}

// LaunchedByRPCHost reports whether the process was started by a host that
// expects the go-plugin transport.
func LaunchedByRPCHost() bool {
	return os.Getenv(MagicCookieKey) == MagicCookieValue
}

func handle(ctx context.Context, p PreviewPlugin, cmd Command) Message {
	switch c := cmd.(type) {
	case Hello:
		return HelloMessage{Metadata: advertised(p)}
	case Preview:
		comps, err := p.Preview(ctx, c.Path)
		if err != nil {
			return ErrorResponse{Message: err.Error()}
		}
		return PreviewResponse{Components: comps}
	default:
		return ErrorResponse{Message: fmt.Sprintf("unsupported command %T", cmd)}
	}
}

// advertised fills in the protocol version when the plugin leaves it empty.
func advertised(p PreviewPlugin) Metadata {
	md := p.Metadata()
	if md.ProtocolVersion == "" {
		md.ProtocolVersion = ProtocolVersion
	}
	return md
}

func writeResponse(w io.Writer, id CallID, msg Message) error {
	frame, err := EncodeResponse(id, msg)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}
