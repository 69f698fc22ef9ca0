package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNeedMoreData is returned by the decoders when the buffer does not yet
// hold a complete frame.
var ErrNeedMoreData = errors.New("need more data")

// ProtocolError reports a frame that could not be parsed. It is fatal to the
// session of the plugin that sent it, never to the host.
type ProtocolError struct {
	Frame []byte
	Err   error
}

func (e *ProtocolError) Error() string {
	frame := e.Frame
	if len(frame) > 64 {
		frame = frame[:64]
	}
	return fmt.Sprintf("protocol error: %v (frame %q)", e.Err, frame)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

type requestFrame struct {
	ID      CallID        `json:"id"`
	Type    string        `json:"type"`
	Preview *previewParam `json:"preview,omitempty"`
}

type previewParam struct {
	Path string `json:"path"`
}

type responseFrame struct {
	ID      CallID        `json:"id"`
	Type    string        `json:"type"`
	Hello   *helloBody    `json:"hello,omitempty"`
	Preview *previewBody  `json:"preview,omitempty"`
	Error   *errorPayload `json:"error,omitempty"`
}

type helloBody struct {
	Metadata Metadata `json:"metadata"`
}

type previewBody struct {
	Components Components `json:"components"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// EncodeRequest frames a command as a single newline-terminated line.
func EncodeRequest(id CallID, cmd Command) ([]byte, error) {
	frame := requestFrame{ID: id}
	switch c := cmd.(type) {
	case Hello:
		frame.Type = c.commandType()
	case Preview:
		frame.Type = c.commandType()
		frame.Preview = &previewParam{Path: c.Path}
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
	return marshalLine(frame)
}

// EncodeResponse frames a message as a single newline-terminated line.
func EncodeResponse(id CallID, msg Message) ([]byte, error) {
	frame := responseFrame{ID: id}
	switch m := msg.(type) {
	case HelloMessage:
		frame.Type = m.messageType()
		frame.Hello = &helloBody{Metadata: m.Metadata}
	case PreviewResponse:
		frame.Type = m.messageType()
		comps := m.Components
		if comps == nil {
			comps = Components{}
		}
		frame.Preview = &previewBody{Components: comps}
	case ErrorResponse:
		frame.Type = m.messageType()
		frame.Error = &errorPayload{Message: m.Message}
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}
	return marshalLine(frame)
}

func marshalLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// json.Marshal escapes control characters, so the payload never holds a raw newline.
	return append(data, '\n'), nil
}

// nextLine splits the first non-blank line off buf.
func nextLine(buf []byte) (line, rest []byte, err error) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			if len(buf) > MaxFrameSize {
				return nil, nil, &ProtocolError{Frame: bytes.Clone(buf[:64]), Err: fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)}
			}
			return nil, buf, ErrNeedMoreData
		}
		line, buf = bytes.TrimSpace(buf[:i]), buf[i+1:]
		if len(line) > 0 {
			return line, buf, nil
		}
	}
}

// DecodeResponse decodes the first frame in buf and returns the remaining
// bytes. It returns ErrNeedMoreData if buf ends in a partial frame and a
// *ProtocolError if the frame is malformed; in the latter case rest starts
// after the bad frame.
func DecodeResponse(buf []byte) (Response, []byte, error) {
	line, rest, err := nextLine(buf)
	if err != nil {
		return Response{}, rest, err
	}

	var frame responseFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return Response{}, rest, &ProtocolError{Frame: bytes.Clone(line), Err: err}
	}

	resp := Response{ID: frame.ID}
	switch frame.Type {
	case "hello":
		if frame.Hello == nil {
			return Response{}, rest, &ProtocolError{Frame: bytes.Clone(line), Err: errors.New("hello without body")}
		}
		resp.Message = HelloMessage{Metadata: frame.Hello.Metadata}
	case "preview":
		if frame.Preview == nil {
			return Response{}, rest, &ProtocolError{Frame: bytes.Clone(line), Err: errors.New("preview without body")}
		}
		resp.Message = PreviewResponse{Components: frame.Preview.Components}
	case "error":
		msg := ""
		if frame.Error != nil {
			msg = frame.Error.Message
		}
		resp.Message = ErrorResponse{Message: msg}
	default:
		return Response{}, rest, &ProtocolError{Frame: bytes.Clone(line), Err: fmt.Errorf("unknown message type %q", frame.Type)}
	}
	return resp, rest, nil
}

// DecodeRequest is the plugin-side counterpart of DecodeResponse.
func DecodeRequest(buf []byte) (Request, []byte, error) {
	line, rest, err := nextLine(buf)
	if err != nil {
		return Request{}, rest, err
	}

	var frame requestFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return Request{}, rest, &ProtocolError{Frame: bytes.Clone(line), Err: err}
	}

	req := Request{ID: frame.ID}
	switch frame.Type {
	case "hello":
		req.Command = Hello{}
	case "preview":
		if frame.Preview == nil {
			return Request{}, rest, &ProtocolError{Frame: bytes.Clone(line), Err: errors.New("preview without path")}
		}
		req.Command = Preview{Path: frame.Preview.Path}
	default:
		return Request{}, rest, &ProtocolError{Frame: bytes.Clone(line), Err: fmt.Errorf("unknown command type %q", frame.Type)}
	}
	return req, rest, nil
}

// Decoder accumulates bytes from a stream and yields complete frames.
// It is not safe for concurrent use.
type Decoder[T any] struct {
	buf    []byte
	decode func([]byte) (T, []byte, error)
}

// NewResponseDecoder returns a decoder for plugin to host frames.
func NewResponseDecoder() *Decoder[Response] {
	return &Decoder[Response]{decode: DecodeResponse}
}

// NewRequestDecoder returns a decoder for host to plugin frames.
func NewRequestDecoder() *Decoder[Request] {
	return &Decoder[Request]{decode: DecodeRequest}
}

// Feed appends stream bytes to the internal buffer.
func (d *Decoder[T]) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame, ErrNeedMoreData, or a
// *ProtocolError. A malformed frame is consumed so the caller may continue.
func (d *Decoder[T]) Next() (T, error) {
	v, rest, err := d.decode(d.buf)
	if errors.Is(err, ErrNeedMoreData) {
		return v, err
	}
	// Compact so a long-lived decoder does not pin consumed bytes.
	d.buf = append(d.buf[:0], rest...)
	return v, err
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder[T]) Buffered() int {
	return len(d.buf)
}
