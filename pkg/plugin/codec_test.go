package plugin

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestEncodeRequestWireFormat tests the exact bytes written for each command.
func TestEncodeRequestWireFormat(t *testing.T) {
	tests := []struct {
		name string
		id   CallID
		cmd  Command
		want string
	}{
		{"hello", 1, Hello{}, `{"id":1,"type":"hello"}` + "\n"},
		{"preview", 7, Preview{Path: "/tmp/x.demo"}, `{"id":7,"type":"preview","preview":{"path":"/tmp/x.demo"}}` + "\n"},
		{"path with newline", 2, Preview{Path: "a\nb"}, `{"id":2,"type":"preview","preview":{"path":"a\nb"}}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeRequest(tt.id, tt.cmd)
			if err != nil {
				t.Fatalf("EncodeRequest failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeRequest = %q, want %q", got, tt.want)
			}
			if bytes.Count(got, []byte("\n")) != 1 {
				t.Errorf("expected exactly one newline in frame %q", got)
			}
		})
	}
}

// TestDecodeRequestRoundTrip tests the plugin side decodes what the host encodes.
func TestDecodeRequestRoundTrip(t *testing.T) {
	frame, err := EncodeRequest(42, Preview{Path: "/data/report.demo"})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	req, rest, err := DecodeRequest(frame)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("expected no remaining bytes, got %q", rest)
	}
	want := Request{ID: 42, Command: Preview{Path: "/data/report.demo"}}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

// TestDecodeResponseVariants tests every plugin to host message kind.
func TestDecodeResponseVariants(t *testing.T) {
	md := Metadata{
		Name:         "demo",
		Version:      "1.0.0",
		Description:  "demo plugin",
		Homepage:     "https://example.com",
		Capabilities: Capabilities{Preview: &PreviewCapability{FilePattern: `.*\.demo$`}},
	}

	tests := []struct {
		name string
		msg  Message
	}{
		{"hello", HelloMessage{Metadata: md}},
		{"preview", PreviewResponse{Components: Components{
			Title{Text: "demo"},
			Text{Text: "hello"},
			Image{Source: ImageSource{Bytes: []byte{0x89, 'P', 'N', 'G'}, Format: "png", UID: "img-1"}},
			Image{Source: ImageSource{Path: "/tmp/cover.png"}},
			Table{Headers: []string{"k", "v"}, Rows: [][]string{{"a", "1"}, {"b", "2"}}},
		}}},
		{"error", ErrorResponse{Message: "cannot read file"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeResponse(9, tt.msg)
			if err != nil {
				t.Fatalf("EncodeResponse failed: %v", err)
			}

			resp, rest, err := DecodeResponse(frame)
			if err != nil {
				t.Fatalf("DecodeResponse failed: %v", err)
			}
			if len(rest) != 0 {
				t.Errorf("expected no remaining bytes, got %q", rest)
			}
			if resp.ID != 9 {
				t.Errorf("expected id 9, got %d", resp.ID)
			}
			if diff := cmp.Diff(tt.msg, resp.Message); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestDecodeResponseNeedMoreData tests partial frames are not errors.
func TestDecodeResponseNeedMoreData(t *testing.T) {
	frame, _ := EncodeResponse(1, ErrorResponse{Message: "x"})

	for i := 0; i < len(frame); i++ {
		_, rest, err := DecodeResponse(frame[:i])
		if !errors.Is(err, ErrNeedMoreData) {
			t.Fatalf("prefix %d: expected ErrNeedMoreData, got %v", i, err)
		}
		if !bytes.Equal(rest, frame[:i]) {
			t.Fatalf("prefix %d: rest should keep the partial frame, got %q", i, rest)
		}
	}
}

// TestDecodeResponseMalformed tests malformed frames become ProtocolErrors.
func TestDecodeResponseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", "not json\n"},
		{"unknown type", `{"id":1,"type":"teleport"}` + "\n"},
		{"hello without body", `{"id":1,"type":"hello"}` + "\n"},
		{"preview without body", `{"id":1,"type":"preview"}` + "\n"},
		{"unknown component", `{"id":1,"type":"preview","preview":{"components":[{"type":"video"}]}}` + "\n"},
		{"image without data", `{"id":1,"type":"preview","preview":{"components":[{"type":"image","source":{}}]}}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := `{"id":2,"type":"error","error":{"message":"next"}}` + "\n"
			_, rest, err := DecodeResponse([]byte(tt.frame + next))

			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ProtocolError, got %v", err)
			}
			if string(rest) != next {
				t.Errorf("expected rest to start after the bad frame, got %q", rest)
			}
		})
	}
}

// TestDecodeResponseOversizedFrame tests a frame without newline past the limit.
func TestDecodeResponseOversizedFrame(t *testing.T) {
	buf := bytes.Repeat([]byte("a"), MaxFrameSize+1)

	_, _, err := DecodeResponse(buf)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
}

// TestDecoderSplitFeeds tests that frames split at every byte boundary decode identically.
func TestDecoderSplitFeeds(t *testing.T) {
	first, _ := EncodeResponse(1, PreviewResponse{Components: Components{Title{Text: "demo"}, Text{Text: "hello"}}})
	second, _ := EncodeResponse(2, ErrorResponse{Message: "boom"})
	stream := append(append([]byte{}, first...), second...)

	for split := 0; split <= len(stream); split++ {
		dec := NewResponseDecoder()
		var got []Response

		for _, part := range [][]byte{stream[:split], stream[split:]} {
			dec.Feed(part)
			for {
				resp, err := dec.Next()
				if errors.Is(err, ErrNeedMoreData) {
					break
				}
				if err != nil {
					t.Fatalf("split %d: unexpected error: %v", split, err)
				}
				got = append(got, resp)
			}
		}

		want := []Response{
			{ID: 1, Message: PreviewResponse{Components: Components{Title{Text: "demo"}, Text{Text: "hello"}}}},
			{ID: 2, Message: ErrorResponse{Message: "boom"}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("split %d: responses mismatch (-want +got):\n%s", split, diff)
		}
		if dec.Buffered() != 0 {
			t.Errorf("split %d: expected empty buffer, got %d bytes", split, dec.Buffered())
		}
	}
}

// TestDecoderSkipsBlankLines tests keep-alive blank lines are ignored.
func TestDecoderSkipsBlankLines(t *testing.T) {
	dec := NewResponseDecoder()
	dec.Feed([]byte("\n\r\n  \n" + `{"id":3,"type":"error","error":{"message":"x"}}` + "\r\n"))

	resp, err := dec.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if resp.ID != 3 {
		t.Errorf("expected id 3, got %d", resp.ID)
	}
	if _, err := dec.Next(); !errors.Is(err, ErrNeedMoreData) {
		t.Errorf("expected ErrNeedMoreData, got %v", err)
	}
}

// TestProtocolErrorMessage tests the error text truncates long frames.
func TestProtocolErrorMessage(t *testing.T) {
	err := &ProtocolError{Frame: []byte(strings.Repeat("x", 200)), Err: errors.New("bad")}
	if len(err.Error()) > 120 {
		t.Errorf("expected truncated error message, got %d chars", len(err.Error()))
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}
