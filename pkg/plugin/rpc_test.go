package plugin

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-plugin"
)

func dispensePreview(t *testing.T, impl PreviewPlugin) *PreviewRPCClient {
	t.Helper()

	client, _ := plugin.TestPluginRPCConn(t, map[string]plugin.Plugin{
		RPCPluginName: &PreviewPluginRPC{Impl: impl},
	}, nil)
	t.Cleanup(func() { client.Close() })

	raw, err := client.Dispense(RPCPluginName)
	if err != nil {
		t.Fatalf("Dispense failed: %v", err)
	}

	rpcClient, ok := raw.(*PreviewRPCClient)
	if !ok {
		t.Fatalf("expected *PreviewRPCClient, got %T", raw)
	}
	return rpcClient
}

// TestPreviewPluginRPC tests the preview plugin RPC wrapper.
func TestPreviewPluginRPC(t *testing.T) {
	mock := &mockPreviewPlugin{
		metadata: Metadata{
			Name:         "rpc-demo",
			Version:      "2.0.0",
			Description:  "demo over go-plugin",
			Capabilities: Capabilities{Preview: &PreviewCapability{FilePattern: `.*\.demo$`}},
		},
		components: []Component{
			Title{Text: "demo"},
			Table{Headers: []string{"key"}, Rows: [][]string{{"value"}}},
		},
	}

	client := dispensePreview(t, mock)

	md, err := client.Hello()
	if err != nil {
		t.Fatalf("Hello failed: %v", err)
	}
	if md.Name != "rpc-demo" || md.ProtocolVersion != ProtocolVersion {
		t.Errorf("unexpected metadata: %+v", md)
	}
	if md.Capabilities.Preview == nil || md.Capabilities.Preview.FilePattern != `.*\.demo$` {
		t.Errorf("expected preview capability to survive RPC, got %+v", md.Capabilities)
	}

	comps, err := client.Preview("x.demo")
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	want := Components{Title{Text: "demo"}, Table{Headers: []string{"key"}, Rows: [][]string{{"value"}}}}
	if diff := cmp.Diff(want, comps); diff != "" {
		t.Errorf("components mismatch (-want +got):\n%s", diff)
	}
}

// TestPreviewPluginRPCError tests plugin errors cross the RPC boundary.
func TestPreviewPluginRPCError(t *testing.T) {
	client := dispensePreview(t, &mockPreviewPlugin{previewErr: errors.New("cannot decode")})

	_, err := client.Preview("x.demo")
	if err == nil {
		t.Fatal("expected error from plugin")
	}
	if !strings.Contains(err.Error(), "cannot decode") {
		t.Errorf("expected plugin error text, got %v", err)
	}
}
