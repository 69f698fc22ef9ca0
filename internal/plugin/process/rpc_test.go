package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kiorg/kiorg/pkg/plugin"
)

const rpcHelperEnv = "KIORG_TEST_RPC_HELPER"

type helperPlugin struct{}

func (helperPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:    "rpc-helper",
		Version: "1.0.0",
		Capabilities: plugin.Capabilities{
			Preview: &plugin.PreviewCapability{FilePattern: `.*\.rpc$`},
		},
	}
}

func (helperPlugin) Preview(_ context.Context, path string) ([]plugin.Component, error) {
	if path == "refuse.rpc" {
		return nil, errors.New("refused")
	}
	return []plugin.Component{plugin.Title{Text: path}}, nil
}

// TestRPCHelperProcess is not a real test. It is the plugin side of the
// go-plugin tests, started by re-executing the test binary.
func TestRPCHelperProcess(t *testing.T) {
	if os.Getenv(rpcHelperEnv) != "1" {
		return
	}
	plugin.ServeRPC(helperPlugin{})
	os.Exit(0)
}

func helperLauncher() Launcher {
	return func(string) (Transport, error) {
		cmd := exec.Command(os.Args[0], "-test.run=^TestRPCHelperProcess$")
		cmd.Env = append(os.Environ(), rpcHelperEnv+"=1")
		return newRPCTransport(cmd, hclog.NewNullLogger()), nil
	}
}

func TestRPCTransportPreview(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a plugin process")
	}

	p := New("rpc-helper", Options{Launch: helperLauncher()})
	t.Cleanup(func() { _ = p.Shutdown() })

	if err := p.Spawn(); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	md, err := p.Handshake(context.Background(), 10*time.Second)
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if md.Name != "rpc-helper" || md.ProtocolVersion != plugin.ProtocolVersion {
		t.Errorf("unexpected metadata %+v", md)
	}

	ok, _ := p.Send(plugin.Preview{Path: "x.rpc"})
	refused, _ := p.Send(plugin.Preview{Path: "refuse.rpc"})

	got := make(map[plugin.CallID]Result)
	deadline := time.Now().Add(10 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		for _, r := range p.Poll() {
			got[r.ID] = r
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, isPreview := got[ok].Message.(plugin.PreviewResponse)
	if !isPreview || len(resp.Components) != 1 {
		t.Fatalf("expected one-component preview, got %+v", got[ok])
	}
	if title, _ := resp.Components[0].(plugin.Title); title.Text != "x.rpc" {
		t.Errorf("unexpected component %#v", resp.Components[0])
	}

	// A plugin error is a response, not a crash.
	if er, isErr := got[refused].Message.(plugin.ErrorResponse); !isErr || er.Message != "refused" {
		t.Errorf("expected ErrorResponse(refused), got %+v", got[refused])
	}
	if p.State() != Ready {
		t.Errorf("expected Ready, got %s", p.State())
	}
}

func TestRPCLauncherMissingBinary(t *testing.T) {
	launch := RPCLauncher(nil)
	if _, err := launch("/nonexistent/plugin"); err == nil {
		t.Error("expected error for missing binary")
	}
}
