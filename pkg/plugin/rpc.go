package plugin

import (
	"context"
	"encoding/json"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// PreviewPluginRPC implements the go-plugin Plugin interface for preview plugins.
type PreviewPluginRPC struct {
	plugin.Plugin
	Impl PreviewPlugin
}

// Server returns an RPC server for this plugin.
func (p *PreviewPluginRPC) Server(*plugin.MuxBroker) (any, error) {
	return &PreviewRPCServer{Impl: p.Impl}, nil
}

// Client returns an RPC client for this plugin.
func (p *PreviewPluginRPC) Client(_ *plugin.MuxBroker, c *rpc.Client) (any, error) {
	return &PreviewRPCClient{client: c}, nil
}

// PreviewArgs is the argument of the Preview RPC.
type PreviewArgs struct {
	Path string
}

// PreviewRPCServer is the RPC server implementation for preview plugins.
type PreviewRPCServer struct {
	Impl PreviewPlugin
}

// Hello implements the RPC method for the handshake.
func (s *PreviewRPCServer) Hello(_ any, resp *Metadata) error {
	*resp = advertised(s.Impl)
	return nil
}

// Preview implements the RPC method for rendering a preview. Components
// cross the wire in their JSON form since gob cannot carry the interface.
func (s *PreviewRPCServer) Preview(args PreviewArgs, resp *[]byte) error {
	comps, err := s.Impl.Preview(context.Background(), args.Path)
	if err != nil {
		return err
	}

	data, err := json.Marshal(Components(comps))
	if err != nil {
		return err
	}

	*resp = data
	return nil
}

// PreviewRPCClient is the RPC client implementation for preview plugins.
type PreviewRPCClient struct {
	client *rpc.Client
}

// Hello calls the remote Hello method.
func (c *PreviewRPCClient) Hello() (Metadata, error) {
	var md Metadata
	err := c.client.Call("Plugin.Hello", new(any), &md)
	return md, err
}

// Preview calls the remote Preview method.
func (c *PreviewRPCClient) Preview(path string) (Components, error) {
	var data []byte
	if err := c.client.Call("Plugin.Preview", PreviewArgs{Path: path}, &data); err != nil {
		return nil, err
	}

	var comps Components
	if err := json.Unmarshal(data, &comps); err != nil {
		return nil, err
	}
	return comps, nil
}

// ServeRPC serves p over go-plugin. It blocks until the host disconnects.
func ServeRPC(p PreviewPlugin) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			RPCPluginName: &PreviewPluginRPC{Impl: p},
		},
	})
}
