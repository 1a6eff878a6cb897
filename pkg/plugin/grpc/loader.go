// Package grpc implements the native Plugin Loader: it launches a
// Plugin artifact as a subprocess and speaks to it over
// hashicorp/go-plugin's handshake-gated RPC transport.
//
// Loquat's Plugin contract is a single small interface (contribute
// Workers/Adapters, report health), so this loader uses go-plugin's
// plain net/rpc transport rather than a generated gRPC service — the
// same library, its other officially documented transport, with no
// .proto compilation step needed for a contract this small.
package grpc

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"

	hclog "github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/loquat/loquat/pkg/plugin"
)

// Handshake gates the wire protocol version and provides a shared
// secret cookie so a Loquat host never accidentally dispenses to an
// unrelated child process.
var Handshake = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "LOQUAT_PLUGIN",
	MagicCookieValue: "loquat_plugin_v1",
}

// Contributor is what a native Plugin process exposes across the RPC
// boundary: enough to initialize it, ask what it contributes, and
// check on it.
type Contributor interface {
	Initialize(settings map[string]any) error
	Shutdown() error
	Health() error
	Contributes() []string
}

// contributorRPC adapts Contributor to net/rpc's server/client split,
// following hashicorp/go-plugin's documented basic-plugin pattern.
type contributorRPCServer struct{ Impl Contributor }

func (s *contributorRPCServer) Initialize(settings map[string]any, _ *struct{}) error {
	return s.Impl.Initialize(settings)
}
func (s *contributorRPCServer) Shutdown(_ struct{}, _ *struct{}) error {
	return s.Impl.Shutdown()
}
func (s *contributorRPCServer) Health(_ struct{}, _ *struct{}) error {
	return s.Impl.Health()
}
func (s *contributorRPCServer) Contributes(_ struct{}, resp *[]string) error {
	*resp = s.Impl.Contributes()
	return nil
}

type contributorRPCClient struct{ client *rpc.Client }

func (c *contributorRPCClient) Initialize(settings map[string]any) error {
	return c.client.Call("Plugin.Initialize", settings, &struct{}{})
}
func (c *contributorRPCClient) Shutdown() error {
	return c.client.Call("Plugin.Shutdown", struct{}{}, &struct{}{})
}
func (c *contributorRPCClient) Health() error {
	return c.client.Call("Plugin.Health", struct{}{}, &struct{}{})
}
func (c *contributorRPCClient) Contributes() []string {
	var resp []string
	_ = c.client.Call("Plugin.Contributes", struct{}{}, &resp)
	return resp
}

// ContributorPlugin implements hcplugin.Plugin for Contributor.
type ContributorPlugin struct {
	Impl Contributor
}

func (p *ContributorPlugin) Server(*hcplugin.MuxBroker) (any, error) {
	return &contributorRPCServer{Impl: p.Impl}, nil
}

func (p *ContributorPlugin) Client(_ *hcplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &contributorRPCClient{client: c}, nil
}

// Loader is the native plugin.Loader implementation.
type Loader struct {
	logger hclog.Logger
}

func NewLoader() *Loader {
	return &Loader{
		logger: hclog.New(&hclog.LoggerOptions{Name: "loquat-plugin", Level: hclog.Info}),
	}
}

func (l *Loader) SupportedProtocol() plugin.Protocol { return plugin.ProtocolNative }

func (l *Loader) Validate(_ context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("empty plugin path")
	}
	return nil
}

func (l *Loader) Load(_ context.Context, cfg *plugin.Config) (plugin.Plugin, error) {
	if cfg == nil || cfg.Manifest == nil {
		return nil, fmt.Errorf("plugin config/manifest required")
	}

	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]hcplugin.Plugin{
			"contributor": &ContributorPlugin{},
		},
		Cmd:              exec.Command(cfg.Path),
		Logger:           l.logger,
		AllowedProtocols: []hcplugin.Protocol{hcplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense("contributor")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dispense plugin: %w", err)
	}

	contributor, ok := raw.(Contributor)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin does not implement Contributor")
	}

	return newAdapter(contributor, cfg.Manifest, client), nil
}

func (l *Loader) Unload(_ context.Context, p plugin.Plugin) error {
	if a, ok := p.(*pluginAdapter); ok && a.client != nil {
		a.client.Kill()
	}
	return nil
}
