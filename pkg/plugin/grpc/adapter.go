package grpc

import (
	"context"
	"fmt"

	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/loquat/loquat/pkg/plugin"
)

// pluginAdapter wraps a dispensed Contributor and its owning go-plugin
// client into the plugin.Plugin interface the Registry drives.
type pluginAdapter struct {
	contributor Contributor
	manifest    *plugin.Manifest
	client      *hcplugin.Client
	status      plugin.Status
}

func newAdapter(c Contributor, m *plugin.Manifest, client *hcplugin.Client) *pluginAdapter {
	return &pluginAdapter{contributor: c, manifest: m, client: client, status: plugin.StatusLoading}
}

func (a *pluginAdapter) Initialize(_ context.Context, settings map[string]any) error {
	if err := a.contributor.Initialize(settings); err != nil {
		a.status = plugin.StatusError
		return err
	}
	a.status = plugin.StatusReady
	return nil
}

func (a *pluginAdapter) Shutdown(_ context.Context) error {
	err := a.contributor.Shutdown()
	a.status = plugin.StatusShutdown
	return err
}

func (a *pluginAdapter) Manifest() *plugin.Manifest { return a.manifest }

func (a *pluginAdapter) Status() plugin.Status { return a.status }

func (a *pluginAdapter) Health(_ context.Context) error {
	if a.client.Exited() {
		a.status = plugin.StatusCrashed
		return fmt.Errorf("plugin process exited")
	}
	return a.contributor.Health()
}
