package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/loquat/loquat/pkg/adapter"
	"github.com/loquat/loquat/pkg/channel"
	"github.com/loquat/loquat/pkg/engine"
	"github.com/loquat/loquat/pkg/plugin"
	"github.com/loquat/loquat/pkg/router"
	"github.com/loquat/loquat/pkg/stream"
)

type fakePlugin struct {
	manifest *plugin.Manifest
	status   plugin.Status
}

func (p *fakePlugin) Initialize(ctx context.Context, settings map[string]any) error { return nil }
func (p *fakePlugin) Shutdown(ctx context.Context) error                            { return nil }
func (p *fakePlugin) Manifest() *plugin.Manifest                                    { return p.manifest }
func (p *fakePlugin) Status() plugin.Status                                         { return p.status }
func (p *fakePlugin) Health(ctx context.Context) error                              { return nil }

func newTestServer(t *testing.T, opts ...Option) (*Server, *plugin.Registry, *adapter.Manager) {
	t.Helper()
	eng := engine.New(router.New(), channel.New(), stream.New())
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}
	plugins := plugin.NewRegistry(&plugin.RegistryConfig{})
	adapters := adapter.NewManager(adapter.NewFactoryRegistry(), nil)
	return New(eng, plugins, adapters, opts...), plugins, adapters
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var e envelope
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode envelope: %v (body: %s)", err, body)
	}
	return e
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.ServeHTTP(rec, req)

	e := decodeEnvelope(t, rec.Body.Bytes())
	if !e.Success {
		t.Fatalf("expected success, got %+v", e)
	}
	data := e.Data.(map[string]any)
	if data["engine_status"] != "Running" {
		t.Fatalf("expected engine_status Running, got %v", data["engine_status"])
	}
}

func TestHandleListPlugins(t *testing.T) {
	s, plugins, _ := newTestServer(t)
	if err := plugins.Register("echo", &fakePlugin{manifest: &plugin.Manifest{Name: "echo"}, status: plugin.StatusReady}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/plugins", nil))

	e := decodeEnvelope(t, rec.Body.Bytes())
	names, ok := e.Data.([]any)
	if !ok || len(names) != 1 || names[0] != "echo" {
		t.Fatalf("expected [\"echo\"], got %+v", e.Data)
	}
}

func TestHandleGetPluginNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/plugins/missing", nil))

	e := decodeEnvelope(t, rec.Body.Bytes())
	if e.Success {
		t.Fatalf("expected success=false for a missing plugin, got %+v", e)
	}
}

func TestHandleListAdapters(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/adapters", nil))

	e := decodeEnvelope(t, rec.Body.Bytes())
	names, ok := e.Data.([]any)
	if !ok || len(names) != 0 {
		t.Fatalf("expected no adapters registered, got %+v", e.Data)
	}
}

func TestHandleReloadPluginsUsesWiredReloader(t *testing.T) {
	called := false
	s, _, _ := newTestServer(t, WithPluginReloader(func(ctx context.Context) (int, error) {
		called = true
		return 3, nil
	}))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("POST", "/api/plugins/reload", nil))

	if !called {
		t.Fatalf("expected the wired plugin reloader to be invoked")
	}
	e := decodeEnvelope(t, rec.Body.Bytes())
	data := e.Data.(map[string]any)
	if data["reloaded"].(float64) != 3 {
		t.Fatalf("expected reloaded=3, got %v", data["reloaded"])
	}
}

func TestHandleReloadPluginsDefaultsToNoop(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("POST", "/api/plugins/reload", nil))

	e := decodeEnvelope(t, rec.Body.Bytes())
	data := e.Data.(map[string]any)
	if data["reloaded"].(float64) != 0 {
		t.Fatalf("expected reloaded=0 with no reloader wired, got %v", data["reloaded"])
	}
}

func TestHandleReloadAllSumsBothReloaders(t *testing.T) {
	s, _, _ := newTestServer(t,
		WithPluginReloader(func(ctx context.Context) (int, error) { return 2, nil }),
		WithAdapterReloader(func(ctx context.Context) (int, error) { return 5, nil }),
	)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("POST", "/api/reload", nil))

	e := decodeEnvelope(t, rec.Body.Bytes())
	data := e.Data.(map[string]any)
	if data["reloaded"].(float64) != 7 {
		t.Fatalf("expected reloaded=7, got %v", data["reloaded"])
	}
}

func TestHandleReloadAllSurfacesReloaderError(t *testing.T) {
	s, _, _ := newTestServer(t,
		WithPluginReloader(func(ctx context.Context) (int, error) { return 0, errors.New("scan failed") }),
	)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("POST", "/api/reload", nil))

	e := decodeEnvelope(t, rec.Body.Bytes())
	if e.Success {
		t.Fatalf("expected success=false when a reloader errors, got %+v", e)
	}
}

func TestHandleConfigReturnsSanitizedShape(t *testing.T) {
	s, plugins, _ := newTestServer(t)
	if err := plugins.Register("echo", &fakePlugin{manifest: &plugin.Manifest{Name: "echo"}, status: plugin.StatusReady}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", "/api/config", nil))

	e := decodeEnvelope(t, rec.Body.Bytes())
	data := e.Data.(map[string]any)
	if _, ok := data["adapters"]; !ok {
		t.Fatalf("expected an 'adapters' key in the config view, got %+v", data)
	}
	plugins2, ok := data["plugins"].([]any)
	if !ok || len(plugins2) != 1 || plugins2[0] != "echo" {
		t.Fatalf("expected plugins=[\"echo\"], got %+v", data["plugins"])
	}
}
