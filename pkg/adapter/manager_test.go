package adapter

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"testing"
)

// fakeAdapter is a minimal Adapter whose lifecycle methods can be made
// to fail via the corresponding *Err fields.
type fakeAdapter struct {
	name        string
	factoryType string

	initErr   error
	startErr  error
	stopErr   error
	pauseErr  error
	resumeErr error

	initCalls int
}

func (a *fakeAdapter) Name() string        { return a.name }
func (a *fakeAdapter) FactoryType() string  { return a.factoryType }
func (a *fakeAdapter) Initialize(ctx context.Context, settings map[string]any) error {
	a.initCalls++
	return a.initErr
}
func (a *fakeAdapter) Start(ctx context.Context) error  { return a.startErr }
func (a *fakeAdapter) Stop(ctx context.Context) error   { return a.stopErr }
func (a *fakeAdapter) Pause(ctx context.Context) error  { return a.pauseErr }
func (a *fakeAdapter) Resume(ctx context.Context) error { return a.resumeErr }
func (a *fakeAdapter) Health(ctx context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, adapters ...*fakeAdapter) *Manager {
	t.Helper()
	factories := NewFactoryRegistry()
	for _, a := range adapters {
		a := a
		if err := factories.Register(a.factoryType, func(name string, settings map[string]any) (Adapter, error) {
			return a, nil
		}); err != nil {
			t.Fatalf("Register factory: %v", err)
		}
	}
	return NewManager(factories, testLogger())
}

func TestManagerLoadHappyPath(t *testing.T) {
	a := &fakeAdapter{name: "slack", factoryType: "slack-ingress"}
	m := newTestManager(t, a)

	err := m.Load(context.Background(), Config{Name: "slack", FactoryType: "slack-ingress", Enabled: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	status, ok := m.Status("slack")
	if !ok || status != StatusRunning {
		t.Fatalf("expected Running, got %s (ok=%v)", status, ok)
	}
	if a.initCalls != 1 {
		t.Fatalf("expected Initialize called once, got %d", a.initCalls)
	}
}

func TestManagerLoadDisabledIsNoop(t *testing.T) {
	a := &fakeAdapter{name: "slack", factoryType: "slack-ingress"}
	m := newTestManager(t, a)

	if err := m.Load(context.Background(), Config{Name: "slack", FactoryType: "slack-ingress", Enabled: false}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := m.Status("slack"); ok {
		t.Fatalf("expected a disabled adapter to not be registered")
	}
}

func TestManagerLoadInitializeFailurePinsError(t *testing.T) {
	a := &fakeAdapter{name: "broken", factoryType: "broken-type", initErr: errors.New("boom")}
	m := newTestManager(t, a)

	err := m.Load(context.Background(), Config{Name: "broken", FactoryType: "broken-type", Enabled: true})
	if err == nil {
		t.Fatalf("expected Load to fail")
	}
	if _, ok := m.Status("broken"); ok {
		t.Fatalf("expected a failed Load to leave the adapter unregistered")
	}
}

func TestManagerPauseResume(t *testing.T) {
	a := &fakeAdapter{name: "slack", factoryType: "slack-ingress"}
	m := newTestManager(t, a)
	if err := m.Load(context.Background(), Config{Name: "slack", FactoryType: "slack-ingress", Enabled: true}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := m.Pause(context.Background(), "slack"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if status, _ := m.Status("slack"); status != StatusPaused {
		t.Fatalf("expected Paused, got %s", status)
	}

	if err := m.Resume(context.Background(), "slack"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if status, _ := m.Status("slack"); status != StatusRunning {
		t.Fatalf("expected Running, got %s", status)
	}
}

func TestManagerRestartRequiresErrorState(t *testing.T) {
	a := &fakeAdapter{name: "slack", factoryType: "slack-ingress"}
	m := newTestManager(t, a)
	if err := m.Load(context.Background(), Config{Name: "slack", FactoryType: "slack-ingress", Enabled: true}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := m.Restart(context.Background(), "slack", Config{}); err == nil {
		t.Fatalf("expected Restart to refuse a non-Error adapter")
	}
}

func TestManagerRestartRecoversFromError(t *testing.T) {
	a := &fakeAdapter{name: "slack", factoryType: "slack-ingress", startErr: errors.New("boom")}
	m := newTestManager(t, a)
	if err := m.Load(context.Background(), Config{Name: "slack", FactoryType: "slack-ingress", Enabled: true}); err == nil {
		t.Fatalf("expected the initial Load to fail (Start fails)")
	}

	// The factory returns the same *fakeAdapter instance every build,
	// but Load only calls Build once on failure and never registers it.
	// Drive a managed instance directly through the registry path by
	// loading again after clearing the failure, then forcing an error.
	a.startErr = nil
	if err := m.Load(context.Background(), Config{Name: "slack", FactoryType: "slack-ingress", Enabled: true}); err != nil {
		t.Fatalf("second Load: %v", err)
	}

	if err := m.Pause(context.Background(), "slack"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	a.resumeErr = errors.New("resume boom")
	if err := m.Resume(context.Background(), "slack"); err == nil {
		t.Fatalf("expected Resume to fail")
	}
	status, ok := m.Status("slack")
	if !ok || status != StatusError {
		t.Fatalf("expected Error after the failed Resume, got %s (ok=%v)", status, ok)
	}

	a.resumeErr = nil
	if err := m.Restart(context.Background(), "slack", Config{}); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	status, ok = m.Status("slack")
	if !ok || status != StatusRunning {
		t.Fatalf("expected Running after Restart, got %s (ok=%v)", status, ok)
	}
}

func TestManagerShutdownStopsEverything(t *testing.T) {
	a1 := &fakeAdapter{name: "a1", factoryType: "t1"}
	a2 := &fakeAdapter{name: "a2", factoryType: "t2"}
	m := newTestManager(t, a1, a2)

	for _, cfg := range []Config{
		{Name: "a1", FactoryType: "t1", Enabled: true},
		{Name: "a2", FactoryType: "t2", Enabled: true},
	} {
		if err := m.Load(context.Background(), cfg); err != nil {
			t.Fatalf("Load %s: %v", cfg.Name, err)
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(m.Names()) != 0 {
		t.Fatalf("expected every adapter removed after Shutdown, got %v", m.Names())
	}
}
