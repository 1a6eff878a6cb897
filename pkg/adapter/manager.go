package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loquat/loquat/pkg/registry"
)

// managed pairs an Adapter instance with its own StateMachine; the
// manager never exposes Adapters without a machine attached.
type managed struct {
	Adapter
	sm *StateMachine
}

// Config is what the manager needs to construct one Adapter via its
// factory_type.
type Config struct {
	Name        string
	FactoryType string
	Enabled     bool
	Settings    map[string]any
}

// Manager drives the construct→initialize→start lifecycle for
// Adapters, dispatching construction through a FactoryRegistry.
// Manager is cheap to share: copying the struct clones the handles
// (registry pointers), not the underlying state.
type Manager struct {
	registry *registry.BaseRegistry[*managed]
	factories *FactoryRegistry
	logger   *slog.Logger
}

func NewManager(factories *FactoryRegistry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:  registry.NewBaseRegistry[*managed](),
		factories: factories,
		logger:    logger,
	}
}

// Load constructs, initializes, and starts an Adapter from cfg. A
// failure at any stage pins the adapter's state machine to Error and
// the adapter is not registered.
func (m *Manager) Load(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	a, err := m.factories.Build(cfg.FactoryType, cfg.Name, cfg.Settings)
	if err != nil {
		return fmt.Errorf("adapter manager: build %q: %w", cfg.Name, err)
	}

	mg := &managed{Adapter: a, sm: NewStateMachine()}

	if err := mg.sm.Transition(StatusInitializing); err != nil {
		return fmt.Errorf("adapter manager: %q: %w", cfg.Name, err)
	}
	if err := a.Initialize(ctx, cfg.Settings); err != nil {
		mg.sm.Transition(StatusError)
		m.logger.Error("adapter: initialize failed", "component", "Adapter", "adapter", cfg.Name, "error", err)
		return fmt.Errorf("adapter manager: initialize %q: %w", cfg.Name, err)
	}
	if err := mg.sm.Transition(StatusReady); err != nil {
		return fmt.Errorf("adapter manager: %q: %w", cfg.Name, err)
	}

	if err := a.Start(ctx); err != nil {
		mg.sm.Transition(StatusError)
		m.logger.Error("adapter: start failed", "component", "Adapter", "adapter", cfg.Name, "error", err)
		return fmt.Errorf("adapter manager: start %q: %w", cfg.Name, err)
	}
	if err := mg.sm.Transition(StatusRunning); err != nil {
		return fmt.Errorf("adapter manager: %q: %w", cfg.Name, err)
	}

	return m.registry.Register(cfg.Name, mg)
}

// Stop transitions a running or paused Adapter to Stopped and removes
// it from the registry.
func (m *Manager) Stop(ctx context.Context, name string) error {
	mg, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("adapter manager: %q not found", name)
	}
	if err := mg.Adapter.Stop(ctx); err != nil {
		mg.sm.Transition(StatusError)
		return fmt.Errorf("adapter manager: stop %q: %w", name, err)
	}
	if err := mg.sm.Transition(StatusStopped); err != nil {
		return err
	}
	return m.registry.Remove(name)
}

// Pause and Resume move a running Adapter between Running and Paused.
func (m *Manager) Pause(ctx context.Context, name string) error {
	mg, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("adapter manager: %q not found", name)
	}
	if err := mg.Adapter.Pause(ctx); err != nil {
		mg.sm.Transition(StatusError)
		return err
	}
	return mg.sm.Transition(StatusPaused)
}

func (m *Manager) Resume(ctx context.Context, name string) error {
	mg, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("adapter manager: %q not found", name)
	}
	if err := mg.Adapter.Resume(ctx); err != nil {
		mg.sm.Transition(StatusError)
		return err
	}
	return mg.sm.Transition(StatusRunning)
}

// Restart is the Error-state recovery path: it re-initializes and
// restarts an Adapter currently pinned to Error. cmd/loquat calls it
// for every Adapter in Error on each tick of its adapter poll loop and
// from the HTTP adapter-reload endpoint; no artifact check gates it. Loquat
// always re-initializes in place rather than requiring a full
// unload/reload cycle.
func (m *Manager) Restart(ctx context.Context, name string, cfg Config) error {
	mg, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("adapter manager: %q not found", name)
	}
	if mg.sm.Status() != StatusError {
		return fmt.Errorf("adapter manager: %q is not in Error state", name)
	}

	if err := mg.sm.Transition(StatusInitializing); err != nil {
		return err
	}
	if err := mg.Adapter.Initialize(ctx, cfg.Settings); err != nil {
		mg.sm.Transition(StatusError)
		return fmt.Errorf("adapter manager: restart initialize %q: %w", name, err)
	}
	if err := mg.sm.Transition(StatusReady); err != nil {
		return err
	}
	if err := mg.Adapter.Start(ctx); err != nil {
		mg.sm.Transition(StatusError)
		return fmt.Errorf("adapter manager: restart start %q: %w", name, err)
	}
	return mg.sm.Transition(StatusRunning)
}

// Status reports an Adapter's current lifecycle state.
func (m *Manager) Status(name string) (Status, bool) {
	mg, ok := m.registry.Get(name)
	if !ok {
		return "", false
	}
	return mg.sm.Status(), true
}

// History reports an Adapter's recorded transitions.
func (m *Manager) History(name string) ([]Transition, bool) {
	mg, ok := m.registry.Get(name)
	if !ok {
		return nil, false
	}
	return mg.sm.History(), true
}

// Names lists every currently registered Adapter name.
func (m *Manager) Names() []string {
	names := make([]string, 0, m.registry.Count())
	for _, mg := range m.registry.List() {
		names = append(names, mg.Adapter.Name())
	}
	return names
}

// Shutdown stops every registered Adapter, collecting (not stopping
// on) individual failures.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, mg := range m.registry.List() {
		if err := m.Stop(ctx, mg.Adapter.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("adapter manager: %d adapter(s) failed to stop: %v", len(errs), errs)
	}
	return nil
}
