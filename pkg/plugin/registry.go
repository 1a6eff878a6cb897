package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/loquat/loquat/pkg/registry"
)

// Registry drives the full load → initialize → (reload) → unload
// lifecycle for Plugins discovered on disk, delegating the actual I/O
// to a per-protocol Loader. It never hard-codes a Plugin
// implementation.
type Registry struct {
	*registry.BaseRegistry[Plugin]

	mu      sync.RWMutex
	loaders map[Protocol]Loader
	hooks   *LifecycleHooks

	whitelist map[string]bool
	blacklist map[string]bool
}

// RegistryConfig controls whitelist/blacklist filtering and lifecycle hooks.
type RegistryConfig struct {
	Whitelist []string
	Blacklist []string
	Hooks     *LifecycleHooks
}

func NewRegistry(cfg *RegistryConfig) *Registry {
	if cfg == nil {
		cfg = &RegistryConfig{}
	}
	r := &Registry{
		BaseRegistry: registry.NewBaseRegistry[Plugin](),
		loaders:      make(map[Protocol]Loader),
		hooks:        cfg.Hooks,
		whitelist:    toSet(cfg.Whitelist),
		blacklist:    toSet(cfg.Blacklist),
	}
	return r
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// RegisterLoader adds a per-protocol Loader; the manager dispatches by
// Config.Manifest.Protocol.
func (r *Registry) RegisterLoader(l Loader) error {
	if l == nil {
		return fmt.Errorf("plugin registry: nil loader")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.loaders[l.SupportedProtocol()]; exists {
		return fmt.Errorf("plugin registry: loader for protocol %q already registered", l.SupportedProtocol())
	}
	r.loaders[l.SupportedProtocol()] = l
	return nil
}

func (r *Registry) getLoader(p Protocol) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[p]
	if !ok {
		return nil, fmt.Errorf("plugin registry: %w: %s", ErrUnsupportedProtocol, p)
	}
	return l, nil
}

// allowed applies whitelist-then-blacklist filtering: if a whitelist is
// configured, only listed names are allowed; blacklisted names are
// always rejected regardless of whitelist.
func (r *Registry) allowed(name string) error {
	if len(r.whitelist) > 0 && !r.whitelist[name] {
		return NewLoadError(name, "Load", "not in whitelist", ErrNotWhitelisted)
	}
	if r.blacklist[name] {
		return NewLoadError(name, "Load", "blacklisted", ErrBlacklisted)
	}
	return nil
}

// LoadOne runs a discovered Plugin through the full lifecycle:
// validate, hooks, load, initialize, register. Failure to load one
// artifact never aborts the caller's scan of others —
// the caller (the discovery loops in cmd/loquat) is expected to keep
// iterating past a returned error.
func (r *Registry) LoadOne(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return NewLoadError("", "Load", "config is nil", nil)
	}
	if !cfg.Enabled {
		return nil
	}
	if err := r.allowed(cfg.Name); err != nil {
		return err
	}
	if cfg.Manifest == nil {
		return NewLoadError(cfg.Name, "Load", "manifest is required", nil)
	}

	loader, err := r.getLoader(cfg.Manifest.Protocol)
	if err != nil {
		return NewLoadError(cfg.Name, "Load", "no loader for protocol", err)
	}

	if err := loader.Validate(ctx, cfg.Path); err != nil {
		return NewLoadError(cfg.Name, "Load", "validation failed", err)
	}

	if err := r.runHook(ctx, r.beforeLoad(), nil); err != nil {
		return NewLoadError(cfg.Name, "Load", "before-load hook failed", err)
	}

	p, err := loader.Load(ctx, cfg)
	if err != nil {
		return NewLoadError(cfg.Name, "Load", "load failed", err)
	}

	if err := r.runHook(ctx, r.afterLoad(), p); err != nil {
		_ = loader.Unload(ctx, p)
		return NewLoadError(cfg.Name, "Load", "after-load hook failed", err)
	}

	if err := r.runHook(ctx, r.beforeInit(), p); err != nil {
		_ = loader.Unload(ctx, p)
		return NewLoadError(cfg.Name, "Load", "before-init hook failed", err)
	}

	if err := p.Initialize(ctx, cfg.Settings); err != nil {
		_ = loader.Unload(ctx, p)
		return NewLoadError(cfg.Name, "Load", "initialize failed", err)
	}

	if err := r.runHook(ctx, r.afterInit(), p); err != nil {
		_ = p.Shutdown(ctx)
		_ = loader.Unload(ctx, p)
		return NewLoadError(cfg.Name, "Load", "after-init hook failed", err)
	}

	if err := r.Register(cfg.Name, p); err != nil {
		_ = p.Shutdown(ctx)
		_ = loader.Unload(ctx, p)
		return NewLoadError(cfg.Name, "Load", "registration failed", err)
	}

	return nil
}

// Unload runs the shutdown half of the lifecycle for a registered
// Plugin.
func (r *Registry) Unload(ctx context.Context, name string) error {
	p, ok := r.Get(name)
	if !ok {
		return NewLoadError(name, "Unload", "not found", ErrNotFound)
	}

	if err := r.runHook(ctx, r.beforeUnload(), p); err != nil {
		return NewLoadError(name, "Unload", "before-unload hook failed", err)
	}

	if err := p.Shutdown(ctx); err != nil {
		return NewLoadError(name, "Unload", "shutdown failed", err)
	}

	manifest := p.Manifest()
	if manifest != nil {
		loader, err := r.getLoader(manifest.Protocol)
		if err == nil {
			if err := loader.Unload(ctx, p); err != nil {
				return NewLoadError(name, "Unload", "loader unload failed", err)
			}
		}
	}

	if err := r.Remove(name); err != nil {
		return NewLoadError(name, "Unload", "removal failed", err)
	}

	return r.runHook(ctx, r.afterUnload(), p)
}

// Reload re-loads a Plugin from cfg, leaving the prior instance in
// place if the new load fails — no partial replacement. Once the new
// instance is registered, the prior one is shut down and unloaded
// through its loader; the unload hooks are not run for it.
func (r *Registry) Reload(ctx context.Context, cfg *Config) error {
	old, ok := r.Get(cfg.Name)
	if !ok {
		return r.LoadOne(ctx, cfg)
	}
	if err := r.Remove(cfg.Name); err != nil {
		return NewLoadError(cfg.Name, "Reload", "removal failed", err)
	}
	if err := r.LoadOne(ctx, cfg); err != nil {
		_ = r.Register(cfg.Name, old)
		return err
	}
	if err := old.Shutdown(ctx); err != nil {
		return NewLoadError(cfg.Name, "Reload", "prior instance shutdown failed", err)
	}
	if m := old.Manifest(); m != nil {
		if loader, err := r.getLoader(m.Protocol); err == nil {
			return loader.Unload(ctx, old)
		}
	}
	return nil
}

func (r *Registry) runHook(ctx context.Context, hook LifecycleHook, p Plugin) error {
	if hook == nil {
		return nil
	}
	return hook(ctx, p)
}

func (r *Registry) beforeLoad() LifecycleHook {
	if r.hooks == nil {
		return nil
	}
	return r.hooks.BeforeLoad
}
func (r *Registry) afterLoad() LifecycleHook {
	if r.hooks == nil {
		return nil
	}
	return r.hooks.AfterLoad
}
func (r *Registry) beforeInit() LifecycleHook {
	if r.hooks == nil {
		return nil
	}
	return r.hooks.BeforeInit
}
func (r *Registry) afterInit() LifecycleHook {
	if r.hooks == nil {
		return nil
	}
	return r.hooks.AfterInit
}
func (r *Registry) beforeUnload() LifecycleHook {
	if r.hooks == nil {
		return nil
	}
	return r.hooks.BeforeUnload
}
func (r *Registry) afterUnload() LifecycleHook {
	if r.hooks == nil {
		return nil
	}
	return r.hooks.AfterUnload
}

// Shutdown unloads every registered Plugin, collecting (not stopping
// on) individual failures.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range r.List() {
		manifest := p.Manifest()
		if manifest == nil {
			continue
		}
		if err := r.Unload(ctx, manifest.Name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("plugin registry: %d plugin(s) failed to shut down: %v", len(errs), errs)
	}
	return nil
}
