// Package plugin implements the Plugin loader/registry pair: discovery
// from disk, whitelist/blacklist filtering, dynamic load through a
// composite per-extension loader, and lifecycle management.
package plugin

import (
	"context"
	"fmt"
)

// Status is a Plugin's lifecycle state.
type Status string

const (
	StatusUnloaded   Status = "unloaded"
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
	StatusCrashed    Status = "crashed"
	StatusShutdown   Status = "shutdown"
	StatusRestarting Status = "restarting"
)

// Protocol names the transport a Loader speaks to a Plugin process.
type Protocol string

const (
	ProtocolNative Protocol = "native" // .so/.dll/.dylib over go-plugin's handshake-gated net/rpc transport
	ProtocolScript Protocol = "script" // .py/.js/.mjs/.ts routed to an embedded script host
)

// Manifest describes a discoverable Plugin artifact, parsed from its
// "<name>.manifest.yaml" sidecar file.
type Manifest struct {
	Name        string   `yaml:"name" json:"name"`
	Version     string   `yaml:"version" json:"version"`
	Author      string   `yaml:"author,omitempty" json:"author,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Protocol    Protocol `yaml:"protocol" json:"protocol"`
	Contributes []string `yaml:"contributes" json:"contributes"` // "workers" | "adapters" | "aspects"
}

// Config is what the manager needs to load one Plugin instance.
type Config struct {
	Name     string
	Path     string
	Enabled  bool
	Settings map[string]any
	Manifest *Manifest
}

// Plugin is the runtime handle to a loaded artifact.
type Plugin interface {
	Initialize(ctx context.Context, settings map[string]any) error
	Shutdown(ctx context.Context) error
	Manifest() *Manifest
	Status() Status
	Health(ctx context.Context) error
}

// Loader loads and unloads Plugins of one Protocol.
type Loader interface {
	Load(ctx context.Context, cfg *Config) (Plugin, error)
	Unload(ctx context.Context, p Plugin) error
	SupportedProtocol() Protocol
	Validate(ctx context.Context, path string) error
}

// LoadError carries component context for a failed plugin operation,
// per §7's "every non-recovered error path must log with component and
// context fields" — LoadError.Error() renders that context even if the
// caller only logs err.Error().
type LoadError struct {
	PluginName string
	Operation  string
	Message    string
	Err        error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin[%s] %s: %s: %v", e.PluginName, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("plugin[%s] %s: %s", e.PluginName, e.Operation, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

func NewLoadError(name, op, msg string, err error) *LoadError {
	return &LoadError{PluginName: name, Operation: op, Message: msg, Err: err}
}

var (
	ErrNotFound            = fmt.Errorf("plugin: not found")
	ErrAlreadyLoaded       = fmt.Errorf("plugin: already loaded")
	ErrUnsupportedProtocol = fmt.Errorf("plugin: unsupported protocol")
	ErrBlacklisted         = fmt.Errorf("plugin: blacklisted")
	ErrNotWhitelisted      = fmt.Errorf("plugin: not whitelisted")
)

// LifecycleHook runs around a load/unload transition. A non-nil error
// from BeforeX aborts the operation; a non-nil error from AfterX rolls
// back what was just done.
type LifecycleHook func(ctx context.Context, p Plugin) error

type LifecycleHooks struct {
	BeforeLoad, AfterLoad     LifecycleHook
	BeforeInit, AfterInit     LifecycleHook
	BeforeUnload, AfterUnload LifecycleHook
	OnCrash                   LifecycleHook
}
