// Package httpserver is the peripheral HTTP management surface: a
// chi-routed, read-mostly set of handlers over the Engine, Plugin
// manager, and Adapter manager.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loquat/loquat/pkg/adapter"
	"github.com/loquat/loquat/pkg/engine"
	"github.com/loquat/loquat/pkg/plugin"
)

// envelope is the response shape every endpoint returns; non-2xx is
// reserved for transport-level errors, domain errors surface as
// success=false.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, envelope{Success: true, Data: data, Timestamp: now()})
}

func writeFail(w http.ResponseWriter, status int, err string) {
	writeEnvelope(w, status, envelope{Success: false, Error: err, Timestamp: now()})
}

func writeEnvelope(w http.ResponseWriter, status int, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// Reloader re-scans and reloads every managed component of one kind
// (Plugins or Adapters), returning how many it reloaded. The concrete
// scan (filesystem discovery, config re-read) lives with whoever wires
// the Server, since only they know the discovery/config plumbing.
type Reloader func(ctx context.Context) (int, error)

func noopReloader(context.Context) (int, error) { return 0, nil }

// Server wires the Engine and the Plugin/Adapter managers into a chi
// router. Cloning the pointers a Server closes over is cheap; Server
// itself holds no mutable state of its own.
type Server struct {
	engine   *engine.Engine
	plugins  *plugin.Registry
	adapters *adapter.Manager
	startedAt time.Time

	reloadPlugins  Reloader
	reloadAdapters Reloader

	router chi.Router
}

// Option configures a Server at construction.
type Option func(*Server)

// WithPluginReloader wires the callback handleReloadPlugins and
// handleReloadAll invoke to re-scan and reload Plugins from disk.
func WithPluginReloader(r Reloader) Option {
	return func(s *Server) { s.reloadPlugins = r }
}

// WithAdapterReloader wires the callback handleReloadAdapters and
// handleReloadAll invoke to re-read Adapter configuration and recover
// any Adapter pinned to Error.
func WithAdapterReloader(r Reloader) Option {
	return func(s *Server) { s.reloadAdapters = r }
}

func New(eng *engine.Engine, plugins *plugin.Registry, adapters *adapter.Manager, opts ...Option) *Server {
	s := &Server{
		engine:         eng,
		plugins:        plugins,
		adapters:       adapters,
		startedAt:      time.Now(),
		reloadPlugins:  noopReloader,
		reloadAdapters: noopReloader,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/", s.handleBanner)
	r.Get("/health", s.handleHealth)

	r.Get("/api/plugins", s.handleListPlugins)
	r.Get("/api/plugins/{name}", s.handleGetPlugin)
	r.Post("/api/plugins/reload", s.handleReloadPlugins)

	r.Get("/api/adapters", s.handleListAdapters)
	r.Get("/api/adapters/{name}", s.handleGetAdapter)
	r.Post("/api/adapters/reload", s.handleReloadAdapters)

	r.Post("/api/reload", s.handleReloadAll)
	r.Get("/api/config", s.handleConfig)

	return r
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"service": "loquat"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	writeOK(w, map[string]any{
		"status":        "ok",
		"engine_status": engineStatusName(s.engine),
		"uptime_ms":     time.Since(s.startedAt).Milliseconds(),
		"processed":     stats.Processed,
		"failed":        stats.Failed,
	})
}

func engineStatusName(e *engine.Engine) string {
	if e.IsRunning() {
		return "Running"
	}
	return "NotRunning"
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	items := s.plugins.List()
	names := make([]string, 0, len(items))
	for _, p := range items {
		if m := p.Manifest(); m != nil {
			names = append(names, m.Name)
		}
	}
	writeOK(w, names)
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.plugins.Get(name)
	if !ok {
		writeFail(w, http.StatusOK, "plugin not found: "+name)
		return
	}
	writeOK(w, map[string]any{"name": name, "status": p.Status(), "manifest": p.Manifest()})
}

func (s *Server) handleReloadPlugins(w http.ResponseWriter, r *http.Request) {
	n, err := s.reloadPlugins(r.Context())
	if err != nil {
		writeFail(w, http.StatusOK, "reload plugins: "+err.Error())
		return
	}
	writeOK(w, map[string]int{"reloaded": n})
}

func (s *Server) handleListAdapters(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.adapters.Names())
}

func (s *Server) handleGetAdapter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, ok := s.adapters.Status(name)
	if !ok {
		writeFail(w, http.StatusOK, "adapter not found: "+name)
		return
	}
	writeOK(w, map[string]any{"name": name, "status": status})
}

func (s *Server) handleReloadAdapters(w http.ResponseWriter, r *http.Request) {
	n, err := s.reloadAdapters(r.Context())
	if err != nil {
		writeFail(w, http.StatusOK, "reload adapters: "+err.Error())
		return
	}
	writeOK(w, map[string]int{"reloaded": n})
}

func (s *Server) handleReloadAll(w http.ResponseWriter, r *http.Request) {
	plugins, perr := s.reloadPlugins(r.Context())
	adapters, aerr := s.reloadAdapters(r.Context())
	if perr != nil || aerr != nil {
		writeFail(w, http.StatusOK, "reload all: plugins="+errString(perr)+" adapters="+errString(aerr))
		return
	}
	writeOK(w, map[string]int{"reloaded": plugins + adapters})
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

// handleConfig returns a sanitized view of the running configuration:
// structural shape only, never raw Adapter settings (which may carry
// credentials).
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"adapters": s.adapters.Names(),
		"plugins":  pluginNames(s.plugins),
	})
}

func pluginNames(reg *plugin.Registry) []string {
	items := reg.List()
	names := make([]string, 0, len(items))
	for _, p := range items {
		if m := p.Manifest(); m != nil {
			names = append(names, m.Name)
		}
	}
	return names
}
