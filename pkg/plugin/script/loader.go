// Package script implements the scripted Plugin Loader: it hosts a
// .py/.js/.mjs/.ts artifact as a plain subprocess speaking a small
// line-oriented JSON protocol over stdin/stdout, rather than the
// handshake-gated RPC transport the native loader uses. This is the
// "embedded host" the discovery step routes scripted extensions to
// when scripting is enabled.
package script

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/loquat/loquat/pkg/plugin"
)

// request/response frames exchanged with the child process, one JSON
// object per line.
type request struct {
	Op       string          `json:"op"`
	Settings map[string]any  `json:"settings,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

type response struct {
	OK          bool     `json:"ok"`
	Error       string   `json:"error,omitempty"`
	Contributes []string `json:"contributes,omitempty"`
}

// Loader runs scripted Plugins as subprocesses.
type Loader struct{}

func NewLoader() *Loader { return &Loader{} }

func (l *Loader) SupportedProtocol() plugin.Protocol { return plugin.ProtocolScript }

func (l *Loader) Validate(_ context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("empty script path")
	}
	return nil
}

func (l *Loader) Load(ctx context.Context, cfg *plugin.Config) (plugin.Plugin, error) {
	if cfg == nil || cfg.Manifest == nil {
		return nil, fmt.Errorf("plugin config/manifest required")
	}

	cmd := exec.CommandContext(ctx, interpreterFor(cfg.Path), cfg.Path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("script plugin stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("script plugin stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start script plugin: %w", err)
	}

	return &scriptAdapter{
		cmd:      cmd,
		stdin:    stdin,
		reader:   bufio.NewReader(stdout),
		manifest: cfg.Manifest,
		status:   plugin.StatusLoading,
	}, nil
}

func (l *Loader) Unload(_ context.Context, p plugin.Plugin) error {
	a, ok := p.(*scriptAdapter)
	if !ok {
		return nil
	}
	return a.cmd.Process.Kill()
}

func interpreterFor(path string) string {
	switch {
	case len(path) > 3 && path[len(path)-3:] == ".py":
		return "python3"
	default:
		return "node"
	}
}

// scriptAdapter implements plugin.Plugin over the stdin/stdout JSON
// protocol.
type scriptAdapter struct {
	cmd      *exec.Cmd
	stdin    interface{ Write([]byte) (int, error) }
	reader   *bufio.Reader
	manifest *plugin.Manifest
	status   plugin.Status

	mu sync.Mutex
}

func (a *scriptAdapter) call(req request) (response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}
	line = append(line, '\n')
	if _, err := a.stdin.Write(line); err != nil {
		return response{}, fmt.Errorf("write to script plugin: %w", err)
	}

	raw, err := a.reader.ReadBytes('\n')
	if err != nil {
		return response{}, fmt.Errorf("read from script plugin: %w", err)
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return response{}, fmt.Errorf("decode script plugin response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("script plugin: %s", resp.Error)
	}
	return resp, nil
}

func (a *scriptAdapter) Initialize(_ context.Context, settings map[string]any) error {
	if _, err := a.call(request{Op: "initialize", Settings: settings}); err != nil {
		a.status = plugin.StatusError
		return err
	}
	a.status = plugin.StatusReady
	return nil
}

func (a *scriptAdapter) Shutdown(_ context.Context) error {
	_, err := a.call(request{Op: "shutdown"})
	a.status = plugin.StatusShutdown
	return err
}

func (a *scriptAdapter) Manifest() *plugin.Manifest { return a.manifest }

func (a *scriptAdapter) Status() plugin.Status { return a.status }

func (a *scriptAdapter) Health(_ context.Context) error {
	_, err := a.call(request{Op: "health"})
	return err
}
