package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// nativeExtensions are the compiled-artifact extensions routed to the
// native (go-plugin) Loader.
var nativeExtensions = map[string]bool{
	".so": true, ".dll": true, ".dylib": true,
}

// scriptExtensions are routed to an embedded script-host Loader when
// scripted plugins are enabled.
var scriptExtensions = map[string]bool{
	".py": true, ".js": true, ".mjs": true, ".ts": true,
}

// DiscoveryConfig controls where Discover looks for Plugin artifacts.
type DiscoveryConfig struct {
	Enabled            bool
	Directory          string
	ScanSubdirectories bool
	ScriptingEnabled   bool
}

// Discovered pairs an artifact path with its parsed manifest.
type Discovered struct {
	Name         string
	Path         string
	ManifestPath string
	Manifest     *Manifest
}

// Discovery scans a directory tree for "<artifact>.manifest.yaml"
// sidecar files and resolves them into loadable Configs.
type Discovery struct {
	cfg *DiscoveryConfig
}

func NewDiscovery(cfg *DiscoveryConfig) *Discovery {
	if cfg == nil {
		cfg = &DiscoveryConfig{Enabled: true, Directory: "./plugins", ScanSubdirectories: true}
	}
	return &Discovery{cfg: cfg}
}

// Discover walks the configured directory. A load failure for one
// artifact is logged by the caller and does not stop the scan; this
// method simply skips manifests it cannot parse or validate.
func (d *Discovery) Discover(ctx context.Context) ([]*Discovered, []error) {
	if !d.cfg.Enabled {
		return nil, nil
	}

	if _, err := os.Stat(d.cfg.Directory); os.IsNotExist(err) {
		return nil, nil
	}

	var found []*Discovered
	var errs []error

	walker := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if !d.cfg.ScanSubdirectories && path != d.cfg.Directory {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".manifest.yaml") {
			return nil
		}

		artifactPath := strings.TrimSuffix(path, ".manifest.yaml")
		disc, err := d.load(artifactPath, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("discover %s: %w", path, err))
			return nil
		}
		found = append(found, disc)
		return nil
	}

	if err := filepath.Walk(d.cfg.Directory, walker); err != nil {
		errs = append(errs, fmt.Errorf("discover: walk %s: %w", d.cfg.Directory, err))
	}

	return found, errs
}

func (d *Discovery) load(artifactPath, manifestPath string) (*Discovered, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	resolvedPath, err := d.resolveArtifact(artifactPath, m.Protocol)
	if err != nil {
		return nil, err
	}

	return &Discovered{Name: m.Name, Path: resolvedPath, ManifestPath: manifestPath, Manifest: &m}, nil
}

func (d *Discovery) resolveArtifact(base string, protocol Protocol) (string, error) {
	switch protocol {
	case ProtocolNative:
		for ext := range nativeExtensions {
			if candidate := base + ext; fileExists(candidate) {
				return candidate, nil
			}
		}
		if fileExists(base) {
			return base, nil
		}
		return "", fmt.Errorf("no native artifact found for %s", base)
	case ProtocolScript:
		if !d.cfg.ScriptingEnabled {
			return "", fmt.Errorf("scripted plugins disabled")
		}
		for ext := range scriptExtensions {
			if candidate := base + ext; fileExists(candidate) {
				return candidate, nil
			}
		}
		if fileExists(base) {
			return base, nil
		}
		return "", fmt.Errorf("no script artifact found for %s", base)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProtocol, protocol)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("missing name")
	}
	if m.Version == "" {
		return fmt.Errorf("missing version")
	}
	if m.Protocol != ProtocolNative && m.Protocol != ProtocolScript {
		return fmt.Errorf("unsupported protocol %q", m.Protocol)
	}
	return nil
}
