package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestDiscoverFindsScriptPlugin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "echo.py"), "# plugin body\n")
	writeFile(t, filepath.Join(dir, "echo.py.manifest.yaml"), "name: echo\nversion: 1.0.0\nprotocol: script\ncontributes: [workers]\n")

	d := NewDiscovery(&DiscoveryConfig{Enabled: true, Directory: dir, ScanSubdirectories: true, ScriptingEnabled: true})
	found, errs := d.Discover(context.Background())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 discovered plugin, got %d", len(found))
	}
	if found[0].Name != "echo" || found[0].Manifest.Protocol != ProtocolScript {
		t.Fatalf("unexpected discovery result: %+v", found[0])
	}
}

func TestDiscoverSkipsScriptWhenScriptingDisabled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "echo.py"), "# plugin body\n")
	writeFile(t, filepath.Join(dir, "echo.py.manifest.yaml"), "name: echo\nversion: 1.0.0\nprotocol: script\n")

	d := NewDiscovery(&DiscoveryConfig{Enabled: true, Directory: dir, ScanSubdirectories: true, ScriptingEnabled: false})
	found, errs := d.Discover(context.Background())
	if len(found) != 0 {
		t.Fatalf("expected no discovered plugins with scripting disabled, got %+v", found)
	}
	if len(errs) != 1 {
		t.Fatalf("expected one resolution error, got %v", errs)
	}
}

func TestDiscoverInvalidManifestIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.py"), "# body\n")
	writeFile(t, filepath.Join(dir, "broken.py.manifest.yaml"), "version: 1.0.0\nprotocol: script\n") // missing name

	writeFile(t, filepath.Join(dir, "good.py"), "# body\n")
	writeFile(t, filepath.Join(dir, "good.py.manifest.yaml"), "name: good\nversion: 1.0.0\nprotocol: script\n")

	d := NewDiscovery(&DiscoveryConfig{Enabled: true, Directory: dir, ScanSubdirectories: true, ScriptingEnabled: true})
	found, errs := d.Discover(context.Background())
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error for the broken manifest, got %v", errs)
	}
	if len(found) != 1 || found[0].Name != "good" {
		t.Fatalf("expected the valid plugin to still be discovered, got %+v", found)
	}
}

func TestDiscoverDisabledReturnsNothing(t *testing.T) {
	d := NewDiscovery(&DiscoveryConfig{Enabled: false, Directory: t.TempDir()})
	found, errs := d.Discover(context.Background())
	if found != nil || errs != nil {
		t.Fatalf("expected nil, nil when discovery is disabled, got %v, %v", found, errs)
	}
}

func TestDiscoverMissingDirectoryReturnsNothing(t *testing.T) {
	d := NewDiscovery(&DiscoveryConfig{Enabled: true, Directory: filepath.Join(t.TempDir(), "does-not-exist")})
	found, errs := d.Discover(context.Background())
	if found != nil || errs != nil {
		t.Fatalf("expected nil, nil for a missing directory, got %v, %v", found, errs)
	}
}
