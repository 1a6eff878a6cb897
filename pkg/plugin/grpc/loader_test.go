package grpc

import (
	"context"
	"testing"

	"github.com/loquat/loquat/pkg/plugin"
)

func TestLoaderSupportedProtocol(t *testing.T) {
	l := NewLoader()
	if l.SupportedProtocol() != plugin.ProtocolNative {
		t.Fatalf("expected ProtocolNative, got %s", l.SupportedProtocol())
	}
}

func TestLoaderValidateRejectsEmptyPath(t *testing.T) {
	l := NewLoader()
	if err := l.Validate(context.Background(), ""); err == nil {
		t.Fatalf("expected an error for an empty path")
	}
}

func TestLoaderValidateAcceptsNonEmptyPath(t *testing.T) {
	l := NewLoader()
	if err := l.Validate(context.Background(), "/plugins/echo.so"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoaderLoadRejectsNilManifest(t *testing.T) {
	l := NewLoader()
	_, err := l.Load(context.Background(), &plugin.Config{Path: "/plugins/echo.so"})
	if err == nil {
		t.Fatalf("expected an error when Manifest is nil")
	}
}

func TestLoaderLoadRejectsNilConfig(t *testing.T) {
	l := NewLoader()
	if _, err := l.Load(context.Background(), nil); err == nil {
		t.Fatalf("expected an error for a nil config")
	}
}

func TestLoaderUnloadOfNonAdapterIsNoop(t *testing.T) {
	l := NewLoader()
	if err := l.Unload(context.Background(), nil); err != nil {
		t.Fatalf("Unload of a non-*pluginAdapter value should be a no-op, got %v", err)
	}
}
