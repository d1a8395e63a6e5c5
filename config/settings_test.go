package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Timing.KeepAlive != 10*time.Second {
		t.Errorf("Expected keep-alive 10s, got %s", cfg.Timing.KeepAlive)
	}
	if cfg.Timing.Attributes != 60*time.Second {
		t.Errorf("Expected attributes 60s, got %s", cfg.Timing.Attributes)
	}
	if cfg.Timing.Status != 300*time.Second {
		t.Errorf("Expected status 300s, got %s", cfg.Timing.Status)
	}
	if cfg.Timing.GatewayTimeout != 15*time.Second {
		t.Errorf("Expected gateway timeout 15s, got %s", cfg.Timing.GatewayTimeout)
	}
	if cfg.Timing.Debounce != 100*time.Millisecond {
		t.Errorf("Expected debounce 100ms, got %s", cfg.Timing.Debounce)
	}
	if cfg.Mesh.Net != "DEFAULT" {
		t.Errorf("Expected net DEFAULT, got %s", cfg.Mesh.Net)
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := writeFile(t, "switch.yaml", `
log:
  level: debug
mesh:
  hub: ws://hub.local:8090
  net: KITCHEN
timing:
  status: 2m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Mesh.Hub != "ws://hub.local:8090" || cfg.Mesh.Net != "KITCHEN" {
		t.Errorf("Expected mesh from file, got %+v", cfg.Mesh)
	}
	if cfg.Timing.Status != 2*time.Minute {
		t.Errorf("Expected status 2m, got %s", cfg.Timing.Status)
	}
	if cfg.Timing.KeepAlive != 10*time.Second {
		t.Errorf("Expected default keep-alive to survive, got %s", cfg.Timing.KeepAlive)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("Expected debug level, got %s", cfg.Log.SlogLevel())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MESHSWITCH_NET", "GARAGE")
	t.Setenv("MESHSWITCH_KEY", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mesh.Net != "GARAGE" || cfg.Mesh.Key != "secret" {
		t.Errorf("Expected env overrides, got net=%s key=%s", cfg.Mesh.Net, cfg.Mesh.Key)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := writeFile(t, "bad.yaml", "timing:\n  keep_alive: 0s\nhub:\n  max_peers: 0\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "timing.keep_alive") || !strings.Contains(err.Error(), "hub.max_peers") {
		t.Errorf("Expected both problems reported, got %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
