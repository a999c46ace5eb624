package config

import (
	"os"
	"path/filepath"
	"testing"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return cfg
}

func TestLoad(t *testing.T) {
	content := `
server:
  port: 9000
limits:
  max_points: 5000
  subsample_seed: 42
plot:
  width: 1024
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Limits.MaxPoints != 5000 {
		t.Errorf("expected max_points 5000, got %d", cfg.Limits.MaxPoints)
	}
	if cfg.Limits.SubsampleSeed != 42 {
		t.Errorf("expected seed 42, got %d", cfg.Limits.SubsampleSeed)
	}
	if cfg.Plot.Width != 1024 {
		t.Errorf("expected width 1024, got %d", cfg.Plot.Width)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := loadFromString(t, "server:\n  port: 9000\n")

	if cfg.Limits.MaxPoints != 100000 {
		t.Errorf("expected default max_points 100000, got %d", cfg.Limits.MaxPoints)
	}
	if cfg.Limits.MaxShapes != 100 {
		t.Errorf("expected default max_shapes 100, got %d", cfg.Limits.MaxShapes)
	}
	if cfg.Limits.SimplifyTolerance != 2 {
		t.Errorf("expected default simplify_tolerance 2, got %v", cfg.Limits.SimplifyTolerance)
	}
	if cfg.Limits.MaxCircles != 10000 {
		t.Errorf("expected default max_circles 10000, got %d", cfg.Limits.MaxCircles)
	}
	if cfg.Plot.DefaultColormap != "viridis" {
		t.Errorf("expected default colormap viridis, got %q", cfg.Plot.DefaultColormap)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Log.Level)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
}
