package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg.BindAddr != want.BindAddr {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, want.BindAddr)
	}
	if cfg.LivenessFailThreshold != want.LivenessFailThreshold {
		t.Fatalf("LivenessFailThreshold = %d, want %d", cfg.LivenessFailThreshold, want.LivenessFailThreshold)
	}
	if len(cfg.DefaultPercentiles) != len(want.DefaultPercentiles) {
		t.Fatalf("DefaultPercentiles = %v, want %v", cfg.DefaultPercentiles, want.DefaultPercentiles)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "benchctl.yaml")
	contents := "bind_addr: \"127.0.0.1:9090\"\ncan_run_benchmarks: false\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:9090" {
		t.Fatalf("BindAddr = %q, want 127.0.0.1:9090", cfg.BindAddr)
	}
	if cfg.CanRunBenchmarks {
		t.Fatalf("CanRunBenchmarks = true, want false")
	}
	// unset fields still fall back to defaults.
	if cfg.RaftDataDir != DefaultConfig().RaftDataDir {
		t.Fatalf("RaftDataDir = %q, want default %q", cfg.RaftDataDir, DefaultConfig().RaftDataDir)
	}
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BENCHCTL_BIND_ADDR", "10.0.0.5:1234")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "10.0.0.5:1234" {
		t.Fatalf("BindAddr = %q, want env override 10.0.0.5:1234", cfg.BindAddr)
	}
}
