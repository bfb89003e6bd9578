package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServiceConfigExample(t *testing.T) {
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Kernel.Name != "kernelctl" {
		t.Fatalf("unexpected name: %q", cfg.Kernel.Name)
	}
	if cfg.Kernel.ExecQueueSize != 64 || cfg.Kernel.IOPubBuffer != 1024 {
		t.Fatalf("unexpected queue sizes: %+v", cfg.Kernel)
	}
	if cfg.Kernel.FlushInterval != 50*time.Millisecond {
		t.Fatalf("unexpected flush interval: %v", cfg.Kernel.FlushInterval)
	}
	if cfg.Kernel.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.Kernel.ShutdownTimeout)
	}
	if cfg.StatusInterval != 30*time.Second {
		t.Fatalf("unexpected status interval: %v", cfg.StatusInterval)
	}
	if cfg.AdminAddr != "127.0.0.1:9400" {
		t.Fatalf("unexpected admin addr: %q", cfg.AdminAddr)
	}
	if len(cfg.CommTargets) != 1 || cfg.CommTargets[0] != "echo" {
		t.Fatalf("unexpected comm targets: %+v", cfg.CommTargets)
	}
}

func TestLoadServiceConfigPartialKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
shutdown_timeout = "1200ms"
comm_targets = [" none "]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Kernel.ShutdownTimeout != 1200*time.Millisecond {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.Kernel.ShutdownTimeout)
	}
	if cfg.Kernel.ExecQueueSize != 64 {
		t.Fatalf("default exec queue size lost: %d", cfg.Kernel.ExecQueueSize)
	}
	if cfg.AdminAddr != "" {
		t.Fatalf("admin surface should stay disabled by default: %q", cfg.AdminAddr)
	}
	if len(cfg.CommTargets) != 1 || cfg.CommTargets[0] != "none" {
		t.Fatalf("unexpected comm targets: %+v", cfg.CommTargets)
	}
}

func TestLoadServiceConfigBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`flush_interval = "soon"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadServiceConfig(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
}
