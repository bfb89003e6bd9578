package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/kernelctl/internal/config"
	"github.com/danmuck/kernelctl/internal/kernel"
)

func loadServiceConfig(path string) (kernel.ServiceConfig, error) {
	cfg := kernel.DefaultServiceConfig()

	var raw config.FileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return kernel.ServiceConfig{}, fmt.Errorf("load kernel config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Kernel.Name = name
		}
	}
	if meta.IsDefined("banner") {
		cfg.Kernel.Banner = raw.Banner
	}
	if meta.IsDefined("exec_queue_size") {
		if raw.ExecQueueSize <= 0 {
			return kernel.ServiceConfig{}, fmt.Errorf("exec_queue_size must be > 0")
		}
		cfg.Kernel.ExecQueueSize = raw.ExecQueueSize
	}
	if meta.IsDefined("iopub_buffer") {
		if raw.IOPubBuffer <= 0 {
			return kernel.ServiceConfig{}, fmt.Errorf("iopub_buffer must be > 0")
		}
		cfg.Kernel.IOPubBuffer = raw.IOPubBuffer
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"flush_interval", raw.FlushInterval, &cfg.Kernel.FlushInterval},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.Kernel.ShutdownTimeout},
		{"status_interval", raw.StatusInterval, &cfg.StatusInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return kernel.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("comm_targets") {
		cfg.CommTargets = normalizeList(raw.CommTargets)
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
