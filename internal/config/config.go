package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultName            = "kernelctl"
	DefaultExecQueueSize   = 64
	DefaultIOPubBuffer     = 1024
	DefaultFlushInterval   = 50 * time.Millisecond
	DefaultShutdownTimeout = 5 * time.Second
	DefaultStatusInterval  = 30 * time.Second
)

// FileConfig is the kernel TOML config. Durations are Go duration strings.
type FileConfig struct {
	Name            string   `toml:"name"`
	ExecQueueSize   int      `toml:"exec_queue_size"`
	IOPubBuffer     int      `toml:"iopub_buffer"`
	FlushInterval   string   `toml:"flush_interval"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	StatusInterval  string   `toml:"status_interval"`
	AdminAddr       string   `toml:"admin_addr"`
	AdminToken      string   `toml:"admin_token"`
	CorsOrigins     []string `toml:"cors_origins"`
	CommTargets     []string `toml:"comm_targets"`
	Banner          string   `toml:"banner"`
}

func DefaultFileConfig() FileConfig {
	return FileConfig{
		Name:            DefaultName,
		ExecQueueSize:   DefaultExecQueueSize,
		IOPubBuffer:     DefaultIOPubBuffer,
		FlushInterval:   DefaultFlushInterval.String(),
		ShutdownTimeout: DefaultShutdownTimeout.String(),
		StatusInterval:  DefaultStatusInterval.String(),
		AdminAddr:       "127.0.0.1:9400",
		CorsOrigins:     []string{"http://localhost:8888"},
		CommTargets:     []string{"echo"},
		Banner:          "kernelctl echo kernel",
	}
}

// LoadFileConfig reads a kernel config, filling unset keys from defaults.
func LoadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateFileConfig(cfg); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

func ValidateFileConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("kernel config missing name")
	}
	if cfg.ExecQueueSize <= 0 {
		return fmt.Errorf("kernel config exec_queue_size must be > 0")
	}
	if cfg.IOPubBuffer <= 0 {
		return fmt.Errorf("kernel config iopub_buffer must be > 0")
	}
	for key, raw := range map[string]string{
		"flush_interval":   cfg.FlushInterval,
		"shutdown_timeout": cfg.ShutdownTimeout,
		"status_interval":  cfg.StatusInterval,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("kernel config %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("kernel config %s must not be negative", key)
		}
	}
	for i, target := range cfg.CommTargets {
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("kernel config comm_targets[%d] is empty", i)
		}
	}
	return nil
}
