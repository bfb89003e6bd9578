package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/kernelctl/internal/engine/echo"
	"github.com/danmuck/kernelctl/internal/kernel"
	"github.com/danmuck/kernelctl/internal/logging"
	"github.com/danmuck/kernelctl/internal/observability"
)

func main() {
	connFile := flag.String("f", "", "path to the kernel connection file")
	configPath := flag.String("config", "", "optional kernel TOML config")
	flag.Parse()

	if err := run(*connFile, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "kernelctl: %v\n", err)
		os.Exit(1)
	}
}

func run(connFile, configPath string) error {
	logging.ConfigureRuntime()

	cfg := kernel.DefaultServiceConfig()
	if configPath != "" {
		loaded, err := loadServiceConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ConnectionFile = connFile

	observability.InitLogger(cfg.Kernel.Name)
	observability.RegisterMetrics()
	return kernel.NewService(cfg, echo.New()).Run()
}
