package kernel

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/kernelctl/internal/admin"
	"github.com/danmuck/kernelctl/internal/channels"
	"github.com/danmuck/kernelctl/internal/comm"
	commecho "github.com/danmuck/kernelctl/internal/comm/echo"
	"github.com/danmuck/kernelctl/internal/config"
	"github.com/danmuck/kernelctl/internal/engine"
	"github.com/danmuck/kernelctl/internal/protocol/wire"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig configures a standalone kernel process.
type ServiceConfig struct {
	Kernel         Config
	ConnectionFile string
	StatusInterval time.Duration
	AdminAddr      string
	AdminToken     string
	CorsOrigins    []string
	CommTargets    []string
}

func DefaultServiceConfig() ServiceConfig {
	file := config.DefaultFileConfig()
	return ServiceConfig{
		Kernel:         DefaultConfig(),
		StatusInterval: config.DefaultStatusInterval,
		AdminAddr:      "",
		CorsOrigins:    file.CorsOrigins,
		CommTargets:    []string{commecho.Target},
	}
}

// Service binds the connection file's sockets and runs one kernel with its
// admin surface until a shutdown_request or a process signal.
type Service struct {
	cfg    ServiceConfig
	engine engine.Engine
	kernel atomic.Pointer[Kernel]
}

func NewService(cfg ServiceConfig, eng engine.Engine) *Service {
	return &Service{cfg: cfg, engine: eng}
}

// Kernel returns the running kernel, or nil before RunContext has bound it.
func (s *Service) Kernel() *Kernel {
	return s.kernel.Load()
}

// Run blocks until SIGINT/SIGTERM or the kernel stops on its own.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.ConnectionFile) == "" {
		return fmt.Errorf("%w: connection file is required", ErrInvalidServiceConf)
	}
	if s.cfg.StatusInterval <= 0 {
		return fmt.Errorf("%w: status interval must be > 0", ErrInvalidServiceConf)
	}
	conn, err := config.LoadConnection(s.cfg.ConnectionFile)
	if err != nil {
		return err
	}
	codec, err := wire.NewCodec(conn.SignatureScheme, conn.Key)
	if err != nil {
		return err
	}
	if !codec.Signed() {
		log.Warn().Msg("kernel.Service.RunContext empty key, message signing disabled")
	}
	registry, err := buildRegistry(s.cfg.CommTargets)
	if err != nil {
		return err
	}

	socks, err := channels.Bind(ctx, conn)
	if err != nil {
		return err
	}
	k, err := New(s.cfg.Kernel, s.engine, codec, registry, socks)
	if err != nil {
		_ = socks.Close()
		return err
	}
	s.kernel.Store(k)
	return s.serve(ctx, k)
}

func (s *Service) serve(ctx context.Context, k *Kernel) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(sctx)

	g.Go(func() error {
		defer cancel()
		return k.Run(gctx)
	})
	if strings.TrimSpace(s.cfg.AdminAddr) != "" {
		srv := admin.New(admin.Config{
			Name:        s.cfg.Kernel.Name,
			Addr:        s.cfg.AdminAddr,
			CorsOrigins: s.cfg.CorsOrigins,
			Token:       s.cfg.AdminToken,
		}, k)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		s.logStatus(gctx, k)
		return nil
	})

	err := g.Wait()
	log.Info().Err(err).Msg("kernel.Service.serve shutdown")
	return err
}

func (s *Service) logStatus(ctx context.Context, k *Kernel) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := k.Snapshot()
			log.Info().
				Str("kernel", snap.Name).
				Str("state", snap.State).
				Int("execution_count", snap.ExecutionCount).
				Int("queued", snap.QueuedExecutions).
				Int("open_comms", snap.OpenComms).
				Msg("kernel.Service status")
		}
	}
}

// buildRegistry enables the named built-in comm targets. "none" enables
// nothing.
func buildRegistry(targets []string) (*comm.Registry, error) {
	reg := comm.NewRegistry()
	for _, raw := range targets {
		target := strings.TrimSpace(raw)
		switch target {
		case "", "none":
			continue
		case commecho.Target:
			if err := commecho.Register(reg); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownCommTarget, target)
		}
	}
	return reg, nil
}

var _ admin.Source = (*Kernel)(nil)
