// Package admin serves the kernel's local HTTP status surface.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/kernelctl/internal/auth"
	"github.com/danmuck/kernelctl/internal/comm"
	"github.com/danmuck/kernelctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownGrace = 2 * time.Second

// Snapshot is the kernel state reported on /status.
type Snapshot struct {
	Name             string `json:"name"`
	Session          string `json:"session"`
	State            string `json:"state"`
	ExecutionCount   int    `json:"execution_count"`
	QueuedExecutions int    `json:"queued_executions"`
	OpenComms        int    `json:"open_comms"`
	Ready            bool   `json:"ready"`
}

// Source is what the admin surface reads from a running kernel.
type Source interface {
	Snapshot() Snapshot
	CommList() []comm.Info
}

type Config struct {
	Name        string
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on every route except
	// /health and /ready.
	Token string
}

type Server struct {
	cfg      Config
	src      Source
	router   *gin.Engine
	appeared time.Time
}

func New(cfg Config, src Source) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, src: src, router: r, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.appeared).String(),
			"kernel": s.cfg.Name,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		snap := s.src.Snapshot()
		status := http.StatusOK
		if !snap.Ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": snap.Ready, "state": snap.State})
	})

	guarded := s.router.Group("/")
	if s.cfg.Token != "" {
		guarded.Use(requireToken(auth.StaticToken{Token: s.cfg.Token}))
	}

	guarded.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.src.Snapshot())
	})

	guarded.GET("/comms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"comms": s.src.CommList()})
	})

	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Validate(auth.BearerToken(c.GetHeader("Authorization"))); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:8888"}
	}
	return origins
}
