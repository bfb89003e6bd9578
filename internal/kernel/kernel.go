package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/kernelctl/internal/admin"
	"github.com/danmuck/kernelctl/internal/channels"
	"github.com/danmuck/kernelctl/internal/comm"
	"github.com/danmuck/kernelctl/internal/config"
	"github.com/danmuck/kernelctl/internal/engine"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/protocol/wire"
	"github.com/danmuck/kernelctl/internal/router"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const implementation = "kernelctl"

// Version is reported as implementation_version in kernel_info_reply.
var Version = "0.1.0"

type Config struct {
	Name            string
	Banner          string
	Session         string
	ExecQueueSize   int
	IOPubBuffer     int
	FlushInterval   time.Duration
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Name:            config.DefaultName,
		ExecQueueSize:   config.DefaultExecQueueSize,
		IOPubBuffer:     config.DefaultIOPubBuffer,
		FlushInterval:   config.DefaultFlushInterval,
		ShutdownTimeout: config.DefaultShutdownTimeout,
	}
}

// Kernel wires the channels, router, comm manager and engine together.
type Kernel struct {
	cfg    Config
	engine engine.Engine
	router *router.Router
	comms  *comm.Manager
	life   *Lifecycle

	shell   *channels.MessageChannel
	control *channels.MessageChannel
	stdin   *channels.MessageChannel
	iopub   *channels.MessageChannel
	hb      *channels.HeartbeatLoop

	execCount atomic.Int64

	inflightMu sync.Mutex
	inflight   *inflight

	stopWork context.CancelFunc
	workMu   sync.Mutex
}

type inflight struct {
	msgID       string
	cancel      context.CancelFunc
	done        chan struct{}
	interrupted bool
}

// New builds a kernel over already-bound sockets. The kernel takes ownership
// of the sockets once Run starts.
func New(cfg Config, eng engine.Engine, codec *wire.Codec, registry *comm.Registry, socks *channels.Sockets) (*Kernel, error) {
	if eng == nil {
		return nil, ErrNilEngine
	}
	if socks == nil || socks.Shell == nil || socks.Control == nil || socks.Stdin == nil ||
		socks.IOPub == nil || socks.Heartbeat == nil {
		return nil, ErrMissingSocket
	}
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.ExecQueueSize <= 0 {
		cfg.ExecQueueSize = def.ExecQueueSize
	}
	if cfg.IOPubBuffer <= 0 {
		cfg.IOPubBuffer = def.IOPubBuffer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	r := router.New(router.Config{Session: cfg.Session, ExecQueueSize: cfg.ExecQueueSize})
	k := &Kernel{
		cfg:    cfg,
		engine: eng,
		router: r,
		comms:  comm.NewManager(registry, r),
		life:   NewLifecycle(),
	}
	k.shell = channels.NewMessageChannel(channels.Shell, socks.Shell, codec, 0, r.Handle)
	k.control = channels.NewMessageChannel(channels.Control, socks.Control, codec, 0, r.Handle)
	k.stdin = channels.NewMessageChannel(channels.Stdin, socks.Stdin, codec, 0, r.Handle)
	k.iopub = channels.NewMessageChannel(channels.IOPub, socks.IOPub, codec, cfg.IOPubBuffer, nil)
	k.hb = channels.NewHeartbeat(socks.Heartbeat)
	for _, ch := range []*channels.MessageChannel{k.shell, k.control, k.stdin, k.iopub} {
		r.Attach(ch.Name(), ch)
	}
	r.SetKernelInfo(k.kernelInfo())
	return k, nil
}

func (k *Kernel) kernelInfo() schema.KernelInfoReply {
	return schema.KernelInfoReply{
		Status:                schema.StatusOK,
		ProtocolVersion:       wire.ProtocolVersion,
		Implementation:        implementation,
		ImplementationVersion: Version,
		LanguageInfo:          k.engine.LanguageInfo(),
		Banner:                k.cfg.Banner,
		HelpLinks:             []schema.HelpLink{},
	}
}

func (k *Kernel) Router() *router.Router {
	return k.router
}

func (k *Kernel) Comms() *comm.Manager {
	return k.comms
}

func (k *Kernel) Lifecycle() *Lifecycle {
	return k.life
}

func (k *Kernel) ExecutionCount() int {
	return int(k.execCount.Load())
}

// Run starts every channel and worker, publishes the starting status, and
// blocks until ctx is cancelled, a shutdown_request is served, or the engine
// panics. Goroutines are joined within the configured shutdown timeout.
func (k *Kernel) Run(ctx context.Context) error {
	chanCtx, stopChannels := context.WithCancel(context.Background())
	defer stopChannels()
	var chans errgroup.Group
	for _, ch := range []*channels.MessageChannel{k.shell, k.control, k.stdin, k.iopub} {
		chans.Go(func() error { return ch.Run(chanCtx) })
	}
	chans.Go(func() error { return k.hb.Run(chanCtx) })

	if err := k.router.PublishUnparented(schema.MsgStatus, schema.Status{ExecutionState: schema.StateStarting}); err != nil {
		log.Warn().Err(err).Msg("kernel.Run publish starting")
	}
	if err := k.life.Ready(); err != nil {
		stopChannels()
		_ = chans.Wait()
		return err
	}
	_ = k.router.PublishUnparented(schema.MsgStatus, schema.Status{ExecutionState: schema.StateIdle})
	log.Info().Str("kernel", k.cfg.Name).Str("session", k.router.Session()).Msg("kernel.Run ready")

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	k.workMu.Lock()
	k.stopWork = cancelWork
	k.workMu.Unlock()

	workers, wctx := errgroup.WithContext(workCtx)
	workers.Go(func() error { return k.runExecutor(wctx) })
	workers.Go(func() error { return k.runControl(wctx) })
	workers.Go(func() error { return k.comms.Run(wctx, k.router.CommRequests()) })

	workersDone := make(chan error, 1)
	go func() { workersDone <- workers.Wait() }()

	var runErr error
	select {
	case runErr = <-workersDone:
	case <-wctx.Done():
		k.interrupt()
		select {
		case runErr = <-workersDone:
		case <-time.After(k.cfg.ShutdownTimeout):
			runErr = fmt.Errorf("%w: workers still running after %s", ErrShutdownTimeout, k.cfg.ShutdownTimeout)
		}
	}

	_ = k.life.ShutDown()
	k.router.Close()
	if !errors.Is(runErr, ErrShutdownTimeout) {
		k.comms.CloseAll()
	}
	stopChannels()

	chansDone := make(chan error, 1)
	go func() { chansDone <- chans.Wait() }()
	select {
	case err := <-chansDone:
		if err != nil {
			runErr = errors.Join(runErr, err)
		}
	case <-time.After(k.cfg.ShutdownTimeout):
		runErr = errors.Join(runErr, fmt.Errorf("%w: channels still running", ErrShutdownTimeout))
	}
	if err := k.life.Terminate(); err != nil {
		log.Warn().Err(err).Msg("kernel.Run terminate")
	}
	log.Info().Str("kernel", k.cfg.Name).Err(runErr).Msg("kernel.Run stopped")
	return runErr
}

// stop ends the worker group after a served shutdown_request.
func (k *Kernel) stop() {
	k.workMu.Lock()
	cancel := k.stopWork
	k.workMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot reports kernel state for the admin surface.
func (k *Kernel) Snapshot() admin.Snapshot {
	state := k.life.State()
	return admin.Snapshot{
		Name:             k.cfg.Name,
		Session:          k.router.Session(),
		State:            string(state),
		ExecutionCount:   k.ExecutionCount(),
		QueuedExecutions: k.router.QueuedExecutions(),
		OpenComms:        len(k.comms.List()),
		Ready:            state == StateIdle || state == StateBusy,
	}
}

func (k *Kernel) CommList() []comm.Info {
	return k.comms.List()
}
