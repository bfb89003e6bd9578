package kernel

import (
	"context"

	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/router"
	"github.com/rs/zerolog/log"
)

// runControl serves interrupt and shutdown requests. It never waits on the
// executor except while shutting down.
func (k *Kernel) runControl(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-k.router.ControlRequests():
			switch req.MsgType() {
			case schema.MsgInterruptRequest:
				k.handleInterrupt(req)
			case schema.MsgShutdownRequest:
				if k.handleShutdown(req) {
					return nil
				}
			default:
				log.Warn().Str("msg_type", req.MsgType()).Msg("kernel.runControl unexpected request")
			}
		}
	}
}

func (k *Kernel) handleInterrupt(req router.Request) {
	scope := k.router.Serve(req)
	defer scope.End()
	if !k.interrupt() {
		log.Debug().Str("msg_id", req.MsgID()).Msg("kernel.handleInterrupt nothing in flight")
	}
	if err := scope.Reply(schema.MsgInterruptReply, schema.InterruptReply{Status: schema.StatusOK}); err != nil {
		log.Warn().Str("msg_id", req.MsgID()).Err(err).Msg("kernel.handleInterrupt reply failed")
	}
}

// handleShutdown reports whether the request was served. Only the first
// shutdown_request is answered.
func (k *Kernel) handleShutdown(req router.Request) bool {
	if err := k.life.ShutDown(); err != nil {
		log.Debug().Str("msg_id", req.MsgID()).Err(err).Msg("kernel.handleShutdown ignored")
		return false
	}
	content, _ := req.Content.(*schema.ShutdownRequest)
	restart := content != nil && content.Restart
	log.Info().Str("msg_id", req.MsgID()).Bool("restart", restart).Msg("kernel.handleShutdown")

	scope := k.router.Serve(req)
	defer scope.End()

	k.router.Close()
	k.interrupt()
	if !k.waitIdle(k.cfg.ShutdownTimeout) {
		log.Warn().Dur("timeout", k.cfg.ShutdownTimeout).Msg("kernel.handleShutdown execution still running")
	}
	k.comms.CloseAll()

	if err := scope.Reply(schema.MsgShutdownReply, schema.ShutdownReply{Status: schema.StatusOK, Restart: restart}); err != nil {
		log.Warn().Str("msg_id", req.MsgID()).Err(err).Msg("kernel.handleShutdown reply failed")
	}
	k.stop()
	return true
}
