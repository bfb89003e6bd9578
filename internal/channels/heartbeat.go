package channels

import (
	"context"
	"fmt"

	"github.com/danmuck/kernelctl/internal/observability"
	"github.com/rs/zerolog/log"
)

// HeartbeatLoop echoes every payload back unchanged. It shares nothing with
// the message channels so a busy kernel still answers liveness probes.
type HeartbeatLoop struct {
	sock Socket
}

func NewHeartbeat(sock Socket) *HeartbeatLoop {
	return &HeartbeatLoop{sock: sock}
}

func (h *HeartbeatLoop) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	defer close(stopped)
	defer h.sock.Close()
	go func() {
		select {
		case <-ctx.Done():
			_ = h.sock.Close()
		case <-stopped:
		}
	}()

	for {
		frames, err := h.sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				log.Debug().Msg("channels.Heartbeat stopped")
				return nil
			}
			return fmt.Errorf("channels: heartbeat recv: %w", err)
		}
		if err := h.sock.Send(frames); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("channels.Heartbeat echo failed")
			continue
		}
		observability.RecordHeartbeatEcho()
	}
}
