package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/kernelctl/internal/observability"
	"github.com/danmuck/kernelctl/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// Handler receives every decoded inbound message. It runs on the channel's
// goroutine and must not wait on outbound delivery.
type Handler func(ch Channel, msg *wire.Message)

// MessageChannel runs one codec-speaking socket: a receive pump feeding a
// single loop that dispatches inbound messages and flushes the outbox.
type MessageChannel struct {
	name    Channel
	sock    Socket
	codec   *wire.Codec
	outbox  *Outbox
	handler Handler
}

// NewMessageChannel builds a channel. A nil handler makes it send-only.
func NewMessageChannel(name Channel, sock Socket, codec *wire.Codec, outboxLimit int, handler Handler) *MessageChannel {
	return &MessageChannel{
		name:    name,
		sock:    sock,
		codec:   codec,
		outbox:  NewOutbox(outboxLimit),
		handler: handler,
	}
}

func (c *MessageChannel) Name() Channel {
	return c.name
}

// Deliver queues msg for sending. It never blocks; a full or closed outbox
// drops the message and returns false.
func (c *MessageChannel) Deliver(msg *wire.Message) bool {
	if c.outbox.Push(msg) {
		return true
	}
	if c.name == IOPub {
		observability.RecordIOPubDrop()
	}
	log.Debug().
		Str("channel", c.name.String()).
		Str("msg_type", msg.Header.MsgType).
		Msg("channels.MessageChannel.Deliver dropped")
	return false
}

// Run serves the socket until ctx is cancelled, then sends whatever is
// still queued, closes the socket and returns.
func (c *MessageChannel) Run(ctx context.Context) error {
	inbound := make(chan [][]byte)
	pumpErr := make(chan error, 1)
	pumpDone := make(chan struct{})
	stop := make(chan struct{})

	if c.handler != nil {
		go c.pump(inbound, pumpErr, pumpDone, stop)
	} else {
		close(pumpDone)
	}

	defer func() {
		close(stop)
		c.outbox.Close()
		c.flush()
		_ = c.sock.Close()
		<-pumpDone
		log.Debug().Str("channel", c.name.String()).Msg("channels.MessageChannel stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.outbox.Ready():
			c.flush()
		case frames := <-inbound:
			c.dispatch(frames)
		case err := <-pumpErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("channels: %s recv: %w", c.name, err)
		}
	}
}

func (c *MessageChannel) pump(inbound chan<- [][]byte, pumpErr chan<- error, done chan<- struct{}, stop <-chan struct{}) {
	defer close(done)
	for {
		frames, err := c.sock.Recv()
		if err != nil {
			pumpErr <- err
			return
		}
		select {
		case inbound <- frames:
		case <-stop:
			return
		}
	}
}

func (c *MessageChannel) dispatch(frames [][]byte) {
	msg, err := c.codec.Decode(frames)
	if err != nil {
		reason := observability.RejectFormat
		if errors.Is(err, wire.ErrAuth) {
			reason = observability.RejectAuth
		}
		observability.RecordWireRejection(c.name.String(), reason)
		log.Warn().Str("channel", c.name.String()).Err(err).Msg("channels.MessageChannel dropped frame")
		return
	}
	observability.RecordWireMessage(c.name.String(), msg.Header.MsgType)
	c.handler(c.name, msg)
}

func (c *MessageChannel) flush() {
	for _, msg := range c.outbox.Take() {
		frames, err := c.codec.Encode(msg)
		if err != nil {
			log.Error().Str("channel", c.name.String()).Err(err).Msg("channels.MessageChannel encode failed")
			continue
		}
		if err := c.sock.Send(frames); err != nil {
			log.Warn().
				Str("channel", c.name.String()).
				Str("msg_type", msg.Header.MsgType).
				Err(err).
				Msg("channels.MessageChannel send failed")
			continue
		}
		observability.RecordWireSent(c.name.String())
	}
}
