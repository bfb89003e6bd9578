package comm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/danmuck/kernelctl/internal/observability"
	"github.com/danmuck/kernelctl/internal/router"
	"github.com/rs/zerolog/log"
)

type mail struct {
	data  json.RawMessage
	scope *router.Scope
}

// openComm is one live comm and its mailbox. Posts are refused once
// closing is set, so the loop can finish the last batch and tear down.
type openComm struct {
	id      string
	target  string
	handler Handler

	mu      sync.Mutex
	pending []mail
	closing bool
	wake    chan struct{}

	teardown sync.Once
	done     chan struct{}
}

func newOpenComm(id, target string) *openComm {
	return &openComm{
		id:     id,
		target: target,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *openComm) post(m mail) bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return false
	}
	c.pending = append(c.pending, m)
	c.mu.Unlock()
	c.signal()
	return true
}

// shutdown stops the mailbox. It reports false if already shutting down.
func (c *openComm) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.closing = true
	c.signal()
	return true
}

func (c *openComm) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *openComm) run(ctx context.Context, m *Manager) {
	defer close(c.done)
	defer c.close()
	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		closing := c.closing
		c.mu.Unlock()

		for _, item := range batch {
			c.dispatch(ctx, m, item)
		}
		if closing {
			return
		}
		select {
		case <-c.wake:
		case <-ctx.Done():
			c.mu.Lock()
			c.closing = true
			rest := c.pending
			c.pending = nil
			c.mu.Unlock()
			for _, item := range rest {
				item.scope.End()
			}
			return
		}
	}
}

func (c *openComm) dispatch(ctx context.Context, m *Manager, item mail) {
	defer item.scope.End()
	defer func() {
		if r := recover(); r != nil {
			observability.RecordCommError("panic")
			log.Error().Str("comm_id", c.id).Str("target", c.target).Msgf("comm.dispatch handler panic: %v", r)
		}
	}()
	out := &emitter{m: m, c: c, scope: item.scope}
	if err := c.handler.Message(ctx, item.data, out); err != nil {
		observability.RecordCommError("handler")
		log.Warn().Str("comm_id", c.id).Str("target", c.target).Err(err).Msg("comm.dispatch handler failed")
	}
}

func (c *openComm) close() {
	c.teardown.Do(func() {
		if c.handler == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("comm_id", c.id).Msgf("comm.close handler panic: %v", r)
			}
		}()
		c.handler.Close()
		log.Debug().Str("comm_id", c.id).Str("target", c.target).Msg("comm closed")
	})
}
