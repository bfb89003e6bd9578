package router

import (
	"sync"

	"github.com/danmuck/kernelctl/internal/channels"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/protocol/wire"
)

// Request is one admitted inbound message with its parsed content.
type Request struct {
	Channel channels.Channel
	Message *wire.Message
	Content any
}

func (r Request) MsgType() string {
	return r.Message.Header.MsgType
}

func (r Request) MsgID() string {
	return r.Message.Header.MsgID
}

// Scope emits messages on behalf of one request. Everything it sends carries
// the request header as parent; replies go back to the request's sender.
type Scope struct {
	router *Router
	req    Request

	mu     sync.Mutex
	closed bool
}

func (s *Scope) Request() Request {
	return s.req
}

func (s *Scope) Parent() wire.Header {
	return s.req.Message.Header
}

// Reply answers the request on the channel it arrived on.
func (s *Scope) Reply(msgType string, content any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScopeClosed
	}
	return s.router.send(s.req.Channel, msgType, s.req.Message.Identities, s.Parent(), content)
}

// Publish broadcasts an iopub message parented to the request.
func (s *Scope) Publish(msgType string, content any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScopeClosed
	}
	return s.router.publish(msgType, s.Parent(), content)
}

func (s *Scope) Status(state string) error {
	return s.Publish(schema.MsgStatus, schema.Status{ExecutionState: state})
}

// End closes the scope. Later emits fail with ErrScopeClosed.
func (s *Scope) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.router.current.CompareAndSwap(s, nil)
}

func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
