package channels

import (
	"sync"

	"github.com/danmuck/kernelctl/internal/protocol/wire"
)

// Outbox is a FIFO of messages waiting for a channel's send loop. A limit
// of zero means unbounded.
type Outbox struct {
	mu     sync.Mutex
	items  []*wire.Message
	limit  int
	closed bool
	ready  chan struct{}
}

func NewOutbox(limit int) *Outbox {
	if limit < 0 {
		limit = 0
	}
	return &Outbox{limit: limit, ready: make(chan struct{}, 1)}
}

// Push appends msg. It returns false when the outbox is full or closed.
func (o *Outbox) Push(msg *wire.Message) bool {
	o.mu.Lock()
	if o.closed || (o.limit > 0 && len(o.items) >= o.limit) {
		o.mu.Unlock()
		return false
	}
	o.items = append(o.items, msg)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return true
}

// Take removes and returns everything queued, oldest first.
func (o *Outbox) Take() []*wire.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.items
	o.items = nil
	return out
}

// Ready fires after a Push onto an outbox that had not been signalled.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Close stops admitting messages. Queued messages stay available to Take.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}
