package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/kernelctl/internal/channels"
	"github.com/danmuck/kernelctl/internal/observability"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/protocol/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultUsername  = "kernel"
	controlQueueSize = 16
	commQueueSize    = 256
	defaultExecQueue = 64
	schemaErrorName  = "SchemaError"
)

// Sender is the outbound half of a channel.
type Sender interface {
	Deliver(msg *wire.Message) bool
}

type Config struct {
	// Session stamps every outbound header. Empty generates a new one.
	Session       string
	Username      string
	ExecQueueSize int
}

type Router struct {
	session  string
	username string

	mu         sync.RWMutex
	senders    map[channels.Channel]Sender
	kernelInfo schema.KernelInfoReply

	exec    chan Request
	control chan Request
	comm    chan Request

	current atomic.Pointer[Scope]

	inputMu sync.Mutex
	inputs  map[string]chan string

	closed    chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Router {
	if cfg.Session == "" {
		cfg.Session = uuid.NewString()
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if cfg.ExecQueueSize <= 0 {
		cfg.ExecQueueSize = defaultExecQueue
	}
	return &Router{
		session:  cfg.Session,
		username: cfg.Username,
		senders:  make(map[channels.Channel]Sender),
		exec:     make(chan Request, cfg.ExecQueueSize),
		control:  make(chan Request, controlQueueSize),
		comm:     make(chan Request, commQueueSize),
		inputs:   make(map[string]chan string),
		closed:   make(chan struct{}),
	}
}

func (r *Router) Session() string {
	return r.session
}

// Attach registers the outbound side of a channel.
func (r *Router) Attach(ch channels.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[ch] = s
}

// SetKernelInfo caches the capability reply served for kernel_info_request.
func (r *Router) SetKernelInfo(info schema.KernelInfoReply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernelInfo = info
}

func (r *Router) KernelInfo() schema.KernelInfoReply {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kernelInfo
}

// Executions yields execute requests in arrival order, interleaved with the
// engine queries (is_complete, complete, inspect) that share the engine.
func (r *Router) Executions() <-chan Request {
	return r.exec
}

func (r *Router) ControlRequests() <-chan Request {
	return r.control
}

func (r *Router) CommRequests() <-chan Request {
	return r.comm
}

// QueuedExecutions reports how many engine requests wait behind the current one.
func (r *Router) QueuedExecutions() int {
	return len(r.exec)
}

func (r *Router) Done() <-chan struct{} {
	return r.closed
}

// Close stops admitting inbound messages and releases pending input waiters.
// Scopes already open can still emit.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		log.Debug().Msg("router.Close")
	})
}

func (r *Router) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// Handle adapts Route to channels.Handler.
func (r *Router) Handle(ch channels.Channel, msg *wire.Message) {
	_ = r.Route(ch, msg)
}

// Route admits msg onto one processing path. Errors are logged and counted
// here; the returned error is informational.
func (r *Router) Route(ch channels.Channel, msg *wire.Message) error {
	msgType := msg.Header.MsgType
	if !accepts(ch, msgType) {
		err := fmt.Errorf("%w: %q on %s", schema.ErrUnsupportedMessageType, msgType, ch)
		if schema.Known(msgType) {
			err = fmt.Errorf("%w: %q on %s", ErrWrongChannel, msgType, ch)
		}
		observability.RecordWireRejection(ch.String(), observability.RejectUnsupported)
		log.Warn().Str("channel", ch.String()).Str("msg_type", msgType).Err(err).Msg("router.Route dropped")
		return err
	}

	if r.isClosed() {
		log.Debug().Str("channel", ch.String()).Str("msg_type", msgType).Msg("router.Route closed, dropped")
		return ErrClosed
	}

	content, err := schema.Parse(msgType, msg.Content)
	if err != nil {
		r.reject(ch, msg, err)
		return err
	}
	req := Request{Channel: ch, Message: msg, Content: content}

	switch msgType {
	case schema.MsgExecuteRequest, schema.MsgIsCompleteRequest, schema.MsgCompleteRequest, schema.MsgInspectRequest:
		return r.enqueue(r.exec, req)
	case schema.MsgInterruptRequest, schema.MsgShutdownRequest:
		return r.enqueue(r.control, req)
	case schema.MsgCommOpen, schema.MsgCommMsg, schema.MsgCommClose, schema.MsgCommInfoRequest:
		return r.enqueue(r.comm, req)
	case schema.MsgKernelInfoRequest:
		scope := r.Serve(req)
		defer scope.End()
		return scope.Reply(schema.MsgKernelInfoReply, r.KernelInfo())
	case schema.MsgInputReply:
		return r.resolveInput(msg, content.(*schema.InputReply))
	}
	return nil
}

func (r *Router) enqueue(queue chan Request, req Request) error {
	select {
	case queue <- req:
		return nil
	case <-r.closed:
		return ErrClosed
	}
}

func (r *Router) reject(ch channels.Channel, msg *wire.Message, err error) {
	observability.RecordWireRejection(ch.String(), observability.RejectSchema)
	log.Warn().
		Str("channel", ch.String()).
		Str("msg_type", msg.Header.MsgType).
		Str("msg_id", msg.Header.MsgID).
		Err(err).
		Msg("router.Route schema rejected")

	var se *schema.SchemaError
	if !errors.As(err, &se) {
		return
	}
	replyType, ok := schema.ReplyType(msg.Header.MsgType)
	if !ok {
		return
	}
	reply := schema.ErrorReply{
		Status: schema.StatusError,
		ErrorContent: schema.ErrorContent{
			EName:     schemaErrorName,
			EValue:    se.Error(),
			Traceback: []string{},
		},
	}
	if sendErr := r.send(ch, replyType, msg.Identities, msg.Header, reply); sendErr != nil {
		log.Warn().Str("channel", ch.String()).Err(sendErr).Msg("router.reject reply failed")
	}
}

// Serve opens a scope for a request that is answered off the execution path.
func (r *Router) Serve(req Request) *Scope {
	return &Scope{router: r, req: req}
}

// BeginExecution opens the scope for the request the executor is about to
// run and makes it the current scope until End.
func (r *Router) BeginExecution(req Request) *Scope {
	s := &Scope{router: r, req: req}
	r.current.Store(s)
	return s
}

// Current returns the in-flight execution scope, or nil when idle.
func (r *Router) Current() *Scope {
	return r.current.Load()
}

// PublishUnparented broadcasts an iopub message not caused by any request.
func (r *Router) PublishUnparented(msgType string, content any) error {
	return r.publish(msgType, wire.Header{}, content)
}

func (r *Router) publish(msgType string, parent wire.Header, content any) error {
	topic := [][]byte{[]byte("kernel." + r.session + "." + msgType)}
	return r.send(channels.IOPub, msgType, topic, parent, content)
}

func (r *Router) send(ch channels.Channel, msgType string, identities [][]byte, parent wire.Header, content any) error {
	msg, err := r.build(msgType, identities, parent, content)
	if err != nil {
		return err
	}
	r.mu.RLock()
	sender, ok := r.senders[ch]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChannel, ch)
	}
	if !sender.Deliver(msg) {
		return fmt.Errorf("%w: %s %s", ErrDropped, ch, msgType)
	}
	return nil
}

func (r *Router) build(msgType string, identities [][]byte, parent wire.Header, content any) (*wire.Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("router: encode %s content: %w", msgType, err)
	}
	return &wire.Message{
		Identities: identities,
		Header:     wire.NewHeader(msgType, r.session, r.username),
		Parent:     parent,
		Content:    raw,
	}, nil
}

func accepts(ch channels.Channel, msgType string) bool {
	switch ch {
	case channels.Shell:
		switch msgType {
		case schema.MsgExecuteRequest, schema.MsgKernelInfoRequest,
			schema.MsgIsCompleteRequest, schema.MsgCompleteRequest, schema.MsgInspectRequest,
			schema.MsgCommOpen, schema.MsgCommMsg, schema.MsgCommClose, schema.MsgCommInfoRequest,
			schema.MsgShutdownRequest, schema.MsgInterruptRequest:
			return true
		}
	case channels.Control:
		switch msgType {
		case schema.MsgKernelInfoRequest, schema.MsgInterruptRequest, schema.MsgShutdownRequest:
			return true
		}
	case channels.Stdin:
		return msgType == schema.MsgInputReply
	}
	return false
}

// RequestInput asks the front end for a line of input on behalf of scope and
// waits for the matching input_reply.
func (r *Router) RequestInput(ctx context.Context, scope *Scope, prompt string, password bool) (string, error) {
	if req, ok := scope.Request().Content.(*schema.ExecuteRequest); ok && !req.AllowStdin {
		return "", ErrStdinNotAllowed
	}
	msg, err := r.build(
		schema.MsgInputRequest,
		scope.Request().Message.Identities,
		scope.Parent(),
		schema.InputRequest{Prompt: prompt, Password: password},
	)
	if err != nil {
		return "", err
	}

	waiter := make(chan string, 1)
	key := msg.Header.MsgID
	r.inputMu.Lock()
	r.inputs[key] = waiter
	r.inputMu.Unlock()
	defer func() {
		r.inputMu.Lock()
		delete(r.inputs, key)
		r.inputMu.Unlock()
	}()

	if scope.Closed() {
		return "", ErrScopeClosed
	}
	r.mu.RLock()
	stdin, ok := r.senders[channels.Stdin]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoChannel, channels.Stdin)
	}
	if !stdin.Deliver(msg) {
		return "", fmt.Errorf("%w: %s %s", ErrDropped, channels.Stdin, schema.MsgInputRequest)
	}

	select {
	case value := <-waiter:
		return value, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.closed:
		return "", ErrClosed
	}
}

func (r *Router) resolveInput(msg *wire.Message, reply *schema.InputReply) error {
	r.inputMu.Lock()
	defer r.inputMu.Unlock()
	waiter, ok := r.inputs[msg.Parent.MsgID]
	if !ok && len(r.inputs) == 1 {
		for _, only := range r.inputs {
			waiter, ok = only, true
		}
	}
	if !ok {
		log.Warn().Str("msg_id", msg.Header.MsgID).Msg("router.resolveInput no pending input_request")
		return fmt.Errorf("router: no pending input_request for %q", msg.Parent.MsgID)
	}
	select {
	case waiter <- reply.Value:
	default:
	}
	return nil
}
