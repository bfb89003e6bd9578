package comm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/kernelctl/internal/observability"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/router"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Outbound is the router surface the manager publishes through.
type Outbound interface {
	Serve(req router.Request) *router.Scope
	Current() *router.Scope
	PublishUnparented(msgType string, content any) error
}

// Info describes one open comm.
type Info struct {
	ID     string `json:"comm_id"`
	Target string `json:"target_name"`
}

type Manager struct {
	registry *Registry
	out      Outbound

	mu    sync.RWMutex
	comms map[string]*openComm
	wg    sync.WaitGroup
}

func NewManager(registry *Registry, out Outbound) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{
		registry: registry,
		out:      out,
		comms:    make(map[string]*openComm),
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Run serves comm requests until ctx is cancelled, then closes every comm.
func (m *Manager) Run(ctx context.Context, queue <-chan router.Request) error {
	defer m.CloseAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-queue:
			m.Handle(ctx, req)
		}
	}
}

// Handle serves one comm_open, comm_msg, comm_close or comm_info_request.
func (m *Manager) Handle(ctx context.Context, req router.Request) {
	scope := m.out.Serve(req)
	var err error
	switch content := req.Content.(type) {
	case *schema.CommOpen:
		err = m.Open(ctx, scope, *content)
		scope.End()
	case *schema.CommMsg:
		// the mailbox ends the scope after dispatch
		err = m.Send(scope, content.CommID, content.Data)
		if err != nil {
			scope.End()
		}
	case *schema.CommClose:
		err = m.Close(content.CommID)
		scope.End()
	case *schema.CommInfoRequest:
		err = scope.Reply(schema.MsgCommInfoReply, m.Info(content.TargetName))
		scope.End()
	default:
		err = fmt.Errorf("%w: %q", schema.ErrUnsupportedMessageType, req.MsgType())
		scope.End()
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownComm):
		// closing an unknown or already closed comm is a no-op
		log.Debug().Str("msg_type", req.MsgType()).Str("msg_id", req.MsgID()).Err(err).Msg("comm.Manager.Handle")
	default:
		log.Warn().Str("msg_type", req.MsgType()).Str("msg_id", req.MsgID()).Err(err).Msg("comm.Manager.Handle")
	}
}

// Open registers a front-end initiated comm. An unknown target is
// acknowledged without creating anything.
func (m *Manager) Open(ctx context.Context, scope *router.Scope, msg schema.CommOpen) error {
	id := strings.TrimSpace(msg.CommID)
	if id == "" {
		return fmt.Errorf("%w: empty comm_id", ErrUnknownComm)
	}
	factory, ok := m.registry.Resolve(msg.TargetName)
	if !ok {
		log.Info().Str("comm_id", id).Str("target", msg.TargetName).Msg("comm.Open unknown target ignored")
		return nil
	}
	if m.lookup(id) != nil {
		observability.RecordCommError("duplicate")
		return fmt.Errorf("%w: %s", ErrCommExists, id)
	}

	c := newOpenComm(id, msg.TargetName)
	handler, err := m.instantiate(ctx, factory, c, scope, msg.Data)
	if err != nil {
		observability.RecordCommError("instantiation")
		out := &emitter{m: m, c: c, scope: scope}
		if pubErr := out.publish(schema.MsgCommClose, schema.CommClose{
			CommID: id,
			Data:   mustRaw(map[string]string{"error": err.Error()}),
		}); pubErr != nil {
			log.Warn().Str("comm_id", id).Err(pubErr).Msg("comm.Open close publish failed")
		}
		return fmt.Errorf("%w: %s: %v", ErrHandlerInstantiation, msg.TargetName, err)
	}
	c.handler = handler
	return m.start(ctx, c)
}

// OpenFromKernel opens a comm on the kernel's initiative and announces it
// with comm_open. It returns the generated comm id.
func (m *Manager) OpenFromKernel(ctx context.Context, target string, data any) (string, error) {
	factory, ok := m.registry.Resolve(target)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	raw, err := toRaw(data)
	if err != nil {
		return "", err
	}
	c := newOpenComm(uuid.NewString(), target)
	handler, err := m.instantiate(ctx, factory, c, nil, raw)
	if err != nil {
		observability.RecordCommError("instantiation")
		return "", fmt.Errorf("%w: %s: %v", ErrHandlerInstantiation, target, err)
	}
	c.handler = handler
	out := &emitter{m: m, c: c}
	if err := out.publish(schema.MsgCommOpen, schema.CommOpen{CommID: c.id, TargetName: target, Data: raw}); err != nil {
		c.close()
		return "", err
	}
	if err := m.start(ctx, c); err != nil {
		return "", err
	}
	return c.id, nil
}

func (m *Manager) instantiate(ctx context.Context, factory Factory, c *openComm, scope *router.Scope, data json.RawMessage) (h Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("factory panic: %v", r)
		}
	}()
	h, err = factory(ctx, c.id, data, &emitter{m: m, c: c, scope: scope})
	if err == nil && h == nil {
		err = errors.New("factory returned nil handler")
	}
	return h, err
}

func (m *Manager) start(ctx context.Context, c *openComm) error {
	m.mu.Lock()
	if _, dup := m.comms[c.id]; dup {
		m.mu.Unlock()
		c.close()
		return fmt.Errorf("%w: %s", ErrCommExists, c.id)
	}
	m.comms[c.id] = c
	n := len(m.comms)
	m.mu.Unlock()

	observability.SetOpenComms(n)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run(ctx, m)
	}()
	log.Debug().Str("comm_id", c.id).Str("target", c.target).Msg("comm opened")
	return nil
}

// Send queues data for the comm's handler. Unknown ids are a no-op.
// On success the mailbox owns scope and ends it after dispatch.
func (m *Manager) Send(scope *router.Scope, commID string, data json.RawMessage) error {
	c := m.lookup(commID)
	if c == nil || !c.post(mail{data: data, scope: scope}) {
		observability.RecordCommError("unknown")
		log.Debug().Str("comm_id", commID).Msg("comm.Send unknown comm")
		return fmt.Errorf("%w: %s", ErrUnknownComm, commID)
	}
	return nil
}

// Close removes a comm. Messages already queued are still delivered, then
// the handler is torn down. Closing an unknown or closed comm is a no-op.
func (m *Manager) Close(commID string) error {
	c := m.detach(commID)
	if c == nil {
		log.Debug().Str("comm_id", commID).Msg("comm.Close unknown comm")
		return fmt.Errorf("%w: %s", ErrUnknownComm, commID)
	}
	c.shutdown()
	return nil
}

func (m *Manager) detach(commID string) *openComm {
	m.mu.Lock()
	c, ok := m.comms[commID]
	if ok {
		delete(m.comms, commID)
	}
	n := len(m.comms)
	m.mu.Unlock()
	if ok {
		observability.SetOpenComms(n)
		return c
	}
	return nil
}

// CloseAll closes every open comm and waits for their teardown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := m.comms
	m.comms = make(map[string]*openComm)
	m.mu.Unlock()

	for _, c := range open {
		c.shutdown()
	}
	m.wg.Wait()
	observability.SetOpenComms(0)
	if len(open) > 0 {
		log.Info().Int("count", len(open)).Msg("comm.CloseAll")
	}
}

// Info answers comm_info_request, optionally filtered by target.
func (m *Manager) Info(target string) schema.CommInfoReply {
	reply := schema.CommInfoReply{Status: schema.StatusOK, Comms: map[string]schema.CommInfo{}}
	for _, c := range m.List() {
		if target != "" && c.Target != target {
			continue
		}
		reply.Comms[c.ID] = schema.CommInfo{TargetName: c.Target}
	}
	return reply
}

// List returns open comms ordered by id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.comms))
	for _, c := range m.comms {
		out = append(out, Info{ID: c.id, Target: c.target})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Manager) lookup(commID string) *openComm {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.comms[commID]
}

type emitter struct {
	m     *Manager
	c     *openComm
	scope *router.Scope
}

func (e *emitter) Send(data any) error {
	raw, err := toRaw(data)
	if err != nil {
		return err
	}
	return e.publish(schema.MsgCommMsg, schema.CommMsg{CommID: e.c.id, Data: raw})
}

func (e *emitter) Close(data any) error {
	raw, err := toRaw(data)
	if err != nil {
		return err
	}
	if e.m.detach(e.c.id) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownComm, e.c.id)
	}
	e.c.shutdown()
	return e.publish(schema.MsgCommClose, schema.CommClose{CommID: e.c.id, Data: raw})
}

func (e *emitter) publish(msgType string, content any) error {
	if e.scope != nil {
		err := e.scope.Publish(msgType, content)
		if !errors.Is(err, router.ErrScopeClosed) {
			return err
		}
	}
	if cur := e.m.out.Current(); cur != nil {
		err := cur.Publish(msgType, content)
		if !errors.Is(err, router.ErrScopeClosed) {
			return err
		}
	}
	return e.m.out.PublishUnparented(msgType, content)
}

func toRaw(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return v, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("comm: encode data: %w", err)
	}
	return raw, nil
}

func mustRaw(data any) json.RawMessage {
	raw, err := toRaw(data)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
