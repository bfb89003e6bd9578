package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/kernelctl/internal/engine"
	"github.com/danmuck/kernelctl/internal/observability"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/router"
	"github.com/rs/zerolog/log"
)

const interruptName = "KeyboardInterrupt"

// runExecutor serves the execution queue one request at a time. It is the
// only goroutine that calls the engine.
func (k *Kernel) runExecutor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-k.router.Executions():
			served, err := k.dispatch(ctx, req)
			if err != nil {
				return err
			}
			if !served {
				log.Debug().Str("msg_id", req.MsgID()).Msg("kernel.executor stopped admitting")
				return nil
			}
		}
	}
}

func (k *Kernel) dispatch(ctx context.Context, req router.Request) (bool, error) {
	if req.MsgType() == schema.MsgExecuteRequest {
		return k.execute(ctx, req)
	}
	return k.query(ctx, req)
}

// execute runs one request. It reports false when the kernel is no longer
// accepting work and the request was dropped.
func (k *Kernel) execute(ctx context.Context, req router.Request) (bool, error) {
	content, ok := req.Content.(*schema.ExecuteRequest)
	if !ok {
		return true, fmt.Errorf("kernel: unexpected execute content %T", req.Content)
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	slot := k.beginInflight(req.MsgID(), cancel)
	defer k.endInflight(slot)

	if err := k.life.Busy(); err != nil {
		return false, nil
	}

	scope := k.router.BeginExecution(req)
	defer scope.End()
	k.publish(scope, schema.MsgStatus, schema.Status{ExecutionState: schema.StateBusy})

	if content.StoreHistory && !content.Silent {
		k.execCount.Add(1)
	}
	count := int(k.execCount.Load())
	if !content.Silent {
		k.publish(scope, schema.MsgExecuteInput, schema.ExecuteInput{Code: content.Code, ExecutionCount: count})
	}

	sink := newStreamSink(k.router, scope, k.cfg.FlushInterval)
	start := time.Now()
	result, runErr, fatal := k.callEngine(execCtx, engine.Request{
		Code:            content.Code,
		Silent:          content.Silent,
		StoreHistory:    content.StoreHistory,
		AllowStdin:      content.AllowStdin,
		UserExpressions: content.UserExpressions,
		ExecutionCount:  count,
	}, sink)
	sink.Close()

	reply := schema.ExecuteReply{Status: schema.StatusOK, ExecutionCount: count}
	if runErr != nil {
		ee := engine.AsError(runErr)
		if k.wasInterrupted(slot) || errors.Is(runErr, context.Canceled) {
			ee = &engine.Error{EName: interruptName, EValue: "", Traceback: []string{}}
		}
		if ee.Traceback == nil {
			ee.Traceback = []string{}
		}
		errContent := schema.ErrorContent{EName: ee.EName, EValue: ee.EValue, Traceback: ee.Traceback}
		k.publish(scope, schema.MsgError, errContent)
		reply.Status = schema.StatusError
		reply.EName, reply.EValue, reply.Traceback = ee.EName, ee.EValue, ee.Traceback
	} else {
		if len(result.Data) > 0 && !content.Silent {
			metadata := result.Metadata
			if metadata == nil {
				metadata = map[string]any{}
			}
			k.publish(scope, schema.MsgExecuteResult, schema.ExecuteResult{
				ExecutionCount: count,
				Data:           result.Data,
				Metadata:       metadata,
			})
		}
		reply.UserExpressions = result.UserExpressions
		if reply.UserExpressions == nil {
			reply.UserExpressions = map[string]any{}
		}
		reply.Payload = []any{}
	}

	if err := scope.Reply(schema.MsgExecuteReply, reply); err != nil {
		log.Warn().Str("msg_id", req.MsgID()).Err(err).Msg("kernel.execute reply failed")
	}
	if err := k.life.Idle(); err != nil {
		log.Debug().Str("msg_id", req.MsgID()).Err(err).Msg("kernel.execute idle transition")
	}
	k.publish(scope, schema.MsgStatus, schema.Status{ExecutionState: schema.StateIdle})
	observability.RecordExecution(reply.Status, time.Since(start))
	log.Debug().
		Str("msg_id", req.MsgID()).
		Str("status", reply.Status).
		Int("execution_count", count).
		Dur("duration", time.Since(start)).
		Msg("kernel.execute done")

	if fatal != nil {
		return true, fatal
	}
	if reply.Status == schema.StatusError && content.StopOnError && k.abortsQueue(slot) {
		k.abortQueued()
	}
	return true, nil
}

// callEngine invokes the engine and converts a panic into a fatal error.
func (k *Kernel) callEngine(ctx context.Context, req engine.Request, sink engine.Sink) (res engine.Result, runErr error, fatal error) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			runErr = &engine.Error{EName: "EnginePanic", EValue: msg, Traceback: []string{msg}}
			fatal = fmt.Errorf("%w: %s", ErrEnginePanic, msg)
			log.Error().Str("panic", msg).Msg("kernel.callEngine engine panic")
		}
	}()
	res, runErr = k.engine.Execute(ctx, req, sink)
	return res, runErr, nil
}

// abortsQueue reports whether a failed execution should abort the queue.
// Interrupts and shutdown only end the in-flight request.
func (k *Kernel) abortsQueue(slot *inflight) bool {
	if k.wasInterrupted(slot) {
		return false
	}
	return k.life.State() != StateShuttingDown
}

// abortQueued answers every request queued at this moment with status
// aborted, bracketed by busy and idle, without running it.
func (k *Kernel) abortQueued() {
	n := k.router.QueuedExecutions()
	for i := 0; i < n; i++ {
		select {
		case req := <-k.router.Executions():
			k.abort(req)
		default:
			return
		}
	}
}

func (k *Kernel) abort(req router.Request) {
	scope := k.router.Serve(req)
	defer scope.End()
	k.publish(scope, schema.MsgStatus, schema.Status{ExecutionState: schema.StateBusy})
	replyType, _ := schema.ReplyType(req.MsgType())
	var reply any = schema.AbortedReply{Status: schema.StatusAborted}
	if req.MsgType() == schema.MsgExecuteRequest {
		reply = schema.ExecuteReply{Status: schema.StatusAborted, ExecutionCount: int(k.execCount.Load())}
	}
	if err := scope.Reply(replyType, reply); err != nil {
		log.Warn().Str("msg_id", req.MsgID()).Err(err).Msg("kernel.abort reply failed")
	}
	k.publish(scope, schema.MsgStatus, schema.Status{ExecutionState: schema.StateIdle})
	if req.MsgType() == schema.MsgExecuteRequest {
		observability.RecordExecution(schema.StatusAborted, 0)
	}
	log.Debug().Str("msg_id", req.MsgID()).Str("msg_type", req.MsgType()).Msg("kernel.abort")
}

func (k *Kernel) publish(scope *router.Scope, msgType string, content any) {
	if err := scope.Publish(msgType, content); err != nil {
		log.Debug().Str("msg_type", msgType).Err(err).Msg("kernel.publish")
	}
}

func (k *Kernel) beginInflight(msgID string, cancel context.CancelFunc) *inflight {
	slot := &inflight{msgID: msgID, cancel: cancel, done: make(chan struct{})}
	k.inflightMu.Lock()
	k.inflight = slot
	k.inflightMu.Unlock()
	return slot
}

func (k *Kernel) endInflight(slot *inflight) {
	k.inflightMu.Lock()
	if k.inflight == slot {
		k.inflight = nil
	}
	k.inflightMu.Unlock()
	close(slot.done)
}

func (k *Kernel) wasInterrupted(slot *inflight) bool {
	k.inflightMu.Lock()
	defer k.inflightMu.Unlock()
	return slot.interrupted
}

// interrupt cancels the in-flight engine call, if any. Queued requests are
// not affected.
func (k *Kernel) interrupt() bool {
	k.inflightMu.Lock()
	defer k.inflightMu.Unlock()
	if k.inflight == nil {
		return false
	}
	k.inflight.interrupted = true
	k.inflight.cancel()
	log.Info().Str("msg_id", k.inflight.msgID).Msg("kernel.interrupt")
	return true
}

// waitIdle blocks until the in-flight execution finishes or timeout passes.
func (k *Kernel) waitIdle(timeout time.Duration) bool {
	k.inflightMu.Lock()
	slot := k.inflight
	k.inflightMu.Unlock()
	if slot == nil {
		return true
	}
	select {
	case <-slot.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
