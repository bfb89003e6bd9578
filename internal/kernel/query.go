package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/kernelctl/internal/engine"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/router"
	"github.com/rs/zerolog/log"
)

const notImplementedName = "NotImplementedError"

// query answers is_complete, complete and inspect requests. They run on the
// executor like executions so the engine never sees two calls at once, but
// they do not touch the execution count.
func (k *Kernel) query(ctx context.Context, req router.Request) (bool, error) {
	replyType, ok := schema.ReplyType(req.MsgType())
	if !ok {
		return true, fmt.Errorf("kernel: no reply type for %q", req.MsgType())
	}

	queryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	slot := k.beginInflight(req.MsgID(), cancel)
	defer k.endInflight(slot)

	if err := k.life.Busy(); err != nil {
		return false, nil
	}

	scope := k.router.Serve(req)
	defer scope.End()
	k.publish(scope, schema.MsgStatus, schema.Status{ExecutionState: schema.StateBusy})

	start := time.Now()
	reply, fatal := k.callQuery(queryCtx, req)
	if reply == nil {
		reply = errorReply(engine.AsError(fatal))
	}
	if k.wasInterrupted(slot) {
		reply = errorReply(&engine.Error{EName: interruptName, Traceback: []string{}})
	}

	if err := scope.Reply(replyType, reply); err != nil {
		log.Warn().Str("msg_id", req.MsgID()).Err(err).Msg("kernel.query reply failed")
	}
	if err := k.life.Idle(); err != nil {
		log.Debug().Str("msg_id", req.MsgID()).Err(err).Msg("kernel.query idle transition")
	}
	k.publish(scope, schema.MsgStatus, schema.Status{ExecutionState: schema.StateIdle})
	log.Debug().
		Str("msg_id", req.MsgID()).
		Str("msg_type", req.MsgType()).
		Dur("duration", time.Since(start)).
		Msg("kernel.query done")
	return true, fatal
}

// callQuery dispatches to the engine capability for req. A missing
// capability or an engine error becomes an error-shaped reply.
func (k *Kernel) callQuery(ctx context.Context, req router.Request) (reply any, fatal error) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			reply = errorReply(&engine.Error{EName: "EnginePanic", EValue: msg, Traceback: []string{msg}})
			fatal = fmt.Errorf("%w: %s", ErrEnginePanic, msg)
			log.Error().Str("panic", msg).Str("msg_type", req.MsgType()).Msg("kernel.callQuery engine panic")
		}
	}()

	switch content := req.Content.(type) {
	case *schema.IsCompleteRequest:
		checker, ok := k.engine.(engine.CompletenessChecker)
		if !ok {
			return notImplemented(req.MsgType()), nil
		}
		r, err := checker.IsComplete(ctx, *content)
		if err != nil {
			return errorReply(err), nil
		}
		if r.Status == "" {
			r.Status = schema.CodeUnknown
		}
		return r, nil
	case *schema.CompleteRequest:
		completer, ok := k.engine.(engine.Completer)
		if !ok {
			return notImplemented(req.MsgType()), nil
		}
		r, err := completer.Complete(ctx, *content)
		if err != nil {
			return errorReply(err), nil
		}
		if r.Status == "" {
			r.Status = schema.StatusOK
		}
		if r.Matches == nil {
			r.Matches = []string{}
		}
		if r.Metadata == nil {
			r.Metadata = map[string]any{}
		}
		return r, nil
	case *schema.InspectRequest:
		inspector, ok := k.engine.(engine.Inspector)
		if !ok {
			return notImplemented(req.MsgType()), nil
		}
		r, err := inspector.Inspect(ctx, *content)
		if err != nil {
			return errorReply(err), nil
		}
		if r.Status == "" {
			r.Status = schema.StatusOK
		}
		if r.Data == nil {
			r.Data = map[string]any{}
		}
		if r.Metadata == nil {
			r.Metadata = map[string]any{}
		}
		return r, nil
	}
	return nil, fmt.Errorf("kernel: unexpected query content %T", req.Content)
}

func notImplemented(msgType string) schema.ErrorReply {
	return errorReply(&engine.Error{
		EName:     notImplementedName,
		EValue:    msgType + " is not supported by this engine",
		Traceback: []string{},
	})
}

func errorReply(err error) schema.ErrorReply {
	ee := engine.AsError(err)
	if errors.Is(err, context.Canceled) {
		ee = &engine.Error{EName: interruptName}
	}
	traceback := ee.Traceback
	if traceback == nil {
		traceback = []string{}
	}
	return schema.ErrorReply{
		Status:       schema.StatusError,
		ErrorContent: schema.ErrorContent{EName: ee.EName, EValue: ee.EValue, Traceback: traceback},
	}
}
