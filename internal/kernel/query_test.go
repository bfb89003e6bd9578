package kernel

import (
	"slices"
	"testing"

	"github.com/danmuck/kernelctl/internal/engine"
	"github.com/danmuck/kernelctl/internal/engine/echo"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/testutil/testlog"
)

// bareEngine hides every optional capability of the wrapped engine.
type bareEngine struct {
	engine.Engine
}

func TestCompleteIsServedBetweenBusyAndIdle(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, nil)
	req := h.send(h.shell, schema.MsgCompleteRequest, map[string]any{"code": "x sl", "cursor_pos": 4})

	msg := next(t, h.shellIn, "complete_reply")
	var rep schema.CompleteReply
	decode(t, msg, &rep)
	if msg.Header.MsgType != schema.MsgCompleteReply || msg.Parent.MsgID != req.Header.MsgID {
		t.Fatalf("unexpected reply %s parent=%s", msg.Header.MsgType, msg.Parent.MsgID)
	}
	if rep.Status != schema.StatusOK || !slices.Equal(rep.Matches, []string{"sleep:"}) || rep.CursorStart != 2 || rep.CursorEnd != 4 {
		t.Fatalf("unexpected complete reply %+v", rep)
	}

	events := iopubFor(t, h.iopubIn, req)
	if got := types(events); !slices.Equal(got, []string{schema.MsgStatus, schema.MsgStatus}) {
		t.Fatalf("unexpected iopub sequence %v", got)
	}
	if statusOf(t, events[0]) != schema.StateBusy {
		t.Fatalf("first event must be busy")
	}
	if h.k.ExecutionCount() != 0 {
		t.Fatalf("completion changed execution count to %d", h.k.ExecutionCount())
	}
}

func TestInspectAndIsComplete(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, nil)
	h.send(h.shell, schema.MsgInspectRequest, map[string]any{"code": "input:name?", "cursor_pos": 3, "detail_level": 0})
	h.send(h.shell, schema.MsgIsCompleteRequest, map[string]any{"code": "hello \\"})

	msg := next(t, h.shellIn, "inspect_reply")
	var insp schema.InspectReply
	decode(t, msg, &insp)
	if msg.Header.MsgType != schema.MsgInspectReply || !insp.Found || insp.Data["text/plain"] == nil {
		t.Fatalf("unexpected inspect reply %s %+v", msg.Header.MsgType, insp)
	}

	msg = next(t, h.shellIn, "is_complete_reply")
	var ic schema.IsCompleteReply
	decode(t, msg, &ic)
	if msg.Header.MsgType != schema.MsgIsCompleteReply || ic.Status != schema.CodeIncomplete {
		t.Fatalf("unexpected is_complete reply %s %+v", msg.Header.MsgType, ic)
	}
}

func TestQueriesWaitBehindRunningExecution(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, nil)
	exec := h.execute("sleep:200ms", nil)
	comp := h.send(h.shell, schema.MsgCompleteRequest, map[string]any{"code": "di", "cursor_pos": 2})

	first := next(t, h.shellIn, "execute_reply")
	second := next(t, h.shellIn, "complete_reply")
	if first.Parent.MsgID != exec.Header.MsgID || first.Header.MsgType != schema.MsgExecuteReply {
		t.Fatalf("expected execute_reply first, got %s", first.Header.MsgType)
	}
	if second.Parent.MsgID != comp.Header.MsgID || second.Header.MsgType != schema.MsgCompleteReply {
		t.Fatalf("expected complete_reply second, got %s", second.Header.MsgType)
	}
}

func TestMissingCapabilityRepliesError(t *testing.T) {
	testlog.Start(t)
	h := newHarnessWith(t, bareEngine{echo.New()}, nil)
	req := h.send(h.shell, schema.MsgInspectRequest, map[string]any{"code": "sleep:1s", "cursor_pos": 1})

	msg := next(t, h.shellIn, "inspect_reply")
	var rep schema.ErrorReply
	decode(t, msg, &rep)
	if msg.Header.MsgType != schema.MsgInspectReply || msg.Parent.MsgID != req.Header.MsgID {
		t.Fatalf("unexpected reply %s parent=%s", msg.Header.MsgType, msg.Parent.MsgID)
	}
	if rep.Status != schema.StatusError || rep.EName != notImplementedName || rep.Traceback == nil {
		t.Fatalf("unexpected error reply %+v", rep)
	}

	h.execute("still here", nil)
	var ok schema.ExecuteReply
	decode(t, next(t, h.shellIn, "execute_reply"), &ok)
	if ok.Status != schema.StatusOK {
		t.Fatalf("kernel did not keep serving after unsupported query: %+v", ok)
	}
}

func TestStopOnErrorAbortsQueuedQuery(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, nil)
	h.execute("sleep:200ms\nerror:boom", nil)
	comp := h.send(h.shell, schema.MsgCompleteRequest, map[string]any{"code": "di", "cursor_pos": 2})

	var failed schema.ExecuteReply
	decode(t, next(t, h.shellIn, "failing reply"), &failed)
	if failed.Status != schema.StatusError {
		t.Fatalf("unexpected failing reply %+v", failed)
	}
	msg := next(t, h.shellIn, "aborted complete_reply")
	var ab schema.AbortedReply
	decode(t, msg, &ab)
	if msg.Header.MsgType != schema.MsgCompleteReply || msg.Parent.MsgID != comp.Header.MsgID || ab.Status != schema.StatusAborted {
		t.Fatalf("unexpected aborted reply %s %+v", msg.Header.MsgType, ab)
	}
}
