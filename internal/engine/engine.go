// Package engine is the boundary between the kernel and the language runtime
// it drives. Implementations are single-threaded and not reentrant; the
// kernel guarantees one Execute call at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/kernelctl/internal/protocol/schema"
)

// Request is the engine-facing view of one execute_request.
type Request struct {
	Code            string
	Silent          bool
	StoreHistory    bool
	AllowStdin      bool
	UserExpressions map[string]string
	ExecutionCount  int
}

// Result is what a successful execution produced. Empty Data publishes no
// execute_result.
type Result struct {
	Data            map[string]any
	Metadata        map[string]any
	UserExpressions map[string]any
}

// Sink carries side output while an execution is in flight.
type Sink interface {
	Stdout() io.Writer
	Stderr() io.Writer
	Display(data, metadata map[string]any) error
	Input(ctx context.Context, prompt string, password bool) (string, error)
}

// Engine runs code. Cancelling ctx is the interrupt signal; an engine that
// observes it should return ctx.Err() promptly.
type Engine interface {
	LanguageInfo() schema.LanguageInfo
	Execute(ctx context.Context, req Request, sink Sink) (Result, error)
}

// CompletenessChecker is implemented by engines that can tell whether code is
// ready to run. Like Execute, the kernel never calls it concurrently.
type CompletenessChecker interface {
	IsComplete(ctx context.Context, req schema.IsCompleteRequest) (schema.IsCompleteReply, error)
}

// Completer offers completions for the token at the cursor.
type Completer interface {
	Complete(ctx context.Context, req schema.CompleteRequest) (schema.CompleteReply, error)
}

// Inspector describes the object at the cursor.
type Inspector interface {
	Inspect(ctx context.Context, req schema.InspectRequest) (schema.InspectReply, error)
}

// Error is a user-visible execution failure.
type Error struct {
	EName     string
	EValue    string
	Traceback []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.EName, e.EValue)
}

// AsError maps any execution error onto the ename/evalue/traceback triple.
func AsError(err error) *Error {
	var ee *Error
	if errors.As(err, &ee) {
		return ee
	}
	return &Error{EName: "Error", EValue: err.Error(), Traceback: []string{err.Error()}}
}
