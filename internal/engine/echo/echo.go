// Package echo is a reference engine that writes code back as output.
//
// Directives, one per line:
//
//	input:<prompt>   read a line from the front end and echo it
//	error:<message>  fail with EchoError
//	sleep:<duration> wait, honouring interrupts
//	panic:<message>  panic inside the engine
//	display:<text>   publish text/plain display data
//	stderr:<text>    write to stderr
//
// Any other line is written to stdout. The whole code is the text/plain result.
package echo

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/kernelctl/internal/engine"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
)

const Version = "0.1.0"

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) LanguageInfo() schema.LanguageInfo {
	return schema.LanguageInfo{
		Name:          "echo",
		Version:       Version,
		MimeType:      "text/plain",
		FileExtension: ".txt",
	}
}

func (e *Engine) Execute(ctx context.Context, req engine.Request, sink engine.Sink) (engine.Result, error) {
	for _, line := range strings.Split(req.Code, "\n") {
		if err := ctx.Err(); err != nil {
			return engine.Result{}, err
		}
		directive, arg, _ := strings.Cut(line, ":")
		switch strings.TrimSpace(directive) {
		case "input":
			value, err := sink.Input(ctx, arg, false)
			if err != nil {
				return engine.Result{}, err
			}
			fmt.Fprintln(sink.Stdout(), value)
		case "error":
			return engine.Result{}, &engine.Error{
				EName:     "EchoError",
				EValue:    strings.TrimSpace(arg),
				Traceback: []string{"EchoError: " + strings.TrimSpace(arg)},
			}
		case "sleep":
			d, err := time.ParseDuration(strings.TrimSpace(arg))
			if err != nil {
				return engine.Result{}, &engine.Error{EName: "EchoError", EValue: err.Error()}
			}
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return engine.Result{}, ctx.Err()
			case <-timer.C:
			}
		case "panic":
			panic(strings.TrimSpace(arg))
		case "display":
			if err := sink.Display(map[string]any{"text/plain": strings.TrimSpace(arg)}, nil); err != nil {
				return engine.Result{}, err
			}
		case "stderr":
			fmt.Fprintln(sink.Stderr(), strings.TrimSpace(arg))
		default:
			if _, err := io.WriteString(sink.Stdout(), line+"\n"); err != nil {
				return engine.Result{}, err
			}
		}
	}
	if req.Silent {
		return engine.Result{}, nil
	}
	return engine.Result{Data: map[string]any{"text/plain": req.Code}}, nil
}
