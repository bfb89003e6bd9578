package echo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/danmuck/kernelctl/internal/engine"
)

type bufferSink struct {
	stdout, stderr bytes.Buffer
	displays       []map[string]any
	input          string
}

func (s *bufferSink) Stdout() io.Writer { return &s.stdout }
func (s *bufferSink) Stderr() io.Writer { return &s.stderr }

func (s *bufferSink) Display(data, _ map[string]any) error {
	s.displays = append(s.displays, data)
	return nil
}

func (s *bufferSink) Input(context.Context, string, bool) (string, error) {
	return s.input, nil
}

func TestExecuteEchoesCode(t *testing.T) {
	sink := &bufferSink{input: "ada"}
	res, err := New().Execute(context.Background(), engine.Request{Code: "hello\ninput:name?\ndisplay:pic\nstderr:warn"}, sink)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sink.stdout.String() != "hello\nada\n" {
		t.Fatalf("unexpected stdout %q", sink.stdout.String())
	}
	if sink.stderr.String() != "warn\n" {
		t.Fatalf("unexpected stderr %q", sink.stderr.String())
	}
	if len(sink.displays) != 1 || sink.displays[0]["text/plain"] != "pic" {
		t.Fatalf("unexpected displays %v", sink.displays)
	}
	if res.Data["text/plain"] == nil {
		t.Fatalf("expected text/plain result")
	}
}

func TestExecuteErrorDirective(t *testing.T) {
	_, err := New().Execute(context.Background(), engine.Request{Code: "error: nope"}, &bufferSink{})
	var ee *engine.Error
	if !errors.As(err, &ee) || ee.EName != "EchoError" || ee.EValue != "nope" {
		t.Fatalf("expected EchoError, got %v", err)
	}
}

func TestExecuteSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := New().Execute(ctx, engine.Request{Code: "sleep:10s"}, &bufferSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("sleep ignored cancellation")
	}
}
