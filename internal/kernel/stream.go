package kernel

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/router"
	"github.com/rs/zerolog/log"
)

type chunk struct {
	name string
	text strings.Builder
}

// streamSink buffers engine output and publishes it as stream messages,
// periodically and before any display or input request so ordering holds.
type streamSink struct {
	router *router.Router
	scope  *router.Scope

	mu      sync.Mutex
	pending []*chunk
	eager   bool

	stop chan struct{}
	done chan struct{}
}

func newStreamSink(r *router.Router, scope *router.Scope, interval time.Duration) *streamSink {
	s := &streamSink{
		router: r,
		scope:  scope,
		eager:  interval <= 0,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if s.eager {
		close(s.done)
		return s
	}
	go s.loop(interval)
	return s
}

func (s *streamSink) loop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *streamSink) Stdout() io.Writer {
	return streamWriter{sink: s, name: schema.StreamStdout}
}

func (s *streamSink) Stderr() io.Writer {
	return streamWriter{sink: s, name: schema.StreamStderr}
}

func (s *streamSink) Display(data, metadata map[string]any) error {
	s.flush()
	if metadata == nil {
		metadata = map[string]any{}
	}
	return s.scope.Publish(schema.MsgDisplayData, schema.DisplayData{Data: data, Metadata: metadata})
}

func (s *streamSink) Input(ctx context.Context, prompt string, password bool) (string, error) {
	s.flush()
	return s.router.RequestInput(ctx, s.scope, prompt, password)
}

func (s *streamSink) write(name string, p []byte) {
	s.mu.Lock()
	n := len(s.pending)
	if n == 0 || s.pending[n-1].name != name {
		s.pending = append(s.pending, &chunk{name: name})
		n++
	}
	s.pending[n-1].text.Write(p)
	s.mu.Unlock()
	if s.eager {
		s.flush()
	}
}

// flush publishes buffered output in write order.
func (s *streamSink) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.pending {
		if err := s.scope.Publish(schema.MsgStream, schema.Stream{Name: c.name, Text: c.text.String()}); err != nil {
			log.Debug().Str("stream", c.name).Err(err).Msg("kernel.streamSink flush")
		}
	}
	s.pending = nil
}

// Close stops the ticker and publishes anything still buffered.
func (s *streamSink) Close() {
	if !s.eager {
		close(s.stop)
		<-s.done
	}
	s.flush()
}

type streamWriter struct {
	sink *streamSink
	name string
}

func (w streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.sink.write(w.name, p)
	return len(p), nil
}
