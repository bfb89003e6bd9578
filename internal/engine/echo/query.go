package echo

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/danmuck/kernelctl/internal/engine"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
)

var (
	_ engine.CompletenessChecker = (*Engine)(nil)
	_ engine.Completer           = (*Engine)(nil)
	_ engine.Inspector           = (*Engine)(nil)
)

type directive struct {
	name  string
	usage string
	doc   string
}

var directives = []directive{
	{"display", "display:<text>", "Publish text as text/plain display data."},
	{"error", "error:<message>", "Fail the execution with EchoError."},
	{"input", "input:<prompt>", "Read a line from the front end and echo it."},
	{"panic", "panic:<message>", "Panic inside the engine."},
	{"sleep", "sleep:<duration>", "Wait for a Go duration, honouring interrupts."},
	{"stderr", "stderr:<text>", "Write text to stderr."},
}

func lookup(name string) (directive, bool) {
	for _, d := range directives {
		if d.name == name {
			return d, true
		}
	}
	return directive{}, false
}

// IsComplete reports incomplete when the last line ends in a backslash and
// invalid when a sleep duration does not parse.
func (e *Engine) IsComplete(ctx context.Context, req schema.IsCompleteRequest) (schema.IsCompleteReply, error) {
	if err := ctx.Err(); err != nil {
		return schema.IsCompleteReply{}, err
	}
	if strings.HasSuffix(strings.TrimRight(req.Code, " \t"), `\`) {
		return schema.IsCompleteReply{Status: schema.CodeIncomplete, Indent: ""}, nil
	}
	for _, line := range strings.Split(req.Code, "\n") {
		name, arg, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) != "sleep" {
			continue
		}
		if _, err := time.ParseDuration(strings.TrimSpace(arg)); err != nil {
			return schema.IsCompleteReply{Status: schema.CodeInvalid}, nil
		}
	}
	return schema.IsCompleteReply{Status: schema.CodeComplete}, nil
}

// Complete matches directive names against the word before the cursor.
func (e *Engine) Complete(ctx context.Context, req schema.CompleteRequest) (schema.CompleteReply, error) {
	if err := ctx.Err(); err != nil {
		return schema.CompleteReply{}, err
	}
	runes := []rune(req.Code)
	cursor := clamp(req.CursorPos, len(runes))
	start := cursor
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	prefix := string(runes[start:cursor])

	matches := []string{}
	if !strings.Contains(prefix, ":") {
		for _, d := range directives {
			if strings.HasPrefix(d.name, prefix) {
				matches = append(matches, d.name+":")
			}
		}
	}
	return schema.CompleteReply{
		Status:      schema.StatusOK,
		Matches:     matches,
		CursorStart: start,
		CursorEnd:   cursor,
		Metadata:    map[string]any{},
	}, nil
}

// Inspect documents the directive on the line holding the cursor.
func (e *Engine) Inspect(ctx context.Context, req schema.InspectRequest) (schema.InspectReply, error) {
	if err := ctx.Err(); err != nil {
		return schema.InspectReply{}, err
	}
	reply := schema.InspectReply{
		Status:   schema.StatusOK,
		Data:     map[string]any{},
		Metadata: map[string]any{},
	}
	runes := []rune(req.Code)
	cursor := clamp(req.CursorPos, len(runes))
	start, end := cursor, cursor
	for start > 0 && runes[start-1] != '\n' {
		start--
	}
	for end < len(runes) && runes[end] != '\n' {
		end++
	}
	name, _, ok := strings.Cut(string(runes[start:end]), ":")
	if !ok {
		return reply, nil
	}
	d, known := lookup(strings.TrimSpace(name))
	if !known {
		return reply, nil
	}
	text := d.usage + "\n" + d.doc
	if req.DetailLevel > 0 {
		text += "\nDirectives run one per line; other lines are echoed to stdout."
	}
	reply.Found = true
	reply.Data["text/plain"] = text
	return reply, nil
}

func clamp(pos, n int) int {
	if pos < 0 {
		return 0
	}
	if pos > n {
		return n
	}
	return pos
}
