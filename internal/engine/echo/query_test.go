package echo

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/danmuck/kernelctl/internal/protocol/schema"
)

func TestIsComplete(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{"hello", schema.CodeComplete},
		{"hello \\", schema.CodeIncomplete},
		{"sleep:10ms", schema.CodeComplete},
		{"sleep:soon", schema.CodeInvalid},
	}
	for _, tc := range cases {
		got, err := New().IsComplete(context.Background(), schema.IsCompleteRequest{Code: tc.code})
		if err != nil {
			t.Fatalf("is_complete %q: %v", tc.code, err)
		}
		if got.Status != tc.want {
			t.Fatalf("is_complete %q: expected %s, got %s", tc.code, tc.want, got.Status)
		}
	}
}

func TestCompleteMatchesDirectivePrefix(t *testing.T) {
	got, err := New().Complete(context.Background(), schema.CompleteRequest{Code: "hello\n  s", CursorPos: 9})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !slices.Equal(got.Matches, []string{"sleep:", "stderr:"}) {
		t.Fatalf("unexpected matches %v", got.Matches)
	}
	if got.CursorStart != 8 || got.CursorEnd != 9 || got.Status != schema.StatusOK {
		t.Fatalf("unexpected reply %+v", got)
	}
}

func TestCompleteCountsCodePoints(t *testing.T) {
	got, err := New().Complete(context.Background(), schema.CompleteRequest{Code: "héllo di", CursorPos: 8})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !slices.Equal(got.Matches, []string{"display:"}) || got.CursorStart != 6 || got.CursorEnd != 8 {
		t.Fatalf("unexpected reply %+v", got)
	}

	got, err = New().Complete(context.Background(), schema.CompleteRequest{Code: "sleep:1", CursorPos: 99})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(got.Matches) != 0 || got.CursorEnd != 7 {
		t.Fatalf("expected no matches inside an argument, got %+v", got)
	}
}

func TestInspectDirective(t *testing.T) {
	got, err := New().Inspect(context.Background(), schema.InspectRequest{Code: "hello\nsleep:1s", CursorPos: 8})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	text, _ := got.Data["text/plain"].(string)
	if !got.Found || !strings.HasPrefix(text, "sleep:<duration>") {
		t.Fatalf("unexpected inspect reply %+v", got)
	}

	got, err = New().Inspect(context.Background(), schema.InspectRequest{Code: "hello", CursorPos: 2})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if got.Found || len(got.Data) != 0 || got.Status != schema.StatusOK {
		t.Fatalf("expected not found, got %+v", got)
	}
}
