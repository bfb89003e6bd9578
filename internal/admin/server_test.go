package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/kernelctl/internal/comm"
	"github.com/danmuck/kernelctl/internal/testutil/testlog"
)

type fakeSource struct {
	snap  Snapshot
	comms []comm.Info
}

func (f fakeSource) Snapshot() Snapshot { return f.snap }
func (f fakeSource) CommList() []comm.Info { return f.comms }

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusRoutes(t *testing.T) {
	testlog.Start(t)
	src := fakeSource{
		snap:  Snapshot{Name: "k", State: "idle", ExecutionCount: 3, Ready: true},
		comms: []comm.Info{{ID: "c1", Target: "echo"}},
	}
	s := New(Config{Name: "k"}, src)

	if rec := get(t, s, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	if rec := get(t, s, "/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready: %d", rec.Code)
	}

	rec := get(t, s, "/status")
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if snap.ExecutionCount != 3 || snap.State != "idle" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	rec = get(t, s, "/comms")
	var body struct {
		Comms []comm.Info `json:"comms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode comms: %v", err)
	}
	if len(body.Comms) != 1 || body.Comms[0].Target != "echo" {
		t.Fatalf("unexpected comms %+v", body.Comms)
	}

	if rec := get(t, s, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestReadyReportsUnavailable(t *testing.T) {
	testlog.Start(t)
	s := New(Config{Name: "k"}, fakeSource{snap: Snapshot{State: "shutting_down"}})
	if rec := get(t, s, "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestTokenGuardsStatusRoutes(t *testing.T) {
	testlog.Start(t)
	s := New(Config{Name: "k", Token: "sekret"}, fakeSource{snap: Snapshot{State: "idle", Ready: true}})

	if rec := get(t, s, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health should stay open: %d", rec.Code)
	}
	if rec := get(t, s, "/status"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}
