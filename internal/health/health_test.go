package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hugochiquito/clementine/pkg/provider/vad/mock"
)

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "session_log", Check: ok},
				{Name: "classifier", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"session_log": "ok", "classifier": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "session_log", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "classifier", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"session_log": "fail: connection refused", "classifier": "ok"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := serve(t, New(tc.checkers...), "/readyz")
			if code != tc.wantCode {
				t.Errorf("status code = %d, want %d", code, tc.wantCode)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for k, v := range tc.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("check %s = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	slow := func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}
	h := New(
		Checker{Name: "a", Check: slow},
		Checker{Name: "b", Check: slow},
		Checker{Name: "c", Check: slow},
	)
	start := time.Now()
	code, _ := serve(t, h, "/readyz")
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("readyz took %v, checks appear to run sequentially", d)
	}
}

func TestReadyz_Draining(t *testing.T) {
	called := false
	h := New(Checker{Name: "x", Check: func(context.Context) error { called = true; return nil }})
	h.SetDraining(true)

	code, body := serve(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || body.Status != "draining" {
		t.Errorf("readyz = %d %q, want 503 draining", code, body.Status)
	}
	if called {
		t.Error("checkers ran while draining")
	}

	h.SetDraining(false)
	if code, _ := serve(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("readyz after drain cleared = %d, want 200", code)
	}
}

func TestClassifierCheck(t *testing.T) {
	eng := &mock.Engine{}
	c := ClassifierCheck(eng, 16000)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(eng.NewClassifierCalls) != 1 {
		t.Fatalf("NewClassifier calls = %d, want 1", len(eng.NewClassifierCalls))
	}
	if got := eng.NewClassifierCalls[0].Cfg.FrameSize(); got != 320 {
		t.Errorf("frame size = %d, want 320", got)
	}

	eng.NewClassifierErr = errors.New("bad margins")
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check with failing engine = nil, want error")
	}
}
