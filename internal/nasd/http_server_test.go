package nasd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))

	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid json %q: %v", rr.Body.String(), err)
		}
	}
	return rr, out
}

func TestHTTPServerHealthz(t *testing.T) {
	srv := NewHTTPServer(newTestExecutor(instantSearcher()))
	rr, body := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body["status"] != "ok" || body["timestamp"] == "" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHTTPServerSearchLifecycle(t *testing.T) {
	e := newTestExecutor(nil)
	h := NewHTTPServer(e).Handler()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/searches", map[string]any{
		"search_id":   "dyn",
		"config_yaml": dynasYAML,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["search"].(map[string]any)["id"] != "dyn" {
		t.Fatalf("unexpected create body %v", body)
	}

	done := waitTerminal(t, e, "dyn")
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", done.Status, done.Error)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/searches/dyn", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	search := body["search"].(map[string]any)
	if search["status"] != "completed" {
		t.Fatalf("expected completed, got %v", search["status"])
	}
	if summary := search["summary"].(map[string]any); summary["evaluated"] != float64(8) {
		t.Fatalf("expected 8 evaluated, got %v", summary["evaluated"])
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/searches/dyn/front", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("front: expected 200, got %d", rr.Code)
	}
	front := body["front"].([]any)
	if len(front) == 0 {
		t.Fatalf("expected a non-empty front")
	}
	// sorted best accuracy first
	prev := 1e18
	for _, m := range front {
		acc := m.(map[string]any)["metrics"].(map[string]any)["acc"].(float64)
		if acc > prev {
			t.Fatalf("front not sorted by accuracy: %v", front)
		}
		prev = acc
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/searches/dyn/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rr.Code)
	}
	if s := body["summary"].(map[string]any); s["measured"] != float64(8) {
		t.Fatalf("expected 8 measured, got %v", s["measured"])
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/searches/dyn/report", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "echarts") || !strings.Contains(rr.Body.String(), "Pareto front") {
		t.Fatalf("report does not look like a chart page")
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/searches?status=completed", nil)
	if rr.Code != http.StatusOK || len(body["searches"].([]any)) != 1 {
		t.Fatalf("list: unexpected %d %v", rr.Code, body)
	}
}

func TestHTTPServerCreateWithoutStartThenStart(t *testing.T) {
	e := newTestExecutor(instantSearcher())
	h := NewHTTPServer(e).Handler()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/searches", map[string]any{
		"search_id":   "later",
		"config_yaml": basicYAML,
		"start":       false,
	})
	if rr.Code != http.StatusCreated || body["search"].(map[string]any)["status"] != "pending" {
		t.Fatalf("expected a pending search, got %d %v", rr.Code, body)
	}

	rr, _ = doJSON(t, h, http.MethodGet, "/v1/searches/later/front", nil)
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 before the search ran, got %d", rr.Code)
	}

	rr, _ = doJSON(t, h, http.MethodPost, "/v1/searches/later:start", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", rr.Code)
	}
	waitTerminal(t, e, "later")

	rr, _ = doJSON(t, h, http.MethodPost, "/v1/searches/later:start", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 starting a terminal search, got %d", rr.Code)
	}
}

func TestHTTPServerStopSearch(t *testing.T) {
	started := make(chan string, 1)
	e := newTestExecutor(blockingSearcher(started))
	h := NewHTTPServer(e).Handler()

	if rr, _ := doJSON(t, h, http.MethodPost, "/v1/searches", map[string]any{"search_id": "s", "config_yaml": basicYAML}); rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rr.Code)
	}
	<-started

	rr, body := doJSON(t, h, http.MethodPost, "/v1/searches/s:stop", nil)
	if rr.Code != http.StatusOK || body["search"].(map[string]any)["status"] != "cancelled" {
		t.Fatalf("stop: unexpected %d %v", rr.Code, body)
	}
	waitTerminal(t, e, "s")
}

func TestHTTPServerErrors(t *testing.T) {
	h := NewHTTPServer(newTestExecutor(instantSearcher())).Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{"bad json", http.MethodPost, "/v1/searches", "not an object", http.StatusBadRequest},
		{"invalid config", http.MethodPost, "/v1/searches", map[string]any{"config_yaml": "nas: ["}, http.StatusBadRequest},
		{"metadata callback", http.MethodPost, "/v1/searches", map[string]any{"config_yaml": basicYAML, "callback_url": "http://169.254.169.254/"}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/searches?limit=-1", nil, http.StatusBadRequest},
		{"bad status", http.MethodGet, "/v1/searches?status=done", nil, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/v1/searches", nil, http.StatusMethodNotAllowed},
		{"missing id", http.MethodGet, "/v1/searches/", nil, http.StatusBadRequest},
		{"unknown search", http.MethodGet, "/v1/searches/nope", nil, http.StatusNotFound},
		{"stop unknown", http.MethodPost, "/v1/searches/nope:stop", nil, http.StatusNotFound},
		{"stop with GET", http.MethodGet, "/v1/searches/nope:stop", nil, http.StatusMethodNotAllowed},
		{"unknown sub-resource", http.MethodGet, "/v1/searches/nope/other", nil, http.StatusNotFound},
		{"report unknown", http.MethodGet, "/v1/searches/nope/report", nil, http.StatusNotFound},
		{"events unknown", http.MethodGet, "/v1/searches/nope/events", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doJSON(t, h, tt.method, tt.path, tt.body)
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rr.Code, rr.Body.String())
			}
			if body["error"] == nil {
				t.Fatalf("expected an error message, got %v", body)
			}
		})
	}
}

func TestHTTPServerEventStream(t *testing.T) {
	e := newTestExecutor(instantSearcher())
	srv := NewHTTPServer(e)
	srv.EventInterval = 10 * time.Millisecond
	h := srv.Handler()

	if _, err := e.Submit("ev", SearchInput{ConfigYAML: basicYAML}); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	waitTerminal(t, e, "ev")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/searches/ev/events", nil))
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected an event stream, got %q", ct)
	}
	out := rr.Body.String()
	for _, want := range []string{"event: status", "event: generation", "event: complete"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stream is missing %q:\n%s", want, out)
		}
	}
}
