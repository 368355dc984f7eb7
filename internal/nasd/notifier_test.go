package nasd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nasopt/dynas/pkg/utils"
)

func TestValidateCallbackURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		errType error
	}{
		{"valid external URL", "https://example.com/callback", nil},
		{"localhost for development", "http://localhost:8000/callback", nil},
		{"search_id template", "http://localhost:8000/callback/{search_id}", nil},
		{"invalid scheme", "ftp://example.com/callback", ErrInvalidURL},
		{"missing hostname", "http:///callback", ErrInvalidURL},
		{"metadata endpoint IP", "http://169.254.169.254/metadata", ErrMetadataEndpoint},
		{"metadata endpoint hostname", "http://metadata.google.internal/metadata", ErrMetadataEndpoint},
		{"wildcard address", "http://0.0.0.0:8000/callback", ErrInternalHost},
		{"direct loopback IP", "http://127.0.0.1:8000/callback", ErrInternalHost},
		{"private range", "http://192.168.1.10/callback", ErrInternalHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCallbackURL(tt.url)
			if tt.errType == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.errType) {
				t.Fatalf("expected %v, got %v", tt.errType, err)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"8.8.8.8", false},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.0.1", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"fc00::1", true},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if ip == nil {
			t.Fatalf("failed to parse IP: %s", tt.ip)
		}
		if got := isPrivateIP(ip); got != tt.want {
			t.Fatalf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

// localhostURL rewrites an httptest server URL to the localhost hostname,
// which passes callback validation
func localhostURL(t *testing.T, server *httptest.Server, path string) string {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	return "http://localhost:" + u.Port() + path
}

func testNotifier() *Notifier {
	return NewNotifier().WithBackoff(utils.ConstantPolicy(time.Millisecond))
}

func TestNotifierNotifySuccess(t *testing.T) {
	var (
		mu       sync.Mutex
		payload  NotificationPayload
		secret   string
		path     string
		received int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		secret = r.Header.Get(CallbackSecretHeader)
		path = r.URL.Path
		received++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := &SearchRecord{
		ID:        "search-123",
		Status:    StatusCompleted,
		CreatedAt: time.Now(),
		EndedAt:   time.Now(),
		Outcome:   fakeOutcome("search-123"),
	}
	n := testNotifier()
	n.Notify(localhostURL(t, server, "/callback/{search_id}"), "my-secret", rec, 0)
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	if received != 1 {
		t.Fatalf("expected 1 request, got %d", received)
	}
	if payload.SearchID != "search-123" || payload.Status != "completed" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Summary["front_size"] != float64(2) {
		t.Fatalf("expected summary front_size 2, got %v", payload.Summary["front_size"])
	}
	if secret != "my-secret" {
		t.Fatalf("expected secret header, got %q", secret)
	}
	if path != "/callback/search-123" {
		t.Fatalf("expected template substitution, got %s", path)
	}
}

func TestNotifierRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := testNotifier().Send(context.Background(), server.URL, "", NotificationPayload{SearchID: "s"}, 3)
	if err != nil {
		t.Fatalf("expected success on the third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestNotifierGivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := testNotifier().Send(context.Background(), server.URL, "", NotificationPayload{SearchID: "s"}, 2)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestNotifierDoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		code  int
		calls int32
	}{
		{http.StatusBadRequest, 1},
		{http.StatusNotFound, 1},
		{http.StatusTooManyRequests, 3},
		{http.StatusBadGateway, 3},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.code)
			}))
			defer server.Close()

			if err := testNotifier().Send(context.Background(), server.URL, "", NotificationPayload{SearchID: "s"}, 3); err == nil {
				t.Fatalf("expected an error")
			}
			if calls.Load() != tt.calls {
				t.Fatalf("expected %d calls, got %d", tt.calls, calls.Load())
			}
		})
	}
}

func TestNotifierSkipsEmptyAndRejectedURLs(t *testing.T) {
	n := testNotifier()
	rec := &SearchRecord{ID: "s", Status: StatusCompleted}
	n.Notify("", "", rec, 0)
	n.Notify("http://127.0.0.1:8000/callback", "", rec, 0)
	n.Notify("http://localhost:1/callback", "", nil, 0)
	n.Wait()
}

func TestExecutorNotifiesOnCompletion(t *testing.T) {
	got := make(chan NotificationPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p NotificationPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- p
	}))
	defer server.Close()

	e := newTestExecutor(instantSearcher())
	_, err := e.Submit("cb", SearchInput{
		ConfigYAML:  basicYAML,
		CallbackURL: localhostURL(t, server, "/done"),
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	select {
	case p := <-got:
		if p.SearchID != "cb" || p.Status != string(StatusCompleted) {
			t.Fatalf("unexpected payload %+v", p)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("no notification received")
	}
}
