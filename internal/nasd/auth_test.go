package nasd

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndVerifyToken(t *testing.T) {
	secret := []byte("s3cret")
	token, err := IssueToken(secret, "ci", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	claims, err := VerifyToken(secret, token)
	if err != nil {
		t.Fatalf("VerifyToken error: %v", err)
	}
	if claims.Subject != "ci" || claims.Issuer != "nasd" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := VerifyToken([]byte("other"), token); err == nil {
		t.Fatalf("expected a signature error")
	}

	expired, err := IssueToken(secret, "ci", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if _, err := VerifyToken(secret, expired); err == nil {
		t.Fatalf("expected an expiry error")
	}

	if _, err := IssueToken(nil, "ci", time.Minute); err == nil {
		t.Fatalf("expected an error for an empty secret")
	}
}

func TestRequireToken(t *testing.T) {
	secret := []byte("s3cret")
	h := RequireToken(secret, NewHTTPServer(newTestExecutor(instantSearcher())).Handler())
	token, err := IssueToken(secret, "ci", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		header string
		code   int
	}{
		{"healthz is open", "/healthz", "", http.StatusOK},
		{"missing token", "/v1/searches", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/searches", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "/v1/searches", "Bearer abc", http.StatusUnauthorized},
		{"valid token", "/v1/searches", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRequireTokenDisabledWithoutSecret(t *testing.T) {
	h := RequireToken(nil, NewHTTPServer(newTestExecutor(instantSearcher())).Handler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/searches", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 without auth, got %d", rr.Code)
	}
}
