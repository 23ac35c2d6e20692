package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type hookRecorder struct {
	mu       sync.Mutex
	success  []RequestEvent
	failures []RequestEvent
}

func (r *hookRecorder) hooks() Hooks {
	return Hooks{
		OnSuccess: func(ev RequestEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.success = append(r.success, ev)
		},
		OnFailure: func(ev RequestEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failures = append(r.failures, ev)
		},
	}
}

func TestNewSession(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid", "http://example.com", false},
		{"with path", "http://example.com/api", false},
		{"empty", "", true},
		{"no scheme", "example.com", true},
		{"garbage", "://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.baseURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSession(%q) error = %v, wantErr %v", tt.baseURL, err, tt.wantErr)
			}
		})
	}

	if _, err := NewSession(""); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("NewSession(\"\") error = %v, want ErrNoBaseURL", err)
	}
}

func TestSession_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant") != "acme" {
			t.Errorf("X-Tenant header = %q, want acme", r.Header.Get("X-Tenant"))
		}
		switch r.URL.Path {
		case "/api/items":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"items":[{"id":1},{"id":2}]}`))
		case "/api/echo":
			body, _ := io.ReadAll(r.Body)
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	rec := &hookRecorder{}
	session, err := NewSession(server.URL+"/api", WithHeader("X-Tenant", "acme"), WithHooks(rec.hooks()))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	resp, err := session.Get(context.Background(), "/items")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !resp.OK() {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := resp.JSON("items.#").Int(); got != 2 {
		t.Errorf("items.# = %d, want 2", got)
	}

	resp, err = session.Post(context.Background(), "/echo", "text/plain", []byte("hello"))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if resp.String() != "hello" {
		t.Errorf("body = %q, want hello", resp.String())
	}

	resp, err = session.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/missing", Name: "missing"})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil for a 404", err)
	}
	if resp.OK() {
		t.Error("OK() = true for a 404")
	}

	if len(rec.success) != 2 {
		t.Errorf("success events = %d, want 2", len(rec.success))
	}
	if len(rec.failures) != 1 {
		t.Fatalf("failure events = %d, want 1", len(rec.failures))
	}
	failure := rec.failures[0]
	if failure.Name != "missing" {
		t.Errorf("failure Name = %q, want missing", failure.Name)
	}
	var statusErr *StatusError
	if !errors.As(failure.Err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("failure Err = %v, want *StatusError 404", failure.Err)
	}
	if rec.success[0].Name != "/items" || rec.success[0].Method != http.MethodGet {
		t.Errorf("success event = %s %s, want GET /items", rec.success[0].Method, rec.success[0].Name)
	}
}

func TestSession_Cookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		case "/me":
			c, err := r.Cookie("session")
			if err != nil || c.Value != "abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a, _ := NewSession(server.URL)
	b, _ := NewSession(server.URL)

	if _, err := a.Post(context.Background(), "/login", "", nil); err != nil {
		t.Fatalf("login error = %v", err)
	}

	resp, err := a.Get(context.Background(), "/me")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Errorf("logged-in session /me = %v, %v, want 200", resp, err)
	}
	resp, err = b.Get(context.Background(), "/me")
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("other session /me = %v, %v, want 401", resp, err)
	}
}

func TestSession_CancelledRequestIsNotReported(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	rec := &hookRecorder{}
	session, _ := NewSession(server.URL, WithHooks(rec.hooks()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := session.Get(ctx, "/slow"); err == nil {
		t.Fatal("Get() error = nil, want cancellation error")
	}
	if len(rec.success)+len(rec.failures) != 0 {
		t.Errorf("cancelled request was reported")
	}
}

func TestSession_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	rec := &hookRecorder{}
	session, _ := NewSession(url, WithHooks(rec.hooks()), WithTimeout(time.Second))

	if _, err := session.Get(context.Background(), "/"); err == nil {
		t.Fatal("Get() error = nil, want connection error")
	}
	if len(rec.failures) != 1 {
		t.Errorf("failure events = %d, want 1", len(rec.failures))
	}
}
