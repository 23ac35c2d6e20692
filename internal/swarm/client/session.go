// Package client provides the HTTP session a virtual user drives its target
// with. A Session keeps cookies between requests and reports every completed
// request to success/failure hooks.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"
)

// ErrNoBaseURL is returned by NewSession when no base address is configured.
var ErrNoBaseURL = errors.New("client: base URL is required")

// RequestEvent describes one completed request.
type RequestEvent struct {
	Method          string
	Name            string
	URL             string
	StatusCode      int
	Start           time.Time
	Duration        time.Duration
	TimeToFirstByte time.Duration
	BytesReceived   int64
	Err             error
}

// Hooks are invoked after each request. Either may be nil.
type Hooks struct {
	OnSuccess func(RequestEvent)
	OnFailure func(RequestEvent)
}

// StatusError is the failure reported for responses with status >= 400.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Session is a cookie-keeping HTTP client bound to one base URL.
// It is owned by a single virtual user and is not meant to be shared.
type Session struct {
	httpClient *http.Client
	baseURL    *url.URL
	headers    map[string]string
	hooks      Hooks
}

// Option configures a Session.
type Option func(*Session)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.httpClient.Timeout = timeout
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(s *Session) {
		s.headers[key] = value
	}
}

// WithTransport shares a connection pool between sessions. Cookies stay
// per session.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Session) {
		s.httpClient.Transport = rt
	}
}

// WithHooks sets the request reporting hooks.
func WithHooks(h Hooks) Option {
	return func(s *Session) {
		s.hooks = h
	}
}

// NewSession creates a session for baseURL.
func NewSession(baseURL string, options ...Option) (*Session, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNoBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: base URL %q must include scheme and host", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("client: failed to create cookie jar: %w", err)
	}

	s := &Session{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		baseURL: u,
		headers: make(map[string]string),
	}

	for _, option := range options {
		option(s)
	}

	return s, nil
}

// BaseURL returns the session's base address.
func (s *Session) BaseURL() string {
	return s.baseURL.String()
}

// Get issues a GET request for path.
func (s *Session) Get(ctx context.Context, path string) (*Response, error) {
	return s.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST request for path.
func (s *Session) Post(ctx context.Context, path, contentType string, body []byte) (*Response, error) {
	req := &Request{Method: http.MethodPost, Path: path, Body: body}
	if contentType != "" {
		req.Headers = map[string]string{"Content-Type": contentType}
	}
	return s.Do(ctx, req)
}

// Do executes req and reports it to the session hooks.
//
// Responses with status >= 400 are returned without error but reported as
// failures. Requests aborted because ctx was cancelled are not reported:
// they belong to a user being stopped, not to the target system.
func (s *Session) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := req.build(ctx, s.baseURL)
	if err != nil {
		return nil, err
	}
	for key, value := range s.headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}

	event := RequestEvent{
		Method: httpReq.Method,
		Name:   req.statName(),
		URL:    httpReq.URL.String(),
		Start:  time.Now(),
	}

	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			event.TimeToFirstByte = time.Since(event.Start)
		},
	}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), trace))

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		event.Duration = time.Since(event.Start)
		event.Err = err
		if ctx.Err() == nil {
			s.report(event)
		}
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	event.Duration = time.Since(event.Start)
	event.StatusCode = httpResp.StatusCode
	event.BytesReceived = int64(len(body))
	if err != nil {
		event.Err = fmt.Errorf("failed to read response body: %w", err)
		if ctx.Err() == nil {
			s.report(event)
		}
		return nil, event.Err
	}

	if httpResp.StatusCode >= 400 {
		event.Err = &StatusError{StatusCode: httpResp.StatusCode}
	}
	s.report(event)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Duration:   event.Duration,
	}, nil
}

func (s *Session) report(ev RequestEvent) {
	if ev.Err != nil {
		if s.hooks.OnFailure != nil {
			s.hooks.OnFailure(ev)
		}
		return
	}
	if s.hooks.OnSuccess != nil {
		s.hooks.OnSuccess(ev)
	}
}

// CloseIdleConnections releases pooled connections.
func (s *Session) CloseIdleConnections() {
	s.httpClient.CloseIdleConnections()
}

// Request describes a request relative to the session base URL.
type Request struct {
	Method  string
	Path    string
	Name    string // statistics name; defaults to Path
	Headers map[string]string
	Body    []byte
}

func (r *Request) statName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Path
}

func (r *Request) build(ctx context.Context, base *url.URL) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	ref, err := url.Parse(r.Path)
	if err != nil {
		return nil, fmt.Errorf("client: invalid path %q: %w", r.Path, err)
	}
	target := base.ResolveReference(ref)
	if !ref.IsAbs() && strings.HasPrefix(r.Path, "/") && base.Path != "" && base.Path != "/" {
		// Keep a base path prefix such as http://host/api.
		target.Path = strings.TrimSuffix(base.Path, "/") + ref.Path
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for key, value := range r.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}
