// Package invoker calls targets over HTTP with a rendered request and
// classifies their responses.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/liamcoop/rulecheck/internal/logger"
	"github.com/liamcoop/rulecheck/render"
	"github.com/liamcoop/rulecheck/rules"
)

const (
	// DefaultTimeout bounds a single target call when none is configured.
	DefaultTimeout = 30 * time.Second

	// errorBodyLimit caps how much of a failed response body is kept.
	errorBodyLimit = 512
)

var (
	// ErrUnsupportedTargetType is returned for targets whose type is not "http".
	ErrUnsupportedTargetType = errors.New("unsupported target type")

	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// InvocationError wraps any failure to obtain an output from a target.
type InvocationError struct {
	TargetID string
	Cause    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke target %s: %v", e.TargetID, e.Cause)
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTP invokes targets of type "http".
type HTTP struct {
	client  Doer
	timeout time.Duration

	rps      rate.Limit
	burst    int
	limiters map[string]*rate.Limiter // targetID -> limiter
	mu       sync.Mutex
}

// Option configures an HTTP invoker.
type Option func(*HTTP)

// WithClient replaces the transport, e.g. with a test double.
func WithClient(c Doer) Option {
	return func(h *HTTP) {
		h.client = c
	}
}

// WithTimeout bounds each target call. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) {
		h.timeout = d
	}
}

// WithRateLimit limits calls to each target to rps requests per second with
// the given burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *HTTP) {
		if rps <= 0 {
			h.rps = rate.Inf
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.rps = rate.Limit(rps)
		h.burst = burst
	}
}

// New creates an HTTP invoker.
func New(opts ...Option) *HTTP {
	h := &HTTP{
		client:   http.DefaultClient,
		timeout:  DefaultTimeout,
		rps:      rate.Inf,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invoke renders the target's request for prompt, sends it and returns the
// decoded JSON body for structured responses or the raw text otherwise.
// Every failure is an *InvocationError.
func (h *HTTP) Invoke(ctx context.Context, target *rules.Target, prompt string, vars map[string]string) (any, error) {
	start := time.Now()
	out, err := h.invoke(ctx, target, prompt, vars)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.InvocationFailure()
		err = &InvocationError{TargetID: target.ID, Cause: err}
	}
	invokeTotal.WithLabelValues(target.ID, outcome).Inc()
	invokeDuration.WithLabelValues(target.ID).Observe(time.Since(start).Seconds())

	return out, err
}

func (h *HTTP) invoke(ctx context.Context, target *rules.Target, prompt string, vars map[string]string) (any, error) {
	if target.Type != "" && target.Type != rules.TargetTypeHTTP {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTargetType, target.Type)
	}

	req, err := h.buildRequest(ctx, target, prompt, vars)
	if err != nil {
		return nil, err
	}

	if err := h.limiter(target.ID).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if h.timeout > 0 {
		reqCtx, cancel := context.WithTimeout(req.Context(), h.timeout)
		defer cancel()
		req = req.WithContext(reqCtx)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return classify(resp)
}

// buildRequest renders the body and header templates without HTML escaping;
// the body is JSON-encoded afterwards. The prompt is exposed to the body
// template as {{prompt}}, overriding any caller variable of that name.
func (h *HTTP) buildRequest(ctx context.Context, target *rules.Target, prompt string, vars map[string]string) (*http.Request, error) {
	bodyVars := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		bodyVars[k] = v
	}
	bodyVars["prompt"] = prompt

	bodyTemplate := target.BodyTemplate
	if bodyTemplate == nil {
		bodyTemplate = map[string]any{"prompt": "{{prompt}}"}
	}
	body, err := render.DeepRaw(bodyTemplate, bodyVars)
	if err != nil {
		return nil, fmt.Errorf("render body template: %w", err)
	}

	headerTemplate := target.Headers
	if headerTemplate == nil {
		headerTemplate = map[string]string{"Content-Type": "application/json"}
	}
	headers, err := render.Headers(headerTemplate, vars)
	if err != nil {
		return nil, fmt.Errorf("render headers: %w", err)
	}

	method := strings.ToUpper(target.Method)
	if method == "" {
		method = http.MethodPost
	}

	var reader io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.BaseURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (h *HTTP) limiter(targetID string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[targetID]
	if !ok {
		l = rate.NewLimiter(h.rps, h.burst)
		h.limiters[targetID] = l
	}
	return l
}

// classify turns a response into an output value.
func classify(resp *http.Response) (any, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if !isStructured(resp.Header.Get("Content-Type")) {
		return string(data), nil
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode JSON response: %w", err)
	}
	return out, nil
}

// isStructured reports whether a Content-Type header names JSON,
// including +json suffix types such as application/problem+json.
func isStructured(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
