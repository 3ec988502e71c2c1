package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTimeout      = 1000 * time.Millisecond
	DefaultInputParam   = "q"
	DefaultMaxBodyBytes = 1 << 20
)

type HTTPConfig struct {
	URL          string
	Method       Verb
	Headers      map[string]string
	UserAgent    string
	Timeout      time.Duration
	InputParam   string
	MaxBodyBytes int64
	Retry        RetryConfig
	Breaker      BreakerConfig
}

// HTTPHarness sends every fuzz input to a single HTTP endpoint. Input goes into the
// body for body-carrying verbs, into the InputParam query parameter otherwise.
type HTTPHarness struct {
	cfg    HTTPConfig
	target *url.URL
	client *ResilientClient
}

func NewHTTPHarness(cfg HTTPConfig) (*HTTPHarness, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("target url %q must be absolute", cfg.URL)
	}
	if cfg.Method == "" {
		cfg.Method = GET
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.InputParam == "" {
		cfg.InputParam = DefaultInputParam
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}

	resConf := NewResilienceConfig("http-target:"+target.Host, cfg.Retry, cfg.Breaker)
	return &HTTPHarness{
		cfg:    cfg,
		target: target,
		client: NewResilientClient(cfg.Timeout, resConf),
	}, nil
}

func (h *HTTPHarness) newRequest(ctx context.Context, input []byte) (*http.Request, error) {
	u := *h.target
	var body io.Reader
	if h.cfg.Method.HasBody() {
		body = bytes.NewReader(input)
	} else if len(input) > 0 {
		q := u.Query()
		q.Set(h.cfg.InputParam, string(input))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, string(h.cfg.Method), u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
	}
	return req, nil
}

// Probe never fails: any transport error, exhausted retry or open breaker yields nil.
func (h *HTTPHarness) Probe(ctx context.Context, input []byte) *Response {
	var sent *http.Request
	start := time.Now()
	res, err := h.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := h.newRequest(ctx, input)
		sent = req
		return req, err
	})
	if err != nil {
		return nil
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		return nil
	}

	out := &Response{
		Method:      h.cfg.Method,
		URL:         sent.URL.String(),
		Host:        sent.Host,
		UserAgent:   sent.Header.Get("User-Agent"),
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Header:      res.Header.Clone(),
		Body:        body,
		Duration:    time.Since(start),
	}
	if h.cfg.Method.HasBody() {
		out.RequestBody = append([]byte(nil), input...)
	}
	return out
}
