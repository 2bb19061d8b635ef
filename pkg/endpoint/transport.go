// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// defaultRequestTimeout bounds a single send when no timeout is configured.
const defaultRequestTimeout = 10 * time.Second

// responseBodyLimit caps how much of an error response is kept for messages.
const responseBodyLimit = 256

// TransportError classifies a failed send. Transient errors are retried with
// backoff; anything else drops the payload.
type TransportError struct {
	StatusCode int
	Transient  bool
	Body       string
	cause      error
}

func (e *TransportError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("send failed: %v", e.cause)
	}
	if e.Body != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.cause
}

// IsTransient reports whether err warrants a retry. Errors that are not a
// TransportError (network failures, canceled contexts) are treated as
// transient; only an explicit non-transient TransportError drops a payload.
func IsTransient(err error) bool {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr.Transient
	}
	return true
}

// httpConfig collects the options shared by the HTTP handlers.
type httpConfig struct {
	timeout  time.Duration
	compress bool
	client   *http.Client
}

// HTTPOption adjusts an HTTP handler's transport.
type HTTPOption func(*httpConfig)

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) {
		c.timeout = d
	}
}

// WithCompression enables gzip compression of request bodies.
func WithCompression(enabled bool) HTTPOption {
	return func(c *httpConfig) {
		c.compress = enabled
	}
}

// WithHTTPClient substitutes the handler's HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *httpConfig) {
		c.client = client
	}
}

func newHTTPConfig(opts []HTTPOption) httpConfig {
	cfg := httpConfig{timeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.client == nil {
		cfg.client = &http.Client{
			Timeout: cfg.timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxConnsPerHost: 1,
			},
		}
	}
	return cfg
}

// httpSender is the transport shared by the JSON handlers: one client, one
// in-flight request at a time, optional gzip.
type httpSender struct {
	client   *http.Client
	compress bool
}

func newHTTPSender(cfg httpConfig) *httpSender {
	return &httpSender{client: cfg.client, compress: cfg.compress}
}

// post sends body as JSON and classifies the response. 2xx succeeds; 429 and
// 5xx and network errors are transient; any other status is final.
func (s *httpSender) post(ctx context.Context, url string, headers map[string]string, body []byte) error {
	if s.compress {
		compressed, err := compressPayload(body)
		if err != nil {
			return &TransportError{cause: errors.Wrap(err, "compressing payload")}
		}
		body = compressed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &TransportError{cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &TransportError{Transient: true, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	return &TransportError{
		StatusCode: resp.StatusCode,
		Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		Body:       string(bytes.TrimSpace(snippet)),
	}
}

// close shuts down idle connections.
func (s *httpSender) close() {
	s.client.CloseIdleConnections()
}

func compressPayload(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
