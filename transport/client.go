// Package transport is the retrying, reachability-aware HTTP client shared
// by all provider adapters.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/coacherr"
)

const (
	// DefaultSendTimeout bounds buffered calls end to end.
	DefaultSendTimeout = 30 * time.Second
	// DefaultStreamIdleTimeout is a no-data watchdog, not a total cap:
	// long responses may stream slowly but steadily.
	DefaultStreamIdleTimeout = 60 * time.Second
	// DefaultMaxRetries applies to buffered calls only. Streaming calls are
	// never retried here; that decision belongs to the caller.
	DefaultMaxRetries = 3

	streamReadSize = 4 * 1024
)

// Request is the provider-agnostic wire request built by an adapter.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully buffered reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client wraps two HTTP clients: a retrying one for buffered calls and a
// plain one for streams. Safe for concurrent use across conversations.
type Client struct {
	buffered  *retryablehttp.Client
	streaming *http.Client
	logger    zerolog.Logger

	streamIdleTimeout time.Duration
	reachable         atomic.Bool
}

// Option customizes a Client.
type Option func(*Client)

func WithSendTimeout(d time.Duration) Option {
	return func(c *Client) { c.buffered.HTTPClient.Timeout = d }
}

func WithStreamIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.streamIdleTimeout = d }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.buffered.RetryMax = n }
}

func NewClient(logger zerolog.Logger, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = DefaultMaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 8 * time.Second
	// Exponential backoff with jitter on transient failures (network,
	// timeout, 5xx). 4xx responses are not retried.
	rc.Backoff = retryablehttp.LinearJitterBackoff
	rc.HTTPClient.Timeout = DefaultSendTimeout
	rc.Logger = nil

	c := &Client{
		buffered:          rc,
		streaming:         &http.Client{},
		logger:            logger.With().Str("component", "transport").Logger(),
		streamIdleTimeout: DefaultStreamIdleTimeout,
	}
	c.reachable.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reachable reports the last observed network state.
func (c *Client) Reachable() bool { return c.reachable.Load() }

// Send performs a buffered request with automatic retries. Bodies are never
// logged; they can contain credentials.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	hreq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	copyHeader(hreq.Header, req.Header)

	resp, err := c.buffered.Do(hreq)
	if err != nil {
		mapped := c.mapTransportError(ctx, err)
		c.logRequest(req, 0, start, mapped)
		return nil, mapped
	}
	defer resp.Body.Close()
	c.reachable.Store(true)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		mapped := c.mapTransportError(ctx, err)
		c.logRequest(req, resp.StatusCode, start, mapped)
		return nil, mapped
	}

	c.logRequest(req, resp.StatusCode, start, nil)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, MapStatus(resp.StatusCode, resp.Header, body)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Stream performs a streaming request and returns the raw byte chunks as
// they arrive. No automatic retries; a 60s no-data watchdog aborts stalled
// streams. Cancel ctx to stop the stream promptly.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		start := time.Now()

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		hreq, err := http.NewRequestWithContext(streamCtx, req.Method, req.URL, bytes.NewReader(req.Body))
		if err != nil {
			errs <- fmt.Errorf("failed to build request: %w", err)
			return
		}
		copyHeader(hreq.Header, req.Header)

		resp, err := c.streaming.Do(hreq)
		if err != nil {
			errs <- c.mapTransportError(ctx, err)
			return
		}
		defer resp.Body.Close()
		c.reachable.Store(true)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			c.logRequest(req, resp.StatusCode, start, nil)
			errs <- MapStatus(resp.StatusCode, resp.Header, body)
			return
		}

		// Watchdog: cancel the request if no chunk lands within the idle
		// window. Reset on every read.
		watchdog := time.AfterFunc(c.streamIdleTimeout, cancel)
		defer watchdog.Stop()
		idleFired := false

		buf := make([]byte, streamReadSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				if !watchdog.Reset(c.streamIdleTimeout) {
					idleFired = true
				}
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					c.logRequest(req, resp.StatusCode, start, ctx.Err())
					errs <- coacherr.Wrap(coacherr.KindCancelled, "stream cancelled", ctx.Err())
					return
				}
			}
			if err != nil {
				if err == io.EOF {
					c.logRequest(req, resp.StatusCode, start, nil)
					return
				}
				if ctx.Err() == nil && (idleFired || streamCtx.Err() != nil) {
					c.logRequest(req, resp.StatusCode, start, err)
					errs <- coacherr.Wrap(coacherr.KindTimeout,
						fmt.Sprintf("no data received for %s", c.streamIdleTimeout), err)
					return
				}
				mapped := c.mapTransportError(ctx, err)
				c.logRequest(req, resp.StatusCode, start, mapped)
				errs <- mapped
				return
			}
		}
	}()

	return chunks, errs
}

// MapStatus translates an HTTP status into the typed taxonomy.
func MapStatus(code int, header http.Header, body []byte) *coacherr.Error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return coacherr.New(coacherr.KindUnauthorized, "provider rejected the API key").
			WithCode(strconv.Itoa(code))
	case code == http.StatusTooManyRequests:
		e := coacherr.New(coacherr.KindRateLimited, "provider rate limit reached").
			WithCode(strconv.Itoa(code))
		if ra := parseRetryAfter(header.Get("Retry-After")); ra > 0 {
			e = e.WithRetryAfter(ra)
		}
		return e
	case code >= 500:
		return coacherr.New(coacherr.KindProviderError,
			fmt.Sprintf("provider server error (%d)", code)).WithCode(strconv.Itoa(code))
	default:
		msg := http.StatusText(code)
		if len(body) > 0 {
			msg = truncate(string(body), 300)
		}
		return coacherr.New(coacherr.KindProviderError, msg).WithCode(strconv.Itoa(code))
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) mapTransportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return coacherr.Wrap(coacherr.KindCancelled, "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return coacherr.Wrap(coacherr.KindTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return coacherr.Wrap(coacherr.KindTimeout, "request timed out", err)
		}
		c.reachable.Store(false)
		return coacherr.Wrap(coacherr.KindNetworkUnavailable, "network unreachable", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		c.reachable.Store(false)
		return coacherr.Wrap(coacherr.KindNetworkUnavailable, "network unreachable", err)
	}
	return coacherr.Wrap(coacherr.KindNetworkUnavailable, "request failed", err)
}

func (c *Client) logRequest(req Request, status int, start time.Time, err error) {
	evt := c.logger.Info()
	if err != nil {
		evt = c.logger.Warn().Err(err)
	}
	evt.Str("method", req.Method).
		Str("url", req.URL).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("request")
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
