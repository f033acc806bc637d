// Package fetch wraps single upstream HTTP calls with bounded retries,
// exponential backoff and per-attempt proxy selection.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/glebovdev/openspot/internal/proxy"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const DefaultMaxRetries = 3

var (
	// ErrRequestFailed is wrapped by every error that ends a Fetch.
	ErrRequestFailed = errors.New("request failed")
	// ErrTimeout is reported when a single attempt gets no response in time.
	ErrTimeout = errors.New("attempt timed out")
)

// Policy controls retries and timeouts for one call site.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration // per attempt, zero disables
}

var (
	// SearchPolicy is used for metadata and search calls.
	SearchPolicy = Policy{MaxRetries: DefaultMaxRetries, BaseDelay: time.Second, Timeout: 15 * time.Second}
	// StreamPolicy is used for latency-sensitive streaming calls.
	StreamPolicy = Policy{MaxRetries: DefaultMaxRetries, BaseDelay: 500 * time.Millisecond, Timeout: 10 * time.Second}
	// ValidatePolicy is used for quick HEAD checks of stream URLs.
	ValidatePolicy = Policy{MaxRetries: 1, Timeout: 5 * time.Second}
)

// Request describes one outbound call. When Stream is set the response body is
// left unread and must be closed by the caller via resp.RawBody().
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Stream bool
}

// StatusError is returned for non-success HTTP statuses.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Attempts   int
	Retryable  bool
}

func (e *StatusError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("api request failed with status %d after %d attempts", e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("api request failed with status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrRequestFailed
}

// IsRetryableStatus reports whether a status is worth another attempt.
func IsRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// Backoff returns the delay before the next attempt: 2^(attempt-1) * base.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// TransportSource supplies transport options for each attempt.
type TransportSource interface {
	BuildTransportOptions(base proxy.TransportOptions) proxy.TransportOptions
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Fetcher performs upstream calls.
type Fetcher struct {
	transports TransportSource
	direct     *resty.Client
	sleep      Sleeper

	mu      sync.Mutex
	clients map[http.RoundTripper]*resty.Client
}

// New creates a Fetcher. transports may be nil, in which case every request goes direct.
func New(transports TransportSource) *Fetcher {
	return &Fetcher{
		transports: transports,
		direct:     newClient(nil),
		sleep:      sleepContext,
		clients:    make(map[http.RoundTripper]*resty.Client),
	}
}

// clientFor returns the resty client bound to transport, creating it once.
func (f *Fetcher) clientFor(transport http.RoundTripper) *resty.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	client, ok := f.clients[transport]
	if !ok {
		client = newClient(transport)
		f.clients[transport] = client
	}
	return client
}

// WithSleeper replaces the backoff sleeper.
func (f *Fetcher) WithSleeper(s Sleeper) *Fetcher {
	f.sleep = s
	return f
}

func newClient(transport http.RoundTripper) *resty.Client {
	var client *resty.Client
	if transport != nil {
		client = resty.NewWithClient(&http.Client{Transport: transport})
	} else {
		client = resty.New()
	}
	return client.SetLogger(restyLogger{})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetch runs req under policy. 2xx/3xx responses are returned immediately,
// 5xx and 429 are retried with backoff, other 4xx fail at once, and transport
// errors are retried until the last attempt.
func (f *Fetcher) Fetch(ctx context.Context, req Request, policy Policy) (*resty.Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	maxRetries := policy.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; ; attempt++ {
		resp, err := f.attempt(ctx, req, policy.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= maxRetries {
				return nil, fmt.Errorf("%w: %s %s after %d attempts: %w", ErrRequestFailed, req.Method, req.URL, attempt, err)
			}
			delay := Backoff(attempt, policy.BaseDelay)
			log.Debug().Err(err).Str("url", req.URL).
				Msgf("Retrying request in %v (attempt %d/%d)", delay, attempt, maxRetries)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		code := resp.StatusCode()
		if code < http.StatusBadRequest {
			return resp, nil
		}
		discardBody(resp, req.Stream)

		statusErr := &StatusError{
			StatusCode: code,
			Status:     resp.Status(),
			URL:        req.URL,
			Attempts:   attempt,
			Retryable:  IsRetryableStatus(code),
		}
		if !statusErr.Retryable || attempt >= maxRetries {
			return nil, statusErr
		}

		delay := Backoff(attempt, policy.BaseDelay)
		log.Debug().Int("status", code).Str("url", req.URL).
			Msgf("Retrying request in %v (attempt %d/%d)", delay, attempt, maxRetries)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, req Request, timeout time.Duration) (*resty.Response, error) {
	client := f.direct
	if f.transports != nil {
		opts := f.transports.BuildTransportOptions(proxy.TransportOptions{})
		if opts.Dispatcher != nil {
			client = f.clientFor(opts.Dispatcher)
		}
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, cancel)
	}

	resp, err := client.R().
		SetContext(attemptCtx).
		SetHeaders(req.Header).
		SetDoNotParseResponse(req.Stream).
		Execute(req.Method, req.URL)

	timedOut := timer != nil && !timer.Stop()
	if timedOut {
		cancel()
		if err == nil {
			discardBody(resp, req.Stream)
		}
		return nil, fmt.Errorf("%w: no response within %v", ErrTimeout, timeout)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	if !req.Stream {
		cancel()
		return resp, nil
	}

	// The attempt context lives as long as the body is being read.
	resp.RawResponse.Body = &cancelOnClose{ReadCloser: resp.RawResponse.Body, cancel: cancel}
	return resp, nil
}

func discardBody(resp *resty.Response, stream bool) {
	if !stream || resp == nil || resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.RawResponse.Body, 64<<10))
	resp.RawResponse.Body.Close()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) { log.Error().Msgf(format, v...) }
func (restyLogger) Warnf(format string, v ...interface{})  { log.Warn().Msgf(format, v...) }
func (restyLogger) Debugf(format string, v ...interface{}) { log.Debug().Msgf(format, v...) }
