// Package upstream is the single egress point to the Sefaria APIs. Every outbound
// request passes through one Client, which bounds concurrency, retries transient
// failures with jittered exponential backoff, and fails fast while the circuit is open.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/internal/infra"
	"github.com/olgasafonova/sefaria-mcp-server/metrics"
	"github.com/olgasafonova/sefaria-mcp-server/tracing"
)

const (
	// DefaultTimeout bounds one attempt
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt
	DefaultMaxRetries = 3

	// MaxConcurrentRequests limits parallel API calls
	MaxConcurrentRequests = 8

	// DefaultMaxBody caps response bodies read into memory
	DefaultMaxBody = 16 << 20

	defaultUserAgent = "sefaria-mcp-server/1.0"
)

// Request describes one outbound call. Path must already be escaped; use Segment
// for user-supplied path components.
type Request struct {
	Endpoint string // metrics and tracing label, e.g. "texts"
	Method   string // defaults to GET
	BaseURL  string
	Path     string
	Query    url.Values
	Body     []byte // sent as application/json when set
	Accept   string // defaults to application/json
	MaxBytes int64  // body cap; larger responses are flagged Oversize
}

// URL returns the absolute request URL.
func (r Request) URL() string {
	u := strings.TrimRight(r.BaseURL, "/") + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

// Signature returns the cache key for the request.
func (r Request) Signature() string {
	return infra.Signature(r.method(), r.BaseURL, r.Path, r.Query, r.Body)
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Segment escapes a single path component such as a citation or title.
func Segment(s string) string {
	return url.PathEscape(s)
}

// Response is a successful upstream reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Size        int64 // bytes announced or read, even when Oversize
	Oversize    bool  // body exceeded Request.MaxBytes and was dropped
}

// Client provides the HTTP client with concurrency limits, circuit breaking and retries.
type Client struct {
	HTTPClient     *http.Client
	Logger         *slog.Logger
	CircuitBreaker *infra.CircuitBreaker
	Semaphore      chan struct{}
	UserAgent      string
	MaxRetries     int

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.HTTPClient = c
	}
}

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.Logger = l
	}
}

// WithTimeout sets the per-attempt timeout on the default HTTP client
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		if d > 0 {
			client.HTTPClient.Timeout = d
		}
	}
}

// WithMaxRetries sets the number of retries after the first attempt
func WithMaxRetries(n int) ClientOption {
	return func(client *Client) {
		if n >= 0 {
			client.MaxRetries = n
		}
	}
}

// WithConcurrency bounds simultaneous upstream requests
func WithConcurrency(n int) ClientOption {
	return func(client *Client) {
		if n > 0 {
			client.Semaphore = make(chan struct{}, n)
		}
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) ClientOption {
	return func(client *Client) {
		if ua != "" {
			client.UserAgent = ua
		}
	}
}

// WithCircuitBreaker replaces the default circuit breaker
func WithCircuitBreaker(cb *infra.CircuitBreaker) ClientOption {
	return func(client *Client) {
		client.CircuitBreaker = cb
	}
}

// WithBackoff sets the initial and maximum retry intervals
func WithBackoff(initial, max time.Duration) ClientOption {
	return func(client *Client) {
		client.initialBackoff = initial
		client.maxBackoff = max
	}
}

// NewClient creates a client with default settings
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		HTTPClient:     newHTTPClient(DefaultTimeout),
		Logger:         slog.Default(),
		CircuitBreaker: infra.NewCircuitBreaker(),
		Semaphore:      make(chan struct{}, MaxConcurrentRequests),
		UserAgent:      defaultUserAgent,
		MaxRetries:     DefaultMaxRetries,
		initialBackoff: 200 * time.Millisecond,
		maxBackoff:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CircuitBreakerStats returns the current circuit breaker state
func (c *Client) CircuitBreakerStats() infra.CircuitBreakerStats {
	return c.CircuitBreaker.Stats()
}

// AcquireSlot blocks until a request slot is available or context is canceled
func (c *Client) AcquireSlot(ctx context.Context) error {
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	default:
	}
	metrics.RateLimitWaits.Inc()
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting for request slot: %w", ctx.Err())
	}
}

// ReleaseSlot releases a request slot
func (c *Client) ReleaseSlot() {
	<-c.Semaphore
}

// attemptError records why one attempt failed, for classification after retries stop.
type attemptError struct {
	status     int
	timeout    bool
	retryAfter int // seconds, from a 429 response
	err        error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// Call performs req with retries on network errors, 5xx and 429. Other 4xx responses,
// and 2xx JSON bodies carrying a top-level "error", fail with UpstreamRejected.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "sefaria."+req.Endpoint)
	defer span.End()
	tracing.AddUpstreamAttributes(span, req.Endpoint, req.method(), req.Path)

	start := time.Now()
	resp, err := c.call(ctx, req)

	status := "error"
	kind := ""
	if err != nil {
		kind = string(apierrors.KindOf(err))
		if e := apierrors.As(err); e.Status != 0 {
			status = strconv.Itoa(e.Status)
		}
		tracing.RecordError(span, err)
	} else {
		status = strconv.Itoa(resp.Status)
	}
	metrics.RecordAPICall(req.Endpoint, time.Since(start).Seconds(), status, kind)
	return resp, err
}

func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	if !c.CircuitBreaker.Allow() {
		return nil, apierrors.Wrap(apierrors.UpstreamUnavailable, c.CircuitBreaker.OpenError(),
			"Sefaria API temporarily unavailable (circuit open)")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.RandomizationFactor = 0.5
	b.Multiplier = 2

	var last *attemptError
	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		attempt++
		resp, aerr := c.attempt(ctx, req)
		if aerr == nil {
			return resp, nil
		}
		last = aerr
		switch {
		case aerr.status == http.StatusTooManyRequests:
			if aerr.retryAfter > 0 {
				return nil, backoff.RetryAfter(aerr.retryAfter)
			}
			return nil, aerr
		case aerr.status >= 500, aerr.status == 0:
			return nil, aerr
		default:
			return nil, backoff.Permanent(aerr)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.RecordRetry(req.Endpoint)
			c.Logger.Warn("Sefaria request failed, retrying",
				"endpoint", req.Endpoint,
				"attempt", attempt,
				"wait", wait,
				"error", err)
		}),
	)
	if err == nil {
		c.CircuitBreaker.RecordSuccess()
		return resp, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apierrors.Wrap(apierrors.Timeout, ctxErr, "deadline exceeded waiting for Sefaria (%s)", req.Endpoint)
	}
	if last == nil {
		return nil, apierrors.Wrap(apierrors.UpstreamUnavailable, err, "Sefaria request failed (%s)", req.Endpoint)
	}
	if last.status >= 400 && last.status < 500 && last.status != http.StatusTooManyRequests {
		// the API answered; the service is healthy
		c.CircuitBreaker.RecordSuccess()
		var rejected *apierrors.Error
		if errors.As(last.err, &rejected) {
			return nil, rejected
		}
		return nil, &apierrors.Error{Kind: apierrors.UpstreamRejected, Status: last.status, Message: last.err.Error()}
	}

	c.CircuitBreaker.RecordFailure()
	if last.timeout {
		return nil, &apierrors.Error{Kind: apierrors.UpstreamTimeout, Err: last.err,
			Message: fmt.Sprintf("Sefaria did not answer in time after %d attempts (%s)", attempt, req.Endpoint)}
	}
	return nil, &apierrors.Error{Kind: apierrors.UpstreamUnavailable, Status: last.status, Err: last.err,
		Message: fmt.Sprintf("Sefaria unavailable after %d attempts (%s): %s", attempt, req.Endpoint, last.err)}
}

// attempt performs one HTTP exchange.
func (c *Client) attempt(ctx context.Context, req Request) (*Response, *attemptError) {
	if err := c.AcquireSlot(ctx); err != nil {
		return nil, &attemptError{err: err, timeout: true}
	}
	defer c.ReleaseSlot()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), req.URL(), body)
	if err != nil {
		return nil, &attemptError{status: http.StatusBadRequest,
			err: apierrors.New(apierrors.InvalidArgument, "cannot build request: %v", err)}
	}
	accept := req.Accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", c.UserAgent)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &attemptError{err: fmt.Errorf("request failed: %w", err), timeout: isTimeout(err)}
	}

	limit := req.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	data, oversize, err := readAndClose(httpResp, limit)
	if err != nil {
		return nil, &attemptError{err: fmt.Errorf("failed to read response: %w", err), timeout: isTimeout(err)}
	}

	resp := &Response{
		Status:      httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        data,
		Size:        int64(len(data)),
		Oversize:    oversize,
	}
	if oversize {
		resp.Body = nil
		resp.Size = httpResp.ContentLength
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &attemptError{status: httpResp.StatusCode, retryAfter: retryAfterSeconds(httpResp.Header.Get("Retry-After")),
			err: errors.New("rate limited (429)")}
	case httpResp.StatusCode >= 500:
		return nil, &attemptError{status: httpResp.StatusCode,
			err: fmt.Errorf("server error %d: %s", httpResp.StatusCode, truncate(string(data), 200))}
	case httpResp.StatusCode >= 400:
		return nil, &attemptError{status: httpResp.StatusCode,
			err: apierrors.NewUpstreamRejected(httpResp.StatusCode, upstreamMessage(data, httpResp.StatusCode))}
	}

	if msg := bodyError(resp); msg != "" {
		return nil, &attemptError{status: http.StatusUnprocessableEntity,
			err: apierrors.NewUpstreamRejected(httpResp.StatusCode, msg)}
	}
	return resp, nil
}

// bodyError extracts Sefaria's in-band error ({"error": "..."} with a 200 status).
func bodyError(resp *Response) string {
	if resp.Oversize || !isJSON(resp.ContentType, resp.Body) {
		return ""
	}
	if e := gjson.GetBytes(resp.Body, "error"); e.Exists() && e.Type == gjson.String && e.String() != "" {
		return e.String()
	}
	return ""
}

func upstreamMessage(body []byte, status int) string {
	if e := gjson.GetBytes(body, "error"); e.Exists() && e.String() != "" {
		return e.String()
	}
	if s := strings.TrimSpace(string(body)); s != "" && !strings.HasPrefix(s, "<") {
		return truncate(s, 200)
	}
	return http.StatusText(status)
}

func isJSON(contentType string, body []byte) bool {
	if strings.Contains(contentType, "json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && gjson.ValidBytes(trimmed)
}

// retryAfterSeconds parses a delay-seconds Retry-After header. HTTP-date values
// fall back to the exponential schedule.
func retryAfterSeconds(h string) int {
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs <= 0 {
		return 0
	}
	return secs
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readAndClose reads up to limit bytes and closes the body. oversize reports
// whether more data remained.
func readAndClose(resp *http.Response, limit int64) ([]byte, bool, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return nil, true, nil
	}
	return body, false, nil
}

// truncate shortens a string to maxLen, adding "..." if truncated
// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

// newHTTPClient creates an HTTP client with tuned transport settings
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
