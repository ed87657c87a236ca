package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/metrics"
	"github.com/ajitpratap0/daktela-extractor/pkg/observability"
	"github.com/ajitpratap0/daktela-extractor/pkg/pool"
)

const maxErrorBody = 200

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	BaseURL string `json:"base_url"`

	// MaxConcurrentRequests caps in-flight requests and sizes the token bucket burst.
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
	// RequestsPerSecond is the token refill rate. Zero means MaxConcurrentRequests.
	RequestsPerSecond float64 `json:"requests_per_second"`

	MaxRetries     int           `json:"max_retries"`
	RetryBackoff   time.Duration `json:"retry_backoff"`
	RequestTimeout time.Duration `json:"request_timeout"`

	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
	EnableHTTP2        bool   `json:"enable_http2"`
	UserAgent          string `json:"user_agent"`

	// TokenParam is the query parameter carrying the access token.
	TokenParam string `json:"token_param"`
}

// DefaultHTTPConfig returns the default configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxConcurrentRequests: 10,
		MaxRetries:            3,
		RetryBackoff:          2 * time.Second,
		RequestTimeout:        60 * time.Second,
		EnableHTTP2:           true,
		UserAgent:             "daktela-extractor/1.0",
		TokenParam:            "accessToken",
	}
}

// Request describes one logical API call.
type Request struct {
	Method string
	// Path is resolved against the configured base URL.
	Path  string
	Query url.Values
	// Table labels metrics and logs; it does not affect the request.
	Table string
	// Anonymous skips attaching the access token.
	Anonymous bool
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Attempts is the number of HTTP attempts made, including the successful one.
	Attempts int
}

// HTTPClient sends requests through a shared token bucket and in-flight
// limiter and retries transient failures with linear backoff. It is safe
// for concurrent use by every table of a run.
type HTTPClient struct {
	config      *HTTPConfig
	logger      *zap.Logger
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter RateLimiter
	inFlight    *InFlightLimiter
	retry       *RetryPolicy
	tokens      oauth2.TokenSource

	totalRequests  int64
	failedRequests int64
	retries        int64
}

// HTTPStats summarizes client activity.
type HTTPStats struct {
	TotalRequests  int64            `json:"total_requests"`
	FailedRequests int64            `json:"failed_requests"`
	Retries        int64            `json:"retries"`
	RateLimiter    RateLimiterStats `json:"rate_limiter"`
	InFlight       InFlightStats    `json:"in_flight"`
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) (*HTTPClient, error) {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, errors.Config("invalid base URL %q", config.BaseURL)
	}
	if config.TokenParam == "" {
		config.TokenParam = "accessToken"
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   config.MaxConcurrentRequests,
		MaxConnsPerHost:       config.MaxConcurrentRequests,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // operator opt-in via verify_ssl
			MinVersion:         tls.VersionTLS12,
		},
	}
	if config.InsecureSkipVerify {
		logger.Warn("TLS certificate verification is disabled")
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	return &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   config.RequestTimeout,
		},
		baseURL:     base,
		rateLimiter: NewTokenBucketRateLimiter(config.RequestsPerSecond, config.MaxConcurrentRequests),
		inFlight:    NewInFlightLimiter(config.MaxConcurrentRequests),
		retry:       NewRetryPolicy(config.MaxRetries, config.RetryBackoff),
	}, nil
}

// SetTokenSource sets the source of access tokens attached to requests.
func (c *HTTPClient) SetTokenSource(ts oauth2.TokenSource) {
	c.tokens = ts
}

// Do sends req, retrying transient failures. Errors are typed:
// authentication for 401/403, request for other 4xx, transient when
// retries were exhausted.
func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	attempts, err := c.retry.ExecuteWithCondition(ctx, func(attempt int) error {
		if attempt > 1 {
			atomic.AddInt64(&c.retries, 1)
			metrics.APIRetries.WithLabelValues(req.Table).Inc()
			c.logger.Debug("retrying request",
				zap.String("table", req.Table),
				zap.String("path", req.Path),
				zap.Int("attempt", attempt))
		}
		var aerr error
		resp, aerr = c.attempt(ctx, req)
		return aerr
	}, errors.IsRetryable)

	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		if errors.IsRetryable(err) {
			wrapped := errors.Wrap(err, errors.ErrorTypeTransient,
				fmt.Sprintf("%s %s failed after %d attempts", req.method(), req.Path, attempts)).
				WithDetail("attempts", attempts)
			if inner, ok := asError(err); ok {
				for k, v := range inner.Details {
					wrapped.WithDetail(k, v)
				}
			}
			return nil, wrapped
		}
		return nil, err
	}
	resp.Attempts = attempts
	return resp, nil
}

// attempt performs a single HTTP round trip.
func (c *HTTPClient) attempt(ctx context.Context, req *Request) (resp *Response, err error) {
	ctx, span := observability.StartSpan(ctx, "http.request",
		attribute.String("http.method", req.method()),
		attribute.String("http.path", req.Path),
		attribute.String("table", req.Table))
	defer func() { observability.EndSpan(span, err) }()

	// The token is resolved before taking a request slot: the first call
	// logs in through this same client.
	token, err := c.accessToken(req)
	if err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "waiting for rate limiter")
	}
	release, err := c.inFlight.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "waiting for request slot")
	}
	defer release()

	httpReq, err := c.newRequest(ctx, req, token)
	if err != nil {
		return nil, err
	}

	atomic.AddInt64(&c.totalRequests, 1)
	timer := metrics.NewTimer()
	httpResp, err := c.httpClient.Do(httpReq)
	metrics.APIRequestDuration.WithLabelValues(req.Table).Observe(timer.Seconds())
	if err != nil {
		metrics.APIRequests.WithLabelValues(req.Table, metrics.StatusClass(0)).Inc()
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeInternal, "request canceled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "network error")
	}
	defer httpResp.Body.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	_, err = buf.ReadFrom(httpResp.Body)
	metrics.APIRequests.WithLabelValues(req.Table, metrics.StatusClass(httpResp.StatusCode)).Inc()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "reading response body")
	}
	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))

	if cerr := classifyStatus(httpResp.StatusCode, buf.Bytes()); cerr != nil {
		return nil, cerr
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       bytes.Clone(buf.Bytes()),
	}, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, req *Request, token string) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "invalid request path")
	}
	u := c.baseURL.ResolveReference(ref)

	query := url.Values{}
	for k, v := range req.Query {
		query[k] = v
	}
	if token != "" {
		query.Set(c.config.TokenParam, token)
	}
	u.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "building request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	return httpReq, nil
}

func (c *HTTPClient) accessToken(req *Request) (string, error) {
	if req.Anonymous || c.tokens == nil {
		return "", nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeAuthentication) {
			return "", err
		}
		return "", errors.Authentication("failed to obtain access token", err)
	}
	return tok.AccessToken, nil
}

// Stats returns current client statistics
func (c *HTTPClient) Stats() HTTPStats {
	return HTTPStats{
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		FailedRequests: atomic.LoadInt64(&c.failedRequests),
		Retries:        atomic.LoadInt64(&c.retries),
		RateLimiter:    c.rateLimiter.Stats(),
		InFlight:       c.inFlight.Stats(),
	}
}

// classifyStatus maps a response status to the error taxonomy.
func classifyStatus(code int, body []byte) error {
	switch {
	case code < 400:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.Newf(errors.ErrorTypeAuthentication, "API rejected credentials (status %d)", code).
			WithDetail("status", code).
			WithDetail("body", truncate(body))
	case code == http.StatusTooManyRequests || code >= 500:
		return errors.Newf(errors.ErrorTypeTransient, "API returned status %d", code).
			WithDetail("status", code).
			WithDetail("body", truncate(body))
	default:
		return errors.Newf(errors.ErrorTypeRequest, "API returned status %d: %s", code, truncate(body)).
			WithDetail("status", code)
	}
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}

func asError(err error) (*errors.Error, bool) {
	var e *errors.Error
	ok := errors.As(err, &e)
	return e, ok
}
