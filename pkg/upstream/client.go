// Package upstream provides the outbound chat-completion client used by the relay.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/pitchrelay/pkg/llm"
	"github.com/papercomputeco/pitchrelay/pkg/logger"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second
)

// retryableStatuses are the upstream statuses that trigger another attempt.
var retryableStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Config is the upstream client configuration.
type Config struct {
	// Chat-completion endpoint (e.g., "https://api.openai.com/v1/chat/completions")
	URL string

	// APIKey is sent verbatim as the Authorization header value.
	APIKey string

	// Timeout bounds every single attempt, including reading the body.
	Timeout time.Duration

	// MaxRetries is the number of attempts made after the first one.
	MaxRetries int

	// BackoffBase is the wait before the first retry; each following
	// retry waits twice as long as the previous one.
	BackoffBase time.Duration
}

// Client sends chat-completion requests with bounded retries. A single Client
// owns a pooled transport and is safe for concurrent use.
type Client struct {
	config     Config
	logger     *zap.Logger
	httpClient *retryablehttp.Client
}

// New creates a new Client. Zero timeout and backoff fall back to defaults.
func New(config Config, log *zap.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = config.Timeout
	rc.RetryMax = config.MaxRetries
	rc.RetryWaitMin = config.BackoffBase
	rc.RetryWaitMax = backoffCap(config.BackoffBase, config.MaxRetries)
	rc.Backoff = boundedBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = giveUp
	rc.Logger = logger.NewLeveled(log)

	return &Client{
		config:     config,
		logger:     log,
		httpClient: rc,
	}
}

// Complete posts req to the upstream endpoint and returns the response body
// untouched. Any failure is returned as *Error.
func (c *Client) Complete(ctx context.Context, req *llm.ChatRequest) (json.RawMessage, error) {
	if c.config.URL == "" {
		return nil, &Error{Err: fmt.Errorf("%w: missing API URL", ErrNotConfigured)}
	}
	if c.config.APIKey == "" {
		return nil, &Error{Err: fmt.Errorf("%w: missing API key", ErrNotConfigured)}
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, reqBody)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.config.APIKey)

	c.logger.Debug("forwarding request to upstream",
		zap.String("model", req.Model),
		zap.Int("body_size", len(reqBody)),
	)

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var upstreamErr *Error
		if errors.As(err, &upstreamErr) {
			return nil, upstreamErr
		}
		return nil, &Error{Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{StatusCode: httpResp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, statusError(httpResp.StatusCode, httpResp.Status, body)
	}

	if !json.Valid(body) {
		return nil, &Error{StatusCode: httpResp.StatusCode, Err: errors.New("upstream returned a non-JSON body")}
	}

	c.logger.Debug("received response from upstream",
		zap.Int("status", httpResp.StatusCode),
		zap.Int("body_size", len(body)),
		zap.Duration("duration", time.Since(startTime)),
	)

	return json.RawMessage(body), nil
}

// boundedBackoff waits min*2^attemptNum, or the upstream's Retry-After on
// 429/503, but never longer than max.
func boundedBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	wait := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	if wait > max || wait < 0 {
		return max
	}
	return wait
}

// backoffCap is the wait before the last retry, base*2^(retries-1),
// saturating instead of overflowing.
func backoffCap(base time.Duration, retries int) time.Duration {
	wait := base
	for i := 1; i < retries; i++ {
		if wait > math.MaxInt64/2 {
			return math.MaxInt64
		}
		wait *= 2
	}
	return wait
}

// checkRetry retries transport errors the way retryablehttp does by default,
// but limits status-based retries to retryableStatuses.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err != nil || ctx.Err() != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	_, ok := retryableStatuses[resp.StatusCode]
	return ok, nil
}

// giveUp runs once retries are exhausted.
func giveUp(resp *http.Response, err error, numTries int) (*http.Response, error) {
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &Error{Err: fmt.Errorf("giving up after %d attempt(s): %w", numTries, err)}
	}
	if resp == nil {
		return nil, &Error{Err: fmt.Errorf("giving up after %d attempt(s)", numTries)}
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	upstreamErr := statusError(resp.StatusCode, resp.Status, body)
	upstreamErr.Err = fmt.Errorf("giving up after %d attempt(s): %w", numTries, upstreamErr.Err)
	return nil, upstreamErr
}
