package api

import (
	"context"
	goerrors "errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/notPlancha/CanvasSync/internal/errors"
	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"google.golang.org/api/googleapi"
)

// Client carries what every backend needs to talk to its service: an
// authenticated HTTP client, retry policy and a logger
type Client struct {
	service    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     logging.Logger
	userAgent  string
}

// NewClient creates a new API client for the named service
func NewClient(service string, httpClient *http.Client, maxRetries int, retryDelayMs int, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		service:    service,
		httpClient: httpClient,
		maxRetries: maxRetries,
		retryDelay: time.Duration(retryDelayMs) * time.Millisecond,
		logger:     logger,
		userAgent:  utils.DefaultRequestAgent,
	}
}

// SetUserAgent replaces the User-Agent sent on REST requests
func (c *Client) SetUserAgent(agent string) {
	if agent != "" {
		c.userAgent = agent
	}
}

// NewRequestContext creates a new request context with trace ID
func NewRequestContext(profile, backend string, requestType types.RequestType) *types.RequestContext {
	return &types.RequestContext{
		Profile:         profile,
		Backend:         backend,
		InvolvedNodeIDs: []string{},
		RequestType:     requestType,
		TraceID:         uuid.New().String(),
	}
}

// WithNodeIDs adds node IDs to the request context
func (c *Client) WithNodeIDs(ctx *types.RequestContext, nodeIDs ...string) *types.RequestContext {
	ctx.InvolvedNodeIDs = append(ctx.InvolvedNodeIDs, nodeIDs...)
	return ctx
}

// HTTPClient returns the authenticated HTTP client
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Logger returns the client's logger
func (c *Client) Logger() logging.Logger {
	return c.logger
}

// ExecuteWithRetry runs fn until it succeeds, fails with a non-retryable
// error, or the retry budget is spent. The returned error is classified.
func ExecuteWithRetry[T any](ctx context.Context, client *Client, reqCtx *types.RequestContext, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	logger := client.logger.WithTraceID(reqCtx.TraceID)
	logger.Debug("API operation starting",
		logging.F("requestType", reqCtx.RequestType),
		logging.F("service", client.service),
		logging.F("nodes", reqCtx.InvolvedNodeIDs),
	)

	start := time.Now()

	for attempt := 0; attempt <= client.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if attempt > 0 {
			logger.Debug("Retrying API operation",
				logging.F("attempt", attempt),
				logging.F("maxRetries", client.maxRetries),
			)
		}

		result, lastErr = fn()
		if lastErr == nil {
			logger.Debug("API operation completed",
				logging.F("duration_ms", time.Since(start).Milliseconds()),
				logging.F("attempts", attempt+1),
			)
			return result, nil
		}

		classified := errors.Classify(client.service, lastErr, reqCtx, client.logger)
		if ctx.Err() != nil {
			return result, classified
		}
		if !utils.IsRetryable(classified) {
			logger.Debug("API operation failed (non-retryable)",
				logging.F("duration_ms", time.Since(start).Milliseconds()),
				logging.F("error", lastErr.Error()),
				logging.F("attempts", attempt+1),
			)
			return result, classified
		}
		lastErr = classified

		if attempt < client.maxRetries {
			delay := calculateBackoff(client.retryDelay, attempt, lastErr)
			logger.Warn("API operation failed (retryable)",
				logging.F("attempt", attempt+1),
				logging.F("delay_ms", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}
	}

	logger.Error("API operation failed after max retries",
		logging.F("duration_ms", time.Since(start).Milliseconds()),
		logging.F("attempts", client.maxRetries+1),
		logging.F("error", lastErr.Error()),
	)
	return result, lastErr
}

// Execute runs fn once and classifies its error
func Execute[T any](ctx context.Context, client *Client, reqCtx *types.RequestContext, fn func() (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	result, err := fn()
	if err != nil {
		return result, errors.Classify(client.service, err, reqCtx, client.logger)
	}
	return result, nil
}

// retryAfter extracts a Retry-After hint in whole seconds
func retryAfter(err error) (time.Duration, bool) {
	var header http.Header
	var gErr *googleapi.Error
	var hErr *errors.HTTPError
	switch {
	case goerrors.As(err, &gErr):
		header = gErr.Header
	case goerrors.As(err, &hErr):
		header = hErr.Header
	}
	if header == nil {
		return 0, false
	}
	seconds, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// calculateBackoff calculates the retry delay with exponential backoff
func calculateBackoff(baseDelay time.Duration, attempt int, err error) time.Duration {
	return Backoff(baseDelay, time.Duration(utils.MaxRetryDelayMs)*time.Millisecond, attempt, err)
}

// Backoff returns the wait after the failed attempt with zero-based index
// attempt: baseDelay doubled per attempt up to maxDelay, with +/-25%
// jitter. A Retry-After hint carried by err takes precedence.
func Backoff(baseDelay, maxDelay time.Duration, attempt int, err error) time.Duration {
	if delay, ok := retryAfter(err); ok {
		if delay > maxDelay {
			return maxDelay
		}
		return delay
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	// Jitter of +/-25%
	jitterRange := delay / 4
	if jitterRange > 0 {
		jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
		delay += jitter
	}
	if delay < 0 {
		delay = baseDelay
	}
	return delay
}
