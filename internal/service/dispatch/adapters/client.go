// Package adapters contains the carrier integrations behind the dispatch
// layer. Each adapter is a wire-format translator: it speaks one carrier's
// HTTP API and normalizes every failure to *provider.Error at the boundary.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
)

const (
	userAgent = "npg-gateway/1.0"

	// defaultRPS applies when a carrier config declares no rate limits.
	defaultRPS = 10

	maxErrorBodyBytes = 4096
)

// carrierClient is the HTTP plumbing shared by all adapters: connection
// pooling, client-side rate limiting, request building, and error
// normalization. Carrier adapters embed it and add their wire formats.
type carrierClient struct {
	desc    *provider.Descriptor
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	auth    func(*http.Request)
}

func newCarrierClient(desc *provider.Descriptor, logger *zap.Logger, auth func(*http.Request)) *carrierClient {
	return &carrierClient{
		desc: desc,
		client: &http.Client{
			Timeout: desc.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: newLimiter(desc.RateLimits),
		logger:  logger.With(zap.String("provider_id", desc.ID)),
		auth:    auth,
	}
}

// newLimiter derives a per-second limiter from whichever budget the carrier
// declared, tightest granularity first. Burst is twice the sustained rate.
func newLimiter(limits provider.RateLimits) *rate.Limiter {
	rps := float64(limits.PerSecond)
	if rps <= 0 && limits.PerMinute > 0 {
		rps = float64(limits.PerMinute) / 60
	}
	if rps <= 0 && limits.PerHour > 0 {
		rps = float64(limits.PerHour) / 3600
	}
	if rps <= 0 {
		rps = defaultRPS
	}

	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (c *carrierClient) Descriptor() *provider.Descriptor {
	return c.desc
}

func (c *carrierClient) SupportsFeature(feature provider.Feature, region string) bool {
	return c.desc.SupportsFeature(feature, region)
}

func (c *carrierClient) SupportsRegion(region string) bool {
	return c.desc.SupportsRegion(region)
}

func (c *carrierClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *carrierClient) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *carrierClient) del(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// doIdempotent retries transient failures within the descriptor's attempt
// budget. Only calls that are safe to repeat go through here: searches,
// availability lookups, health probes. Reservations, purchases, ports, and
// releases are always single-shot.
func (c *carrierClient) doIdempotent(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	attempts := c.desc.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := pause(ctx, c.desc.RetryDelay); err != nil {
				return err
			}
			c.logger.Debug("retrying carrier request",
				zap.String("path", path),
				zap.Int("attempt", attempt))
		}

		lastErr = c.do(ctx, method, path, query, body, out)
		if lastErr == nil {
			return nil
		}
		if !transientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *carrierClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return provider.NewTransportError(c.desc.ID, provider.ErrCodeRateLimited, "rate limit wait failed: "+err.Error())
	}

	endpoint := strings.TrimRight(c.desc.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return provider.NewBusinessError(c.desc.ID, provider.ErrCodeInvalidRequest, "failed to encode request: "+err.Error())
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return provider.NewBusinessError(c.desc.ID, provider.ErrCodeInvalidRequest, "failed to build request: "+err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		c.auth(req)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		// Cancellation flows through untouched so the dispatcher can tell
		// an abandoned request apart from a carrier failure.
		if errors.Is(err, context.Canceled) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return provider.NewTransportError(c.desc.ID, provider.ErrCodeTimeout, "request deadline exceeded")
		}
		return provider.NewTransportError(c.desc.ID, provider.ErrCodeConnectionFailed, err.Error())
	}
	defer resp.Body.Close()

	c.logger.Debug("carrier request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromStatus(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.NewTransportError(c.desc.ID, provider.ErrCodeServerError, "failed to decode response: "+err.Error())
	}
	return nil
}

// errorFromStatus maps carrier HTTP status codes onto the gateway's error
// taxonomy: 429 and 5xx are transport failures eligible for failover, the
// remaining 4xx are carrier rejections surfaced as-is.
func (c *carrierClient) errorFromStatus(resp *http.Response) *provider.Error {
	message := extractErrorMessage(resp.Body)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return provider.NewBusinessError(c.desc.ID, provider.ErrCodeUnauthorized, message)
	case resp.StatusCode == http.StatusNotFound:
		return provider.NewBusinessError(c.desc.ID, provider.ErrCodeNotFound, message)
	case resp.StatusCode == http.StatusTooManyRequests:
		return provider.NewTransportError(c.desc.ID, provider.ErrCodeRateLimited, message)
	case resp.StatusCode >= 500:
		return provider.NewTransportError(c.desc.ID, provider.ErrCodeServerError,
			fmt.Sprintf("carrier returned HTTP %d: %s", resp.StatusCode, message))
	default:
		return provider.NewBusinessError(c.desc.ID, provider.ErrCodeInvalidRequest,
			fmt.Sprintf("carrier returned HTTP %d: %s", resp.StatusCode, message))
	}
}

// extractErrorMessage pulls a human-readable message out of whatever error
// body the carrier sent. Best effort; carriers disagree on field names.
func extractErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload struct {
		Message      string `json:"message"`
		Error        string `json:"error"`
		ErrorMessage string `json:"error_message"`
		Description  string `json:"description"`
		Detail       string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}

	for _, candidate := range []string{payload.Message, payload.Error, payload.ErrorMessage, payload.Description, payload.Detail} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}

func transientError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return false
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseMoney converts a carrier price string, falling back to zero when the
// carrier sent nothing or garbage. Pricing is advisory in search results.
func parseMoney(amount, currency string) values.Money {
	if strings.TrimSpace(amount) == "" {
		return values.Zero(currency)
	}
	m, err := values.NewMoneyFromString(strings.TrimSpace(amount), currency)
	if err != nil {
		return values.Zero(currency)
	}
	return m
}

// parseTimestamp accepts the formats carriers actually send: RFC 3339 or a
// bare date. Returns nil when absent or unparseable.
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// searchID keeps the carrier's correlation id when one exists and mints one
// otherwise, so every search response is traceable.
func searchID(carrierID string) string {
	if carrierID != "" {
		return carrierID
	}
	return uuid.NewString()
}
