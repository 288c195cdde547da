// Package billing talks to the external billing provider. Calls are best
// effort: account lifecycle operations proceed even when the provider is
// unreachable.
package billing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds one billing API call.
const DefaultTimeout = 10 * time.Second

// Client is a thin REST client for the billing provider. A nil BaseURL
// configuration yields a disabled client whose calls are no-ops.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the egress client. Used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Client) { b.client = c }
}

// New creates a billing client. An empty baseURL disables outbound calls.
func New(baseURL, apiKey string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the client will make outbound calls.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// CancelSubscription asks the provider to cancel the subscription identified
// by its billing id. Failures are logged and swallowed so that account
// deletion never blocks on the provider.
func (c *Client) CancelSubscription(ctx context.Context, billingID string) {
	if !c.Enabled() || billingID == "" {
		return
	}

	url := fmt.Sprintf("%s/v1/subscriptions/%s/cancel", c.baseURL, billingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		c.log.WarnContext(ctx, "failed to build billing cancel request",
			"billing_id", billingID, "error", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "billing cancel request failed",
			"billing_id", billingID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.WarnContext(ctx, "billing cancel rejected",
			"billing_id", billingID, "status", resp.StatusCode)
		return
	}
	c.log.InfoContext(ctx, "subscription cancelled with billing provider", "billing_id", billingID)
}
