package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firetick/firetick/internal/domain"
)

// Truncation limits for persisted payloads.
const (
	maxResponseBodyBytes = 10 * 1024
	maxErrorBytes        = 1024
)

// renderTemplate substitutes the small templating vocabulary into a webhook
// body: {{timestamp}} (RFC3339 UTC), {{execution_id}} and {{job_name}}.
func renderTemplate(body string, executionID, jobName string, now time.Time) string {
	if body == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{{timestamp}}", now.UTC().Format(time.RFC3339),
		"{{execution_id}}", executionID,
		"{{job_name}}", jobName,
	)
	return r.Replace(body)
}

// buildURL appends URL-encoded query parameters, preserving any query string
// already present on the webhook URL.
func buildURL(base string, params map[string]string) string {
	if len(params) == 0 {
		return base
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + values.Encode()
}

// buildRequest assembles the outbound HTTP request for a webhook.
func buildRequest(ctx context.Context, wh *domain.Webhook, body string) (*http.Request, error) {
	method := wh.Method
	if method == "" {
		method = http.MethodPost
	}

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, buildURL(wh.URL, wh.QueryParams), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}
	if wh.ContentType != "" {
		req.Header.Set("Content-Type", wh.ContentType)
	}
	return req, nil
}

// truncate bounds a string to max bytes.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
