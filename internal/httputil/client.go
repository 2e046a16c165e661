package httputil

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/qltv/library_service/pkg/logger"
)

const maxExcerpt = 256

// Client posts JSON to a third-party API and retries transient failures.
type Client struct {
	rc *resty.Client
}

// ClientConfig configures the client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Headers    map[string]string
	HTTPClient *http.Client
}

// NewClient creates a client with sane defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 200 * time.Millisecond
	}

	rc := resty.New()
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc.SetTimeout(cfg.Timeout)
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.Backoff).
		SetRetryMaxWaitTime(cfg.Backoff * time.Duration(cfg.MaxRetries+1)).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.StatusCode()
			return code >= 500 || code == http.StatusTooManyRequests
		})
	return &Client{rc: rc}
}

// PostJSON sends body as JSON and returns the raw response payload. Non 2xx
// responses are returned as errors carrying the status and a body excerpt.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}) ([]byte, error) {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if traceID := logger.GetTraceID(ctx); traceID != "" {
		req.SetHeader("X-Trace-ID", traceID)
	}

	resp, err := req.Post(path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsSuccess() {
		return resp.Body(), nil
	}
	excerpt := resp.String()
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt]
	}
	return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode(), excerpt)
}
