// Package tenable implements the Tenable.io collaborators the rule engine
// depends on: a finding source backed by the vulnerability export API and
// an attribute store backed by the asset custom-attribute API.
package tenable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/joshsymonds/headshot/internal/rules"
	"github.com/joshsymonds/headshot/pkg/logger"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultRequestRate  = 10 // requests per second against the API

	maxResponseBody = 64 << 20
)

// ClientConfig configures the Tenable.io client.
type ClientConfig struct {
	// BaseURL is the platform URL, e.g. https://cloud.tenable.com.
	BaseURL string

	// AccessKey and SecretKey form the API key pair.
	AccessKey string
	SecretKey string

	// PageSize bounds the assets per export chunk.
	PageSize int

	// PollInterval is the delay between export status polls.
	PollInterval time.Duration

	Logger logger.Logger
}

// Client talks to the Tenable.io REST API. Transient failures (rate
// limits, 5xx) are retried by the underlying HTTP client; requests are
// paced by a client-side rate limiter.
type Client struct {
	http         *retryablehttp.Client
	limiter      *rate.Limiter
	log          logger.Logger
	baseURL      string
	accessKey    string
	secretKey    string
	pageSize     int
	pollInterval time.Duration
}

// NewClient creates a Tenable.io client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 5
	httpClient.RetryWaitMin = 1 * time.Second
	httpClient.RetryWaitMax = 30 * time.Second
	httpClient.Logger = nil

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	log := cfg.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &Client{
		http:         httpClient,
		limiter:      rate.NewLimiter(rate.Limit(defaultRequestRate), defaultRequestRate),
		log:          log,
		baseURL:      cfg.BaseURL,
		accessKey:    cfg.AccessKey,
		secretKey:    cfg.SecretKey,
		pageSize:     cfg.PageSize,
		pollInterval: pollInterval,
	}
}

var (
	_ rules.FindingSource  = (*Client)(nil)
	_ rules.AttributeStore = (*Client)(nil)
)

// do issues one API request with key-pair auth and decodes the JSON
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-ApiKeys", fmt.Sprintf("accessKey=%s; secretKey=%s", c.accessKey, c.secretKey))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// APIError is a non-2xx response from the platform.
type APIError struct {
	Method     string
	Path       string
	Body       string
	StatusCode int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
