package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/logger"
)

const (
	defaultTimeout = 15 * time.Second

	// Responses are small JSON documents; anything bigger is a server bug
	maxResponseSize = 10 << 20
)

// Response envelope used by the API: {success, data, message, errors}
type envelope struct {
	Success *bool               `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

type Client struct {
	BaseURL string

	client *http.Client
	logger logger.Logger
}

type Option func(c *Client)

// Use custom http client. Its transport is wrapped with request logging,
// hc itself is left unchanged
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		copied := *hc
		c.client = &copied
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.NewNoOpLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	base := c.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.client
	hc.Transport = &loggingTransport{next: base, logger: c.logger}
	c.client = &hc

	return c
}

// Do sends request and decodes response payload into out (if out is not nil)
// Non-2xx responses are returned as *Error
func (c *Client) Do(ctx context.Context, r Request, out any) error {
	req, err := c.newHTTPRequest(ctx, r)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request %s: %w", r, err)
	}
	defer resp.Body.Close() // nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response %s: %w", r, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.processError(r, resp.StatusCode, body)
	}

	return c.processSuccess(r, resp.StatusCode, body, out)
}

func (c *Client) newHTTPRequest(ctx context.Context, r Request) (*http.Request, error) {
	body, contentType, err := r.body()
	if err != nil {
		return nil, err
	}

	u := c.BaseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request %s: %w", r, err)
	}

	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	req.Header.Set("Accept", contentTypeJSON)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}

	return req, nil
}

func (c *Client) processSuccess(r Request, code int, body []byte, out any) error {
	payload := body

	var env envelope
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &env) == nil && env.Success != nil {
		if !*env.Success {
			return &Error{StatusCode: code, Message: env.Message, Fields: env.Errors}
		}
		payload = env.Data
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response %s: %w", r, err)
	}

	return nil
}

func (c *Client) processError(r Request, code int, body []byte) error {
	apiErr := &Error{StatusCode: code}

	var env envelope
	if json.Unmarshal(body, &env) == nil {
		apiErr.Message = env.Message
		apiErr.Fields = env.Errors
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(code)
	}

	c.logger.Debug("API returned error", "request", r.String(), "status_code", code, "message", apiErr.Message)
	return apiErr
}
