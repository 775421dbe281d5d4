// Package apiclient is the authenticated request pipeline every backend call
// goes through.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/suPer8Hu/shoshchat-widget/internal/common"
)

// DefaultBaseURL is the API root used when none is configured.
const DefaultBaseURL = "http://localhost:8000/api/v1"

// Authenticator supplies and repairs the bearer credential. *auth.Lifecycle
// implements it.
type Authenticator interface {
	AccessToken(ctx context.Context) string
	Refresh(ctx context.Context) (string, error)
	Refreshing() bool
	Invalidate(ctx context.Context)
}

type Client struct {
	baseURL string
	http    *http.Client
	auth    Authenticator
	logger  *slog.Logger

	timeout    time.Duration
	hasTimeout bool
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout bounds each attempt. Zero means no timeout. The client passed to
// WithHTTPClient is copied, not modified.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
		cl.hasTimeout = true
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func New(baseURL string, authn Authenticator, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		auth:    authn,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hasTimeout {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c
}

// Do sends one request and decodes a 2xx JSON body into out (if non-nil).
//
// A 401 triggers one refresh; if it yields a token the request is reissued once
// and that outcome is final. Otherwise the original 401 is returned and the
// session is invalidated, unless a refresh is still outstanding elsewhere.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = b
	}
	reqID, err := common.NewULID()
	if err != nil {
		return err
	}

	data, err := c.send(ctx, method, path, payload, reqID, c.auth.AccessToken(ctx))
	if errors.Is(err, common.ErrUnauthorized) {
		token, rerr := c.auth.Refresh(ctx)
		if rerr == nil && token != "" {
			c.logger.Debug("retrying after refresh", "method", method, "path", path, "request_id", reqID)
			data, err = c.send(ctx, method, path, payload, reqID, token)
		} else {
			if rerr != nil {
				c.logger.Warn("refresh after 401 failed", "path", path, "request_id", reqID, "error", rerr)
			}
			if !c.auth.Refreshing() {
				c.auth.Invalidate(ctx)
			}
			return err
		}
	}
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

// send performs a single attempt and returns the raw 2xx body.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, reqID, token string) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", reqID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", common.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"elapsed", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, &common.APIError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %w", common.ErrNetwork, method, path, err)
	}
	return data, nil
}
