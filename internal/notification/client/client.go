// Package client talks to the notification HTTP API and its event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"go.uber.org/zap"
)

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notification api: status %d: %s", e.StatusCode, e.Message)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithReconnectDelay bounds the stream reconnect backoff.
func WithReconnectDelay(initial, max time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.reconnectInitial = initial
		}
		if max > 0 {
			c.reconnectMax = max
		}
	}
}

type Client struct {
	baseURL          *url.URL
	token            string
	http             *http.Client
	log              *zap.Logger
	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

func New(baseURL, token string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("notification api base url must be absolute")
	}

	c := &Client{
		baseURL:          parsed,
		token:            strings.TrimSpace(token),
		http:             &http.Client{},
		log:              zap.NewNop(),
		reconnectInitial: 500 * time.Millisecond,
		reconnectMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("notification.client")
	return c, nil
}

type listResponse struct {
	Data []domain.Notification `json:"data"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) FetchPage(ctx context.Context, limit int, before *time.Time) ([]domain.Notification, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if before != nil {
		query.Set("before", before.UTC().Format(time.RFC3339Nano))
	}

	var out listResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	var out countResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) MarkAllRead(ctx context.Context) (int64, error) {
	var out countResponse
	if err := c.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) MarkRead(ctx context.Context, ids []string) (int64, error) {
	var out countResponse
	body := map[string][]string{"ids": ids}
	if err := c.do(ctx, http.MethodPost, "/api/notifications/read", nil, body, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeStatusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
