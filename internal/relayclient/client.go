// Package relayclient is a Go client for the relay's REST and websocket API.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-relay/pkg/relaydto"
	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx response from the relay.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("relay api error: status=%d code=%s detail=%s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("relay api error: status=%d detail=%s", e.Status, e.Detail)
}

// IsNotFound reports whether err is an APIError for an unknown room.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == fasthttp.StatusNotFound
}

// IsFull reports whether err is an APIError for a room that already has two players.
func IsFull(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == relaydto.CodeFull
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

// WithRetry sets the attempt count for idempotent requests.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Health(ctx context.Context) (*relaydto.StatusResponse, error) {
	var out relaydto.StatusResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/health", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRoom opens a room. An empty playerID lets the server generate one.
func (c *Client) CreateRoom(ctx context.Context, playerID string) (*relaydto.CreateRoomResponse, error) {
	var out relaydto.CreateRoomResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/room/create"+playerQuery(playerID), nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinRoom(ctx context.Context, code, playerID string) (*relaydto.JoinRoomResponse, error) {
	var out relaydto.JoinRoomResponse
	path := "/room/join/" + url.PathEscape(code) + playerQuery(playerID)
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RoomInfo(ctx context.Context, code string) (*relaydto.RoomInfoResponse, error) {
	var out relaydto.RoomInfoResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/room/"+url.PathEscape(code), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlayerRoom finds the room playerID most recently created or joined.
func (c *Client) PlayerRoom(ctx context.Context, playerID string) (*relaydto.RoomInfoResponse, error) {
	var out relaydto.RoomInfoResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/player/"+url.PathEscape(playerID)+"/room", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteRoom(ctx context.Context, code string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/room/"+url.PathEscape(code), nil, nil, false)
}

func (c *Client) History(ctx context.Context, code string, limit int) (*relaydto.HistoryResponse, error) {
	path := "/room/" + url.PathEscape(code) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out relaydto.HistoryResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// BoardPNG fetches the rendered board of a room.
func (c *Client) BoardPNG(ctx context.Context, code, perspective string) ([]byte, error) {
	path := "/room/" + url.PathEscape(code) + "/board.png"
	if perspective != "" {
		path += "?perspective=" + url.QueryEscape(perspective)
	}
	var body []byte
	err := c.do(ctx, fasthttp.MethodGet, path, nil, true, func(resp *fasthttp.Response) error {
		body = append([]byte(nil), resp.Body()...)
		return nil
	})
	return body, err
}

// WebSocketURL is the realtime endpoint for playerID in room code.
func (c *Client) WebSocketURL(code, playerID string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/" + url.PathEscape(code) + playerQuery(playerID)
}

func playerQuery(playerID string) string {
	if strings.TrimSpace(playerID) == "" {
		return ""
	}
	return "?player_id=" + url.QueryEscape(playerID)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	var payload []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = raw
	}
	return c.do(ctx, method, path, payload, retry, func(resp *fasthttp.Response) error {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, retry bool, onOK func(*fasthttp.Response) error) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := &APIError{Status: status}
			var er relaydto.ErrorResponse
			if json.Unmarshal(resp.Body(), &er) == nil && (er.Detail != "" || er.Code != "") {
				apiErr.Code, apiErr.Detail = er.Code, er.Detail
			} else {
				apiErr.Detail = truncate(string(resp.Body()), 512)
			}
			if attempt == attempts || !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}
		return onOK(resp)
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
