// Package view keeps a local copy of a remote collection, fetched and
// mutated through the gateway.
package view

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TokenSource yields the bearer token to attach to requests.
// session.Store satisfies it.
type TokenSource interface {
	Token() (string, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status <= 299 }

// Client talks to the gateway on behalf of views.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	cookie string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides http.DefaultClient.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithTokenSource attaches the session token as both the session cookie
// and a bearer header.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(cl *Client) { cl.tokens = ts }
}

// WithCookieName overrides the session cookie name, "token" by default.
func WithCookieName(name string) ClientOption {
	return func(cl *Client) { cl.cookie = name }
}

// NewClient returns a Client for the gateway at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   http.DefaultClient,
		cookie: "token",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends body (JSON encoded when non-nil) and reads the whole response.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		// Without a session the request goes out anonymous and the
		// gateway answers 401.
		if raw, err := c.tokens.Token(); err == nil && raw != "" {
			req.AddCookie(&http.Cookie{Name: c.cookie, Value: raw})
			req.Header.Set("Authorization", "Bearer "+raw)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func statusError(resp *Response) *StatusError {
	return &StatusError{Status: resp.Status, Message: errorMessage(resp)}
}

func errorMessage(resp *Response) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(resp.Body, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	} else if text := strings.TrimSpace(string(resp.Body)); text != "" && len(text) < 256 {
		return text
	}
	return http.StatusText(resp.Status)
}
