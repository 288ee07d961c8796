// Package client performs the login handshake against a powgate server:
// fetch a CSRF token, request a challenge, solve it and submit credentials.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/layer-3/powgate/core"
)

const (
	csrfHeader           = "X-CSRF-Token"
	DefaultMaxIterations = 1 << 28

	ScopeLogin  = "login"
	ScopeLogout = "logout"
)

// APIError is a non-2xx answer from the server
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("powgate: %d %s", e.Status, e.Message)
}

// Challenge is an issued proof-of-work challenge
type Challenge struct {
	ID         string    `json:"challenge"`
	Difficulty int       `json:"difficulty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// User is the account behind a session
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Type     string `json:"type"`
}

// Submission is the body of a login request
type Submission struct {
	Username  string      `json:"username"`
	Password  string      `json:"password"`
	Challenge string      `json:"challenge,omitempty"`
	Nonce     json.Number `json:"nonce"`
	Solution  string      `json:"solution"`
}

// Result of a successful login
type Result struct {
	Token  string
	User   User
	Cookie *http.Cookie // session cookie as set by the server
}

// Client talks to a single server and keeps its cookies
type Client struct {
	baseURL       *url.URL
	http          *http.Client
	maxIterations int
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. A cookie jar is added if it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxIterations bounds the proof-of-work search
func WithMaxIterations(n int) Option {
	return func(c *Client) { c.maxIterations = n }
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	c := &Client{
		baseURL:       u,
		http:          &http.Client{Timeout: 30 * time.Second},
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	return c, nil
}

// Login runs the whole handshake
func (c *Client) Login(ctx context.Context, username, password string) (*Result, error) {
	csrfToken, err := c.CSRF(ctx, ScopeLogin)
	if err != nil {
		return nil, err
	}

	challenge, err := c.Challenge(ctx, username)
	if err != nil {
		return nil, err
	}

	sub, err := c.Solve(ctx, challenge)
	if err != nil {
		return nil, err
	}
	sub.Username = username
	sub.Password = password

	return c.Submit(ctx, sub, csrfToken)
}

// CSRF fetches an anti-forgery token for scope
func (c *Client) CSRF(ctx context.Context, scope string) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	path := "/auth/csrf?scope=" + url.QueryEscape(scope)
	if _, err := c.call(ctx, http.MethodGet, path, nil, nil, &data); err != nil {
		return "", err
	}
	return data.Token, nil
}

// Challenge requests a proof-of-work challenge for username
func (c *Client) Challenge(ctx context.Context, username string) (*Challenge, error) {
	var challenge Challenge
	body := map[string]string{"username": username}
	if _, err := c.call(ctx, http.MethodPost, "/auth/challenge", body, nil, &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// Solve finds a nonce for challenge
func (c *Client) Solve(ctx context.Context, challenge *Challenge) (Submission, error) {
	nonce, hash, err := core.Solve(ctx, challenge.ID, challenge.Difficulty, c.maxIterations)
	if err != nil {
		return Submission{}, fmt.Errorf("failed to solve challenge: %w", err)
	}
	return Submission{
		Challenge: challenge.ID,
		Nonce:     json.Number(nonce),
		Solution:  hash,
	}, nil
}

// Submit posts a login attempt
func (c *Client) Submit(ctx context.Context, sub Submission, csrfToken string) (*Result, error) {
	var data struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	header := http.Header{}
	header.Set(csrfHeader, csrfToken)

	resp, err := c.call(ctx, http.MethodPost, "/auth/login", sub, header, &data)
	if err != nil {
		return nil, err
	}

	result := &Result{Token: data.Token, User: data.User}
	for _, cookie := range resp.Cookies() {
		if cookie.Value == data.Token {
			result.Cookie = cookie
		}
	}
	return result, nil
}

// Me returns the user of the current session
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if _, err := c.call(ctx, http.MethodGet, "/api/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout revokes the current session
func (c *Client) Logout(ctx context.Context) error {
	csrfToken, err := c.CSRF(ctx, ScopeLogout)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set(csrfHeader, csrfToken)

	_, err = c.call(ctx, http.MethodPost, "/auth/logout", nil, header, nil)
	return err
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method, path string, body any, header http.Header, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: "malformed response"}
	}
	if resp.StatusCode/100 != 2 || env.Status != "success" {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}
