// Package session is the API client used by clmctl: it signs in against the
// service, keeps the current session and performs authenticated JSON calls.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"clmhub.io/internal/auth"
	"clmhub.io/internal/config"
)

// ErrNoSession is returned when no user is signed in.
var ErrNoSession = errors.New("session: not signed in")

// storageKey holds the persisted session when the client has storage.
const storageKey = "clm:session"

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client calls the service on behalf of one user.
type Client struct {
	coords  config.Coordinates
	http    *http.Client
	storage config.Storage

	mu        sync.Mutex
	current   *auth.Session
	listeners []func(*auth.Session)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStorage persists the session across processes.
func WithStorage(s config.Storage) Option {
	return func(c *Client) { c.storage = s }
}

// NewClient builds a client for coords, restoring a stored session if any.
func NewClient(coords config.Coordinates, opts ...Option) *Client {
	c := &Client{
		coords: config.Coordinates{URL: strings.TrimRight(coords.URL, "/"), APIKey: coords.APIKey},
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.storage != nil {
		if raw, ok := c.storage.Get(storageKey); ok && raw != "" {
			var s auth.Session
			if json.Unmarshal([]byte(raw), &s) == nil && s.AccessToken != "" {
				c.current = &s
			}
		}
	}
	return c
}

// Coordinates returns the backend the client talks to.
func (c *Client) Coordinates() config.Coordinates {
	return c.coords
}

// OnChange registers fn to be called with every new session, and with nil on sign-out.
// Listeners run synchronously in registration order.
func (c *Client) OnChange(fn func(*auth.Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Session returns the current session.
func (c *Client) Session() (auth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return auth.Session{}, ErrNoSession
	}
	return *c.current, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

// SignUp creates an account and signs in.
func (c *Client) SignUp(ctx context.Context, email, password, fullName string) (auth.Session, error) {
	return c.authenticate(ctx, "/v1/auth/signup", credentials{Email: email, Password: password, FullName: fullName})
}

// SignIn signs in with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (auth.Session, error) {
	return c.authenticate(ctx, "/v1/auth/signin", credentials{Email: email, Password: password})
}

// SignOut drops the current session.
func (c *Client) SignOut() error {
	return c.setSession(nil)
}

func (c *Client) authenticate(ctx context.Context, path string, body credentials) (auth.Session, error) {
	var s auth.Session
	if err := c.send(ctx, http.MethodPost, path, "", body, &s); err != nil {
		return auth.Session{}, err
	}
	if s.AccessToken == "" {
		return auth.Session{}, errors.New("session: response carried no access token")
	}
	if err := c.setSession(&s); err != nil {
		return auth.Session{}, err
	}
	return s, nil
}

func (c *Client) setSession(s *auth.Session) error {
	c.mu.Lock()
	c.current = s
	listeners := append([]func(*auth.Session){}, c.listeners...)
	c.mu.Unlock()

	var err error
	if c.storage != nil {
		if s == nil {
			err = c.storage.Delete(storageKey)
		} else {
			raw, mErr := json.Marshal(s)
			if mErr != nil {
				return mErr
			}
			err = c.storage.Set(storageKey, string(raw))
		}
	}
	for _, fn := range listeners {
		fn(s)
	}
	return err
}

// Do performs an authenticated JSON call. body and out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	s, err := c.Session()
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, s.AccessToken, body, out)
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.coords.URL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.coords.APIKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
