// Package authclient is a small HTTP client for the authentication API. It
// wires the client-side lockout tracker around login: the submit affordance
// is disabled locally after repeated failures, while a server-side 429
// always takes precedence over the local countdown.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/ilaygozlan/crypto-advisor-api/internal/lockout"
)

// Client errors
var (
	ErrLockedOut          = errors.New("locked out after repeated failures")
	ErrRateLimited        = errors.New("rate limited by server")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("not authenticated")
)

// apiEnvelope mirrors the server's response format
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// User is the profile shape returned by the API
type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

// sessionData is the payload of signup/login/refresh responses
type sessionData struct {
	AccessToken string `json:"accessToken"`
	User        *User  `json:"user"`
}

// Client talks to the auth API. The refresh cookie lives in the cookie jar;
// the access token is kept in memory and sent as a bearer header.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	guard       *lockout.Tracker
	accessToken string
}

// New creates a Client for the given base URL (e.g. "http://localhost:8080").
// The lockout tracker may be nil, in which case no local lockout applies.
func New(baseURL string, guard *lockout.Tracker) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		guard: guard,
	}, nil
}

// AccessToken returns the current access token, empty when not logged in
func (c *Client) AccessToken() string {
	return c.accessToken
}

// Signup creates an account and starts a session
func (c *Client) Signup(ctx context.Context, email, password, firstName, lastName string) (*User, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	if firstName != "" {
		body["firstName"] = firstName
	}
	if lastName != "" {
		body["lastName"] = lastName
	}

	var data sessionData
	if err := c.post(ctx, "/api/v1/auth/signup", body, &data); err != nil {
		return nil, err
	}
	c.accessToken = data.AccessToken
	return data.User, nil
}

// Login authenticates and starts a session. The local lockout guard is
// checked first; on failure the attempt is recorded, on success the state is
// cleared.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	if c.guard != nil {
		locked, err := c.guard.IsLocked()
		if err != nil {
			return nil, err
		}
		if locked {
			remaining, _ := c.guard.LockedFor()
			return nil, fmt.Errorf("%w: try again in %s", ErrLockedOut, remaining.Round(time.Second))
		}
	}

	var data sessionData
	err := c.post(ctx, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &data)

	if err != nil {
		if c.guard != nil && errors.Is(err, ErrInvalidCredentials) {
			if gerr := c.guard.RegisterFailedAttempt(); gerr != nil {
				return nil, gerr
			}
		}
		return nil, err
	}

	if c.guard != nil {
		if gerr := c.guard.RegisterSuccess(); gerr != nil {
			return nil, gerr
		}
	}

	c.accessToken = data.AccessToken
	return data.User, nil
}

// Refresh rotates the session using the refresh cookie in the jar
func (c *Client) Refresh(ctx context.Context) error {
	var data sessionData
	if err := c.post(ctx, "/api/v1/auth/refresh", nil, &data); err != nil {
		return err
	}
	c.accessToken = data.AccessToken
	return nil
}

// Logout ends the session and drops the local access token
func (c *Client) Logout(ctx context.Context) error {
	err := c.post(ctx, "/api/v1/auth/logout", nil, nil)
	c.accessToken = ""
	return err
}

// Me fetches the authenticated user's profile, refreshing once on an expired
// access token
func (c *Client) Me(ctx context.Context) (*User, error) {
	var data struct {
		User *User `json:"user"`
	}

	err := c.get(ctx, "/api/v1/me", &data)
	if errors.Is(err, ErrUnauthorized) {
		if rerr := c.Refresh(ctx); rerr != nil {
			return nil, err
		}
		err = c.get(ctx, "/api/v1/me", &data)
	}
	if err != nil {
		return nil, err
	}
	return data.User, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if !envelope.Success {
		return c.mapError(resp.StatusCode, envelope.Error)
	}

	if out != nil && envelope.Data != nil {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

// mapError converts an API error into a client error. The server's verdict
// is authoritative: a 429 is reported as rate limiting even if the local
// counter had not tripped yet.
func (c *Client) mapError(status int, apiErr *apiError) error {
	message := ""
	code := ""
	if apiErr != nil {
		message = apiErr.Message
		code = apiErr.Code
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	case code == "INVALID_CREDENTIALS":
		return ErrInvalidCredentials
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	default:
		return fmt.Errorf("api error %d %s: %s", status, code, message)
	}
}
