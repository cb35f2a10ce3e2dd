// Package gateway is the client for the external identity service: a plain
// request/response HTTP API for registration and login. It holds no state
// beyond its base URL.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// AuthError reports a credential rejection or a registration conflict. The
// gateway's own message is surfaced verbatim; no session state is touched.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// SessionToken identifies an authenticated session. ExpiresAt is zero when
// the gateway returns no token or the token carries no expiry; the claims are
// read unverified since signature checking is the gateway's job, not ours.
type SessionToken struct {
	Username  string
	Token     string
	ExpiresAt time.Time
}

// Client talks to the identity gateway.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zerolog.Logger
}

// New builds a gateway client for the given base URL.
func New(baseURL string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Token   string `json:"token"`
}

// Register creates an account and returns the gateway's confirmation message.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	var resp registerResponse
	status, err := c.post(ctx, "/register", credentials{Username: username, Password: password}, &resp)
	if err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	if status != http.StatusOK {
		return "", &AuthError{Message: authMessage(resp.Error, resp.Message, "registration failed")}
	}

	c.log.Info().Str("username", username).Msg("registered")
	return resp.Message, nil
}

// Login validates credentials. Any non-success response is a login failure;
// network errors and credential rejections differ only in the surfaced
// message.
func (c *Client) Login(ctx context.Context, username, password string) (*SessionToken, error) {
	var resp loginResponse
	status, err := c.post(ctx, "/login", credentials{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if status != http.StatusOK || !resp.Success {
		return nil, &AuthError{Message: authMessage(resp.Error, resp.Message, "login failed")}
	}

	tok := &SessionToken{Username: username, Token: resp.Token}
	if resp.Token != "" {
		tok.ExpiresAt = tokenExpiry(resp.Token)
	}

	c.log.Info().Str("username", username).Msg("logged in")
	return tok, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(data) > 0 {
		// Tolerate non-JSON error bodies; status alone decides failures.
		_ = json.Unmarshal(data, out)
	}
	return resp.StatusCode, nil
}

func authMessage(candidates ...string) string {
	for _, m := range candidates {
		if m != "" {
			return m
		}
	}
	return "authentication failed"
}

// tokenExpiry extracts the exp claim without verifying the signature.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
