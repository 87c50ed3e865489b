package smartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/sameerk/feedrelay/internal/upstream"
)

const (
	loginPasswordPath = "/rest/auth/angelbroking/user/v1/loginByPassword"
	loginMPINPath     = "/rest/auth/angelbroking/user/v1/loginByMPIN"
)

// ErrLoginFailed indicates both login endpoints rejected the credentials.
var ErrLoginFailed = errors.New("smartapi: login failed")

type loginRequest struct {
	ClientCode string `json:"clientcode"`
	Password   string `json:"password"`
	TOTP       string `json:"totp"`
}

type loginResponse struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	} `json:"data"`
}

// Tokens returns valid credentials for the streaming endpoint, logging in
// if no cached session exists. Safe for concurrent use.
func (c *Client) Tokens(ctx context.Context) (upstream.Credentials, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.valid {
		return c.cached, nil
	}

	creds, err := c.login(ctx)
	if err != nil {
		return upstream.Credentials{}, err
	}

	c.cached = creds
	c.valid = true
	return creds, nil
}

// Invalidate discards the cached session so the next Tokens call performs
// a fresh login.
func (c *Client) Invalidate() {
	c.tokenMu.Lock()
	c.valid = false
	c.cached = upstream.Credentials{}
	c.tokenMu.Unlock()
}

// login authenticates against SmartAPI, trying the password endpoint first
// and falling back to MPIN. The MPIN doubles as the password for accounts
// migrated to PIN-only login.
func (c *Client) login(ctx context.Context) (upstream.Credentials, error) {
	code, err := totp.GenerateCode(c.totpSecret, time.Now())
	if err != nil {
		return upstream.Credentials{}, fmt.Errorf("generating totp: %w", err)
	}

	req := loginRequest{
		ClientCode: c.clientCode,
		Password:   c.mpin,
		TOTP:       code,
	}

	creds, pwErr := c.loginAt(ctx, loginPasswordPath, req)
	if pwErr == nil {
		return creds, nil
	}

	c.logger.Warn("password login failed, trying MPIN endpoint", "error", pwErr)

	creds, pinErr := c.loginAt(ctx, loginMPINPath, req)
	if pinErr == nil {
		return creds, nil
	}

	return upstream.Credentials{}, fmt.Errorf("%w: password: %v, mpin: %v", ErrLoginFailed, pwErr, pinErr)
}

func (c *Client) loginAt(ctx context.Context, path string, body loginRequest) (upstream.Credentials, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return upstream.Credentials{}, fmt.Errorf("encoding login request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return upstream.Credentials{}, fmt.Errorf("building login request: %w", err)
	}
	c.setHeaders(httpReq, "")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return upstream.Credentials{}, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return upstream.Credentials{}, fmt.Errorf("reading login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return upstream.Credentials{}, fmt.Errorf("login returned HTTP %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return upstream.Credentials{}, fmt.Errorf("decoding login response: %w", err)
	}
	if !lr.Status {
		return upstream.Credentials{}, fmt.Errorf("login rejected (%s): %s", lr.ErrorCode, lr.Message)
	}
	if lr.Data.JWTToken == "" || lr.Data.FeedToken == "" {
		return upstream.Credentials{}, errors.New("login response missing tokens")
	}

	c.logger.Info("smartapi login ok", "client_code", c.clientCode)

	return upstream.Credentials{
		SessionToken: lr.Data.JWTToken,
		FeedToken:    lr.Data.FeedToken,
		ClientCode:   c.clientCode,
		APIKey:       c.apiKey,
	}, nil
}

// setHeaders applies the header set SmartAPI requires on every request.
func (c *Client) setHeaders(req *http.Request, bearer string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", "127.0.0.1")
	req.Header.Set("X-ClientPublicIP", "127.0.0.1")
	req.Header.Set("X-MACAddress", "00:00:00:00:00:00")
	req.Header.Set("X-PrivateKey", c.apiKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
