package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/schoolhub/session-agent/internal/errors"
	serverhttp "github.com/schoolhub/session-agent/internal/http"
	"github.com/schoolhub/session-agent/internal/logger"
)

const (
	pathTenantByMobile = "/tenant/get-id-by-mobile"
	pathLogin          = "/auth/login"
	pathRefreshToken   = "/auth/refresh-token"

	// HeaderTenantID scopes every authenticated call to a tenant.
	HeaderTenantID = "tenant-id"
)

// Client calls the admin backend's system endpoints.
type Client struct {
	httpClient serverhttp.HTTPClient
	baseURL    string
	log        zerolog.Logger
}

// NewClient returns a client rooted at baseURL, e.g.
// http://localhost:48080/admin-api/system.
func NewClient(httpClient serverhttp.HTTPClient, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        logger.For("remote"),
	}
}

// TenantIDByMobile looks up the tenant a phone number belongs to. The raw
// envelope data is returned as-is; interpreting an empty id is up to the
// caller.
func (c *Client) TenantIDByMobile(ctx context.Context, mobile string) (string, error) {
	endpoint := c.baseURL + pathTenantByMobile + "?mobile=" + url.QueryEscape(mobile)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := do[ID](c, req, pathTenantByMobile)
	if err != nil {
		return "", err
	}
	return string(env.Data), nil
}

// Login authenticates against the tenant.
func (c *Client) Login(ctx context.Context, tenantID string, body LoginRequest) (*LoginData, error) {
	req, err := c.newJSONRequest(ctx, pathLogin, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderTenantID, tenantID)

	env, err := do[*LoginData](c, req, pathLogin)
	if err != nil {
		return nil, err
	}
	if env.Data == nil {
		return &LoginData{}, nil
	}
	return env.Data, nil
}

// RefreshToken exchanges the refresh token for a new pair.
func (c *Client) RefreshToken(ctx context.Context, tenantID, accessToken, refreshToken string) (*TokenPair, error) {
	req, err := c.newJSONRequest(ctx, pathRefreshToken, RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderTenantID, tenantID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Cache-Control", "no-cache")

	env, err := do[*TokenPair](c, req, pathRefreshToken)
	if err != nil {
		return nil, err
	}
	if env.Data == nil {
		return &TokenPair{}, nil
	}
	return env.Data, nil
}

func (c *Client) newJSONRequest(ctx context.Context, path string, body interface{}) (*http.Request, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do executes req and decodes the envelope. Transport failures and non-2xx
// statuses wrap ErrNetwork; an undecodable 2xx body wraps
// ErrMalformedResponse; a non-zero envelope code comes back as *APIError.
func do[T any](c *Client, req *http.Request, endpoint string) (*Envelope[T], error) {
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", req.Method, endpoint, apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: could not read response body: %v", req.Method, endpoint, apperrors.ErrNetwork, err)
	}

	c.log.Debug().
		Str("endpoint", endpoint).
		Int("status_code", resp.StatusCode).
		Int("response_size", len(respBody)).
		Dur("duration", time.Since(start)).
		Msg("Admin API call complete")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %w: status %d", req.Method, endpoint, apperrors.ErrNetwork, resp.StatusCode)
	}

	var env Envelope[T]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", req.Method, endpoint, apperrors.ErrMalformedResponse, err)
	}
	if env.Code != 0 {
		return nil, &APIError{Endpoint: endpoint, Code: env.Code, Msg: env.Msg}
	}
	return &env, nil
}
