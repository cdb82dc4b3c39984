package session

import (
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/schoolhub/session-agent/internal/remote"
)

var _ oauth2.TokenSource = (*Session)(nil)

// Token implements oauth2.TokenSource. The refresh token stays inside the
// session; renewal is the scheduler's job, not the transport's.
func (s *Session) Token() (*oauth2.Token, error) {
	cred, err := s.credential()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.ExpiresAt,
	}, nil
}

// Client returns an HTTP client for the admin API that sends the current
// bearer token and tenant header on every request. Requests are not held
// back while a refresh runs. A 401 triggers one manual refresh and, if it
// renewed the pair, a single retry; anything else is left to the caller.
// A nil base uses http.DefaultTransport.
func (s *Session) Client(base http.RoundTripper) *http.Client {
	authorized := &oauth2.Transport{
		Source: s,
		Base:   &tenantTransport{session: s, base: base},
	}
	return &http.Client{
		Transport: &retryTransport{session: s, next: authorized},
	}
}

type tenantTransport struct {
	session *Session
	base    http.RoundTripper
}

func (t *tenantTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tenantID, err := t.session.TenantID()
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	req = req.Clone(req.Context())
	req.Header.Set(remote.HeaderTenantID, tenantID)

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

type retryTransport struct {
	session *Session
	next    http.RoundTripper
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	refreshed, refreshErr := t.session.RefreshNow(req.Context())
	if refreshErr != nil || !refreshed {
		t.session.log.Warn().
			Err(refreshErr).
			Str("url", req.URL.Path).
			Msg("Request unauthorized and token could not be renewed")
		return resp, nil
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	t.session.log.Debug().Str("url", req.URL.Path).Msg("Retrying request with renewed token")
	return t.next.RoundTrip(retry)
}
