package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/session-agent/internal/credentials"
	apperrors "github.com/schoolhub/session-agent/internal/errors"
	"github.com/schoolhub/session-agent/internal/refresh"
	"github.com/schoolhub/session-agent/internal/session"
)

const testAdminKey = "admin-secret"

type fakeSession struct {
	loginErr    error
	refreshErr  error
	logoutErr   error
	logoutCalls int
	identifier  string
	status      session.Status
}

func (f *fakeSession) Login(_ context.Context, identifier, _ string) (credentials.UserProfile, error) {
	f.identifier = identifier
	if f.loginErr != nil {
		return credentials.UserProfile{}, f.loginErr
	}
	f.status.Active = true
	return credentials.UserProfile{Name: identifier, UserID: "7"}, nil
}

func (f *fakeSession) Logout(context.Context) error {
	f.logoutCalls++
	return f.logoutErr
}

func (f *fakeSession) RefreshNow(context.Context) (bool, error) {
	if f.refreshErr != nil {
		return false, f.refreshErr
	}
	return true, nil
}

func (f *fakeSession) Status() session.Status {
	return f.status
}

func doRequest(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testAdminKey}
}

func TestAdminMiddleware(t *testing.T) {
	testCases := []struct {
		name     string
		adminKey string
		headers  map[string]string
		expected int
	}{
		{name: "bearer", adminKey: testAdminKey, headers: bearer(), expected: http.StatusOK},
		{name: "bearer lowercase scheme", adminKey: testAdminKey, headers: map[string]string{"Authorization": "bearer " + testAdminKey}, expected: http.StatusOK},
		{name: "x-api-key", adminKey: testAdminKey, headers: map[string]string{"X-API-Key": testAdminKey}, expected: http.StatusOK},
		{name: "missing", adminKey: testAdminKey, expected: http.StatusUnauthorized},
		{name: "wrong key", adminKey: testAdminKey, headers: map[string]string{"X-API-Key": "nope"}, expected: http.StatusUnauthorized},
		{name: "malformed authorization", adminKey: testAdminKey, headers: map[string]string{"Authorization": testAdminKey}, expected: http.StatusUnauthorized},
		{name: "not configured", headers: bearer(), expected: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(&fakeSession{}, tc.adminKey)
			rec := doRequest(t, srv, http.MethodGet, "/admin/session/status", "", tc.headers)
			assert.Equal(t, tc.expected, rec.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	srv := NewServer(&fakeSession{}, "")
	rec := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatusHandler(t *testing.T) {
	fake := &fakeSession{status: session.Status{Active: true, SessionID: "s-1", TenantID: "42", Scheduler: "scheduled"}}
	srv := NewServer(fake, testAdminKey)

	rec := doRequest(t, srv, http.MethodGet, "/admin/session/status", "", bearer())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "42", body["tenantId"])
	assert.Equal(t, "scheduled", body["scheduler"])

	rec = doRequest(t, srv, http.MethodPost, "/admin/session/status", "", bearer())
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdminRoutesRejectWrongMethod(t *testing.T) {
	srv := NewServer(&fakeSession{}, testAdminKey)

	testCases := []struct {
		method string
		path   string
	}{
		{method: http.MethodPost, path: "/admin/session/status"},
		{method: http.MethodGet, path: "/admin/session/login"},
		{method: http.MethodGet, path: "/admin/session/refresh"},
		{method: http.MethodDelete, path: "/admin/session/logout"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := doRequest(t, srv, tc.method, tc.path, "", bearer())
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}

	rec := doRequest(t, srv, http.MethodGet, "/admin/session/unknown", "", bearer())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginHandler(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		loginErr error
		expected int
	}{
		{name: "success", body: `{"identifier":"13800000000","secret":"pw"}`, expected: http.StatusOK},
		{name: "bad json", body: `{`, expected: http.StatusBadRequest},
		{name: "invalid input", body: `{"identifier":""}`, loginErr: fmt.Errorf("%w: identifier required", apperrors.ErrInvalidInput), expected: http.StatusBadRequest},
		{name: "invalid credentials", body: `{"identifier":"13800000000","secret":"x"}`, loginErr: apperrors.ErrInvalidCredentials, expected: http.StatusUnauthorized},
		{name: "tenant not found", body: `{"identifier":"1","secret":"x"}`, loginErr: apperrors.ErrTenantNotFound, expected: http.StatusNotFound},
		{name: "network", body: `{"identifier":"1","secret":"x"}`, loginErr: apperrors.ErrNetwork, expected: http.StatusBadGateway},
		{name: "malformed", body: `{"identifier":"1","secret":"x"}`, loginErr: apperrors.ErrMalformedResponse, expected: http.StatusBadGateway},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeSession{loginErr: tc.loginErr}
			srv := NewServer(fake, testAdminKey)

			rec := doRequest(t, srv, http.MethodPost, "/admin/session/login", tc.body, bearer())
			assert.Equal(t, tc.expected, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.expected == http.StatusOK, body["success"])
		})
	}
}

func TestRefreshHandler(t *testing.T) {
	testCases := []struct {
		name       string
		refreshErr error
		expected   int
	}{
		{name: "success", expected: http.StatusOK},
		{name: "in flight", refreshErr: refresh.ErrInFlight, expected: http.StatusConflict},
		{name: "not running", refreshErr: refresh.ErrNotRunning, expected: http.StatusConflict},
		{name: "logged out", refreshErr: apperrors.ErrNotAuthenticated, expected: http.StatusConflict},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(&fakeSession{refreshErr: tc.refreshErr}, testAdminKey)
			rec := doRequest(t, srv, http.MethodPost, "/admin/session/refresh", "", bearer())
			assert.Equal(t, tc.expected, rec.Code)
		})
	}
}

func TestLogoutHandler(t *testing.T) {
	fake := &fakeSession{}
	srv := NewServer(fake, testAdminKey)

	rec := doRequest(t, srv, http.MethodPost, "/admin/session/logout", "", bearer())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fake.logoutCalls)

	rec = doRequest(t, srv, http.MethodPost, "/admin/session/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, fake.logoutCalls, "unauthorized requests never reach the session")

	fake.logoutErr = fmt.Errorf("backend down")
	rec = doRequest(t, srv, http.MethodPost, "/admin/session/logout", "", bearer())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
