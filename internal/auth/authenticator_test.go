package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/session-agent/internal/credentials"
	apperrors "github.com/schoolhub/session-agent/internal/errors"
	serverhttp "github.com/schoolhub/session-agent/internal/http"
	"github.com/schoolhub/session-agent/internal/remote"
	"github.com/schoolhub/session-agent/internal/tenant"
)

// backend fakes the admin API's tenant lookup and login endpoints.
type backend struct {
	tenantBody   string
	loginBody    string
	loginStatus  int
	tenantCalls  atomic.Int32
	loginCalls   atomic.Int32
	lastTenantID atomic.Value
	lastLogin    atomic.Value
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/tenant/get-id-by-mobile":
		b.tenantCalls.Add(1)
		w.Write([]byte(b.tenantBody))
	case "/auth/login":
		b.loginCalls.Add(1)
		b.lastTenantID.Store(r.Header.Get("tenant-id"))
		var body remote.LoginRequest
		json.NewDecoder(r.Body).Decode(&body)
		b.lastLogin.Store(body)
		if b.loginStatus != 0 {
			w.WriteHeader(b.loginStatus)
		}
		w.Write([]byte(b.loginBody))
	default:
		http.NotFound(w, r)
	}
}

func newAuthenticator(t *testing.T, b *backend) (*Authenticator, *credentials.Store) {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	client := remote.NewClient(serverhttp.NewHTTPClient(5*time.Second), srv.URL)
	store := credentials.NewStore(credentials.NewMemoryBackend(nil))
	return NewAuthenticator(tenant.NewResolver(client), client, store), store
}

func TestAuthenticator_LoginScenario(t *testing.T) {
	b := &backend{
		tenantBody: `{"code":0,"data":"42","msg":""}`,
		loginBody:  `{"code":0,"data":{"accessToken":"AT1","refreshToken":"RT1","userId":7,"expiresTime":1900000000000},"msg":""}`,
	}
	authenticator, store := newAuthenticator(t, b)

	result, err := authenticator.Login(context.Background(), "13800000000", "pw")
	require.NoError(t, err)

	assert.Equal(t, "42", b.lastTenantID.Load())
	assert.Equal(t, remote.LoginRequest{Username: "13800000000", Password: "pw", RememberMe: true}, b.lastLogin.Load())
	assert.Equal(t, "7", result.UserID)

	accessToken, ok := store.Get(credentials.KeyAccessToken)
	require.True(t, ok)
	assert.Equal(t, "AT1", accessToken)

	cred, ok := store.Credential()
	require.True(t, ok)
	assert.Equal(t, "RT1", cred.RefreshToken)
	assert.Equal(t, "42", cred.TenantID)
	assert.Equal(t, int64(1_900_000_000_000), cred.ExpiresAt.UnixMilli())
}

func TestAuthenticator_LoginFailures(t *testing.T) {
	testCases := []struct {
		name           string
		identifier     string
		secret         string
		tenantBody     string
		loginBody      string
		loginStatus    int
		wantErr        error
		wantLoginCalls int32
	}{
		{
			name:       "missing secret",
			identifier: "13800000000",
			wantErr:    apperrors.ErrInvalidInput,
		},
		{
			name:       "missing identifier",
			secret:     "pw",
			wantErr:    apperrors.ErrInvalidInput,
		},
		{
			name:       "unknown tenant",
			identifier: "13800000000",
			secret:     "pw",
			tenantBody: `{"code":0,"data":"","msg":""}`,
			wantErr:    apperrors.ErrTenantNotFound,
		},
		{
			name:           "rejected password",
			identifier:     "13800000000",
			secret:         "wrong",
			tenantBody:     `{"code":0,"data":"42","msg":""}`,
			loginBody:      `{"code":1002000000,"data":null,"msg":"bad credentials"}`,
			wantErr:        apperrors.ErrInvalidCredentials,
			wantLoginCalls: 1,
		},
		{
			name:           "success without tokens",
			identifier:     "13800000000",
			secret:         "pw",
			tenantBody:     `{"code":0,"data":"42","msg":""}`,
			loginBody:      `{"code":0,"data":{"accessToken":"AT1"},"msg":""}`,
			wantErr:        apperrors.ErrMalformedResponse,
			wantLoginCalls: 1,
		},
		{
			name:           "server error",
			identifier:     "13800000000",
			secret:         "pw",
			tenantBody:     `{"code":0,"data":"42","msg":""}`,
			loginStatus:    http.StatusInternalServerError,
			wantErr:        apperrors.ErrNetwork,
			wantLoginCalls: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := &backend{tenantBody: tc.tenantBody, loginBody: tc.loginBody, loginStatus: tc.loginStatus}
			authenticator, store := newAuthenticator(t, b)

			_, err := authenticator.Login(context.Background(), tc.identifier, tc.secret)
			assert.True(t, errors.Is(err, tc.wantErr), "expected %v, got %v", tc.wantErr, err)
			assert.Equal(t, tc.wantLoginCalls, b.loginCalls.Load())

			for _, key := range []string{credentials.KeyAccessToken, credentials.KeyRefreshToken, credentials.KeyTenantID} {
				_, ok := store.Get(key)
				assert.False(t, ok, "failed login must not leave %s behind", key)
			}
		})
	}
}

func TestAuthenticator_ExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	b := &backend{
		tenantBody: `{"code":0,"data":"42","msg":""}`,
		loginBody:  `{"code":0,"data":{"accessToken":"` + signed + `","refreshToken":"RT1","userId":"7"},"msg":""}`,
	}
	authenticator, _ := newAuthenticator(t, b)

	result, err := authenticator.Login(context.Background(), "13800000000", "pw")
	require.NoError(t, err)
	assert.True(t, exp.Equal(result.Credential.ExpiresAt), "expected %v, got %v", exp, result.Credential.ExpiresAt)
}
