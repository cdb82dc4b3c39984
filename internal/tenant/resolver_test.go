package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/schoolhub/session-agent/internal/errors"
	serverhttp "github.com/schoolhub/session-agent/internal/http"
	"github.com/schoolhub/session-agent/internal/remote"
)

type lookupFunc func(ctx context.Context, mobile string) (string, error)

func (f lookupFunc) TenantIDByMobile(ctx context.Context, mobile string) (string, error) {
	return f(ctx, mobile)
}

func TestResolver_Resolve(t *testing.T) {
	testCases := []struct {
		name       string
		identifier string
		lookup     lookupFunc
		want       string
		wantErr    error
		wantCalls  int
	}{
		{
			name:       "found",
			identifier: "13800000000",
			lookup:     func(context.Context, string) (string, error) { return "42", nil },
			want:       "42",
			wantCalls:  1,
		},
		{
			name:       "empty identifier",
			identifier: "  ",
			wantErr:    apperrors.ErrInvalidInput,
		},
		{
			name:       "empty data",
			identifier: "13800000000",
			lookup:     func(context.Context, string) (string, error) { return "", nil },
			wantErr:    apperrors.ErrTenantNotFound,
			wantCalls:  1,
		},
		{
			name:       "non-zero code",
			identifier: "13800000000",
			lookup: func(context.Context, string) (string, error) {
				return "", &remote.APIError{Endpoint: "/tenant/get-id-by-mobile", Code: 1002, Msg: "tenant does not exist"}
			},
			wantErr:   apperrors.ErrTenantNotFound,
			wantCalls: 1,
		},
		{
			name:       "network",
			identifier: "13800000000",
			lookup: func(context.Context, string) (string, error) {
				return "", fmt.Errorf("GET /tenant/get-id-by-mobile: %w: connection refused", apperrors.ErrNetwork)
			},
			wantErr:   apperrors.ErrNetwork,
			wantCalls: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			resolver := NewResolver(lookupFunc(func(ctx context.Context, mobile string) (string, error) {
				calls++
				return tc.lookup(ctx, mobile)
			}))

			got, err := resolver.Resolve(context.Background(), tc.identifier)
			assert.Equal(t, tc.wantCalls, calls, "no retries at this layer")
			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr), "expected %v, got %v", tc.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolver_AgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mobile") == "13800000000" {
			w.Write([]byte(`{"code":0,"data":"42","msg":""}`))
			return
		}
		w.Write([]byte(`{"code":0,"data":null,"msg":""}`))
	}))
	defer srv.Close()

	resolver := NewResolver(remote.NewClient(serverhttp.NewHTTPClient(5*time.Second), srv.URL))

	tenantID, err := resolver.Resolve(context.Background(), "13800000000")
	require.NoError(t, err)
	assert.Equal(t, "42", tenantID)

	_, err = resolver.Resolve(context.Background(), "13900000000")
	assert.ErrorIs(t, err, apperrors.ErrTenantNotFound)
}
