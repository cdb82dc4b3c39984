package tenant

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/schoolhub/session-agent/internal/errors"
	"github.com/schoolhub/session-agent/internal/logger"
	"github.com/schoolhub/session-agent/internal/remote"
)

// Lookup is the remote call the resolver depends on.
type Lookup interface {
	TenantIDByMobile(ctx context.Context, mobile string) (string, error)
}

// Resolver maps a login identifier (a phone number) to its tenant id.
// It never retries.
type Resolver struct {
	lookup Lookup
	log    zerolog.Logger
}

func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{
		lookup: lookup,
		log:    logger.For("tenant"),
	}
}

// Resolve returns the tenant id for identifier. Errors wrap ErrInvalidInput,
// ErrTenantNotFound, ErrNetwork or ErrMalformedResponse.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", fmt.Errorf("%w: identifier is required", apperrors.ErrInvalidInput)
	}

	tenantID, err := r.lookup.TenantIDByMobile(ctx, identifier)
	if err != nil {
		var apiErr *remote.APIError
		if apperrors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: %s", apperrors.ErrTenantNotFound, apiErr.Error())
		}
		return "", apperrors.Wrapf(err, "failed to resolve tenant")
	}

	if tenantID == "" {
		return "", fmt.Errorf("%w: no tenant registered for identifier", apperrors.ErrTenantNotFound)
	}

	r.log.Debug().Str("tenant_id", tenantID).Msg("Resolved tenant")
	return tenantID, nil
}
