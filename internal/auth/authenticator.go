package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/schoolhub/session-agent/internal/credentials"
	apperrors "github.com/schoolhub/session-agent/internal/errors"
	"github.com/schoolhub/session-agent/internal/logger"
	"github.com/schoolhub/session-agent/internal/remote"
)

// TenantResolver resolves the tenant for a login identifier.
type TenantResolver interface {
	Resolve(ctx context.Context, identifier string) (string, error)
}

// LoginClient performs the authenticate call.
type LoginClient interface {
	Login(ctx context.Context, tenantID string, body remote.LoginRequest) (*remote.LoginData, error)
}

// CredentialWriter is the store mutation the authenticator needs.
type CredentialWriter interface {
	SetAll(ctx context.Context, cred credentials.Credential) error
}

// LoginInput is validated before any remote call is made.
type LoginInput struct {
	Identifier string `validate:"required"`
	Secret     string `validate:"required"`
}

// LoginResult is what a successful login produced.
type LoginResult struct {
	Credential credentials.Credential
	UserID     string
}

// Authenticator runs the two-step login: resolve tenant, then authenticate.
type Authenticator struct {
	resolver TenantResolver
	client   LoginClient
	store    CredentialWriter
	validate *validator.Validate
	log      zerolog.Logger
}

func NewAuthenticator(resolver TenantResolver, client LoginClient, store CredentialWriter) *Authenticator {
	return &Authenticator{
		resolver: resolver,
		client:   client,
		store:    store,
		validate: validator.New(),
		log:      logger.For("auth"),
	}
}

// Login resolves the tenant, authenticates, and writes the resulting
// credential to the store. Nothing is written unless every step succeeds.
func (a *Authenticator) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	input := LoginInput{Identifier: strings.TrimSpace(identifier), Secret: secret}
	if err := a.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}

	tenantID, err := a.resolver.Resolve(ctx, input.Identifier)
	if err != nil {
		return nil, err
	}

	data, err := a.client.Login(ctx, tenantID, remote.LoginRequest{
		Username:   input.Identifier,
		Password:   input.Secret,
		RememberMe: true,
	})
	if err != nil {
		var apiErr *remote.APIError
		if apperrors.As(err, &apiErr) {
			a.log.Info().Str("tenant_id", tenantID).Int("code", apiErr.Code).Msg("Login rejected")
			return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidCredentials, apiErr.Msg)
		}
		return nil, apperrors.Wrapf(err, "login failed")
	}

	if data.AccessToken == "" || data.RefreshToken == "" {
		return nil, fmt.Errorf("%w: login response is missing tokens", apperrors.ErrMalformedResponse)
	}

	cred := credentials.Credential{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		TenantID:     tenantID,
		ExpiresAt:    data.ExpiresAt(),
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = credentials.TokenExpiry(cred.AccessToken)
	}

	if err := a.store.SetAll(ctx, cred); err != nil {
		return nil, apperrors.Wrapf(err, "failed to persist credentials")
	}

	a.log.Info().
		Str("tenant_id", tenantID).
		Str("access_token", logger.MaskToken(cred.AccessToken)).
		Time("expires_at", cred.ExpiresAt).
		Msg("Login successful")

	return &LoginResult{Credential: cred, UserID: string(data.UserID)}, nil
}
