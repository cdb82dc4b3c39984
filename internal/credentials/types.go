package credentials

import "time"

// Persisted keys. They match the keys the web dashboard keeps in local
// storage so a shared backend can be read by either client.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyTenantID     = "tenantId"
	KeyExpiresAt    = "expiresAt"
	KeyCurrentUser  = "currentUser"
)

// AllKeys lists every key a backend may hold.
var AllKeys = []string{KeyAccessToken, KeyRefreshToken, KeyTenantID, KeyExpiresAt, KeyCurrentUser}

// Credential is a tenant-scoped token pair. ExpiresAt is zero when the backend
// did not report an expiry.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TenantID     string
	ExpiresAt    time.Time
}

// Complete reports whether all three string fields are set.
func (c Credential) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != "" && c.TenantID != ""
}

// WithTokens returns a copy of c carrying a new token pair.
func (c Credential) WithTokens(accessToken, refreshToken string, expiresAt time.Time) Credential {
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	c.ExpiresAt = expiresAt
	return c
}

// ExpiresWithin reports whether the access token expires within d of now.
// Unknown expiry never counts as expiring.
func (c Credential) ExpiresWithin(d time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(c.ExpiresAt)
}

// UserProfile is the display identity shown by the dashboard header.
type UserProfile struct {
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	UserID string `json:"userId"`
}
