package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ID accepts either a JSON string or a JSON number. The backend serializes
// tenant and user ids as numbers on some deployments and strings on others.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Envelope is the {code, data, msg} wrapper every admin endpoint returns.
// Code zero means success.
type Envelope[T any] struct {
	Code int    `json:"code"`
	Data T      `json:"data"`
	Msg  string `json:"msg"`
}

// APIError is a well-formed envelope that reported failure.
type APIError struct {
	Endpoint string
	Code     int
	Msg      string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s returned code %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s returned code %d: %s", e.Endpoint, e.Code, e.Msg)
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// LoginData is the data payload of a successful login.
type LoginData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       ID     `json:"userId"`
	ExpiresTime  int64  `json:"expiresTime"`
}

// RefreshRequest is the body of POST /auth/refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenPair is the data payload of a successful refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresTime  int64  `json:"expiresTime"`
}

// ExpiresAt converts the millisecond expiry to a time. Zero stays zero.
func (p TokenPair) ExpiresAt() time.Time {
	return millisToTime(p.ExpiresTime)
}

// ExpiresAt converts the millisecond expiry to a time. Zero stays zero.
func (d LoginData) ExpiresAt() time.Time {
	return millisToTime(d.ExpiresTime)
}

func millisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
