package token

import (
	"time"
)

// TokenSet is the persisted session: bearer credentials with absolute expiries.
type TokenSet struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	TokenType             string `json:"token_type,omitempty"`
	AccessTokenExpiresAt  int64  `json:"access_token_expires_at"`
	RefreshTokenExpiresAt int64  `json:"refresh_token_expires_at"`

	// CodeVerifier is kept because the broker wants it again on refresh.
	CodeVerifier string `json:"code_verifier,omitempty"`

	// Relative lifetimes exactly as the provider sent them. Normalize folds
	// them into the absolute fields and clears them.
	ExpiresIn             int64 `json:"expires_in,omitempty"`
	RefreshTokenExpiresIn int64 `json:"refresh_token_expires_in,omitempty"`
}

// Normalize converts relative lifetimes into absolute epoch seconds based on now.
func (t *TokenSet) Normalize(now time.Time) {
	base := now.Unix()
	if t.ExpiresIn > 0 {
		t.AccessTokenExpiresAt = base + t.ExpiresIn
		t.ExpiresIn = 0
	}
	if t.RefreshTokenExpiresIn > 0 {
		t.RefreshTokenExpiresAt = base + t.RefreshTokenExpiresIn
		t.RefreshTokenExpiresIn = 0
	}
}

// AccessTokenStale reports whether now+skew has reached the access token expiry.
// A token without a known expiry is stale.
func (t *TokenSet) AccessTokenStale(now time.Time, skew time.Duration) bool {
	if t == nil || t.AccessToken == "" || t.AccessTokenExpiresAt == 0 {
		return true
	}
	return now.Unix()+int64(skew/time.Second) >= t.AccessTokenExpiresAt
}

// RefreshTokenExpired reports whether now+skew has reached the refresh token expiry.
// A zero expiry means the provider did not say, and the token is assumed usable.
func (t *TokenSet) RefreshTokenExpired(now time.Time, skew time.Duration) bool {
	if t == nil || t.RefreshToken == "" {
		return true
	}
	if t.RefreshTokenExpiresAt == 0 {
		return false
	}
	return now.Unix()+int64(skew/time.Second) >= t.RefreshTokenExpiresAt
}

// AccessTokenExpiry returns the access token expiry as a time.
func (t *TokenSet) AccessTokenExpiry() time.Time {
	return unixOrZero(t.AccessTokenExpiresAt)
}

// RefreshTokenExpiry returns the refresh token expiry as a time.
func (t *TokenSet) RefreshTokenExpiry() time.Time {
	return unixOrZero(t.RefreshTokenExpiresAt)
}

// Clone returns a copy safe to hand to other goroutines.
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
