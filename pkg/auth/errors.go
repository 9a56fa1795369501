package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired means there is no usable credential and the user has to authorize again.
	ErrAuthRequired = errors.New("authorization required")
	// ErrRefreshTokenExpired means the refresh token's own lifetime has elapsed.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrNoAuthorizationPending is returned when a code arrives without an outstanding authorization URL.
	ErrNoAuthorizationPending = errors.New("no authorization pending")
	// ErrAlreadyAuthenticated is returned when a new authorization is requested for a live session.
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	// ErrStateMismatch is returned when a callback carries a state other than the one issued.
	ErrStateMismatch = errors.New("state parameter mismatch")
)

// ExchangeError reports a rejected authorization code exchange.
type ExchangeError struct {
	Status int
	Body   string
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("code exchange failed with status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("code exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RefreshError reports a refresh request the provider rejected or that never completed.
type RefreshError struct {
	Status int
	Body   string
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token refresh failed with status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }
