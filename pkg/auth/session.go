// Package auth owns the OAuth2 authorization-code-with-PKCE lifecycle for
// the broker: authorization URL, code exchange, proactive refresh and
// recovery, modeled as an explicit state machine.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"saxotrader/pkg/metrics"
	"saxotrader/pkg/pkce"
	"saxotrader/pkg/token"
)

type pendingAuthorization struct {
	challenge pkce.Challenge
	state     string
	issuedAt  time.Time
}

type transition struct {
	from, to State
}

// Session is safe for concurrent use. All token mutations (exchange, refresh,
// logout) are serialized, and concurrent refresh requests share one network call.
type Session struct {
	cfg        Config
	oauth      *oauth2.Config
	store      token.Store
	httpClient *http.Client
	now        func() time.Time
	logger     log.FieldLogger
	generator  *pkce.Generator
	listeners  []func(from, to State)

	// opMu serializes operations that talk to the token endpoint or the store.
	opMu   sync.Mutex
	flight singleflight.Group

	mu          sync.Mutex
	state       State
	since       time.Time
	tokens      *token.TokenSet
	pending     *pendingAuthorization
	lastError   string
	transitions []transition
}

// Status is a read-only snapshot for the control surface.
type Status struct {
	State                 State      `json:"auth_state"`
	Since                 time.Time  `json:"state_since"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
	AuthorizationPending  bool       `json:"authorization_pending"`
	LastError             string     `json:"last_error,omitempty"`
}

// NewSession loads any persisted tokens from store and derives the initial state.
func NewSession(ctx context.Context, cfg Config, store token.Store, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}

	s := &Session{
		cfg:        cfg,
		oauth:      cfg.oauth2Config(),
		store:      store,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		now:        time.Now,
		logger:     log.StandardLogger(),
		generator:  pkce.NewGenerator(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.since = s.now()
	s.state = StateNotAuthenticated
	if ts := store.Load(ctx); ts != nil {
		s.tokens = ts
		if !ts.AccessTokenStale(s.now(), 0) {
			s.state = StateAuthenticated
		}
		s.logger.WithFields(log.Fields{
			"state":                   s.state,
			"access_token_expires_at": ts.AccessTokenExpiry().Format(time.RFC3339),
			"has_refresh_token":       ts.RefreshToken != "",
		}).Info("loaded persisted session")
	}
	return s, nil
}

// State returns the current state. An ERROR state is reported once: the same
// call discards the failed session and moves to NOT_AUTHENTICATED.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.unlock()

	s.expireLocked()
	current := s.state
	s.recoverLocked()
	return current
}

// Authenticated reports whether the session currently holds a usable login.
func (s *Session) Authenticated() bool {
	return s.State() == StateAuthenticated
}

// Status returns a snapshot of the session without changing it. An expired
// access token with no way to refresh it is reported as NOT_AUTHENTICATED.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.unlock()

	state := s.state
	if state == StateAuthenticated && s.deadLocked() {
		state = StateNotAuthenticated
	}
	st := Status{
		State:                state,
		Since:                s.since,
		AuthorizationPending: s.pending != nil,
		LastError:            s.lastError,
	}
	if s.tokens != nil {
		if t := s.tokens.AccessTokenExpiry(); !t.IsZero() {
			st.AccessTokenExpiresAt = &t
		}
		if t := s.tokens.RefreshTokenExpiry(); !t.IsZero() {
			st.RefreshTokenExpiresAt = &t
		}
	}
	return st
}

// IsAccessTokenStale reports whether now+skew has reached the access token expiry,
// or no token is loaded.
func (s *Session) IsAccessTokenStale(skew time.Duration) bool {
	s.mu.Lock()
	defer s.unlock()
	return s.tokens.AccessTokenStale(s.now(), skew)
}

// AuthorizationURL starts (or resumes) an authorization attempt and returns the
// URL the user must visit. While a code is already awaited the same PKCE
// challenge is reused, so an earlier link stays valid. An empty state is
// generated, or reuses the state of the pending attempt.
func (s *Session) AuthorizationURL(scope, state string) (string, error) {
	s.mu.Lock()
	defer s.unlock()

	s.recoverLocked()

	switch s.state {
	case StateAuthenticated, StateRefreshing:
		return "", ErrAlreadyAuthenticated
	case StateWaitingForAuthorizationCode, StateWaitingForToken:
		if s.pending != nil {
			if state != "" {
				s.pending.state = state
			}
			return s.buildURL(s.pending, scope), nil
		}
	}

	ch, err := s.generator.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate PKCE challenge: %w", err)
	}
	if state == "" {
		state = GenerateState()
	}
	s.pending = &pendingAuthorization{challenge: ch, state: state, issuedAt: s.now()}
	s.setStateLocked(StateWaitingForAuthorizationCode)

	s.logger.WithField("redirect_uri", s.cfg.RedirectURI).Info("authorization started")
	return s.buildURL(s.pending, scope), nil
}

func (s *Session) buildURL(p *pendingAuthorization, scope string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(p.challenge.Verifier)}
	if scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", scope))
	}
	return s.oauth.AuthCodeURL(p.state, opts...)
}

// PendingState returns the state parameter of the outstanding authorization, if any.
func (s *Session) PendingState() (string, bool) {
	s.mu.Lock()
	defer s.unlock()
	if s.pending == nil {
		return "", false
	}
	return s.pending.state, true
}

// HandleCallback validates the redirect state and exchanges the code.
func (s *Session) HandleCallback(ctx context.Context, code, state string) (*token.TokenSet, error) {
	expected, ok := s.PendingState()
	if !ok {
		return nil, ErrNoAuthorizationPending
	}
	if state != expected {
		s.logger.Warn("callback state mismatch")
		return nil, ErrStateMismatch
	}
	return s.ExchangeCode(ctx, code)
}

// ExchangeCode trades an authorization code for tokens using the pending
// verifier. A rejected exchange leaves the session in ERROR.
func (s *Session) ExchangeCode(ctx context.Context, code string) (*token.TokenSet, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.recoverLocked()
	if s.state != StateWaitingForAuthorizationCode || s.pending == nil {
		s.unlock()
		return nil, ErrNoAuthorizationPending
	}
	verifier := s.pending.challenge.Verifier
	s.setStateLocked(StateWaitingForToken)
	s.unlock()

	start := s.now()
	tok, err := s.oauth.Exchange(s.clientContext(ctx), code, oauth2.VerifierOption(verifier))

	s.mu.Lock()
	defer s.unlock()

	if err != nil {
		xerr := newExchangeError(err)
		metrics.RecordExchangeFailure(exchangeReason(xerr))
		s.failLocked(xerr)
		s.logger.WithFields(log.Fields{
			"status": xerr.Status,
			"reason": exchangeReason(xerr),
		}).Error("code exchange failed")
		return nil, xerr
	}

	ts := tokenSetFromOAuth(tok, s.now())
	ts.CodeVerifier = verifier
	s.tokens = ts
	s.pending = nil
	s.lastError = ""
	s.persistLocked(ctx, ts)
	s.setStateLocked(StateAuthenticated)
	metrics.RecordExchangeSuccess()

	s.logger.WithFields(log.Fields{
		"access_token_expires_at": ts.AccessTokenExpiry().Format(time.RFC3339),
		"duration":                s.now().Sub(start).String(),
	}).Info("authorization code exchanged")
	return ts.Clone(), nil
}

// EnsureFresh refreshes the access token if it is stale. Without a refresh
// token it fails with ErrAuthRequired once the access token has expired.
func (s *Session) EnsureFresh(ctx context.Context) error {
	_, err := s.ensureFresh(ctx, s.cfg.AccessTokenSkew)
	return err
}

// EnsureFreshFor is EnsureFresh with the staleness window widened by horizon,
// so the token stays valid for at least that long.
func (s *Session) EnsureFreshFor(ctx context.Context, horizon time.Duration) error {
	_, err := s.ensureFresh(ctx, s.cfg.AccessTokenSkew+horizon)
	return err
}

// AccessToken returns a bearer token valid beyond the access-token skew.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	ts, err := s.ensureFresh(ctx, s.cfg.AccessTokenSkew)
	if err != nil {
		return "", err
	}
	if ts == nil || ts.AccessToken == "" {
		return "", ErrAuthRequired
	}
	return ts.AccessToken, nil
}

func (s *Session) ensureFresh(ctx context.Context, skew time.Duration) (*token.TokenSet, error) {
	s.mu.Lock()
	s.recoverLocked()
	cur := s.tokens.Clone()
	stale := cur.AccessTokenStale(s.now(), skew)
	s.unlock()

	if !stale {
		return cur, nil
	}
	if cur == nil || cur.RefreshToken == "" {
		return s.withoutRefresh()
	}
	return s.shared(ctx, fmt.Sprintf("ensure:%d", skew), func(ctx context.Context) (*token.TokenSet, error) {
		return s.doRefresh(ctx, true, skew)
	})
}

// Refresh exchanges the refresh token for a new token set regardless of
// access-token staleness. Without a refresh token it logs and does nothing.
func (s *Session) Refresh(ctx context.Context) (*token.TokenSet, error) {
	return s.shared(ctx, "refresh", func(ctx context.Context) (*token.TokenSet, error) {
		return s.doRefresh(ctx, false, 0)
	})
}

// shared coalesces concurrent callers onto one flight. The flight runs
// detached from any single caller's cancellation.
func (s *Session) shared(ctx context.Context, key string, fn func(context.Context) (*token.TokenSet, error)) (*token.TokenSet, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (any, error) {
		return fn(flightCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		ts, _ := res.Val.(*token.TokenSet)
		return ts.Clone(), res.Err
	}
}

func (s *Session) doRefresh(ctx context.Context, onlyIfStale bool, skew time.Duration) (*token.TokenSet, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.recoverLocked()
	now := s.now()
	cur := s.tokens.Clone()

	// Another caller may have refreshed while this one waited for opMu.
	if onlyIfStale && !cur.AccessTokenStale(now, skew) {
		s.unlock()
		return cur, nil
	}
	if cur == nil || cur.RefreshToken == "" {
		s.unlock()
		if onlyIfStale {
			return s.withoutRefresh()
		}
		s.logger.Warn("refresh skipped: no refresh token available")
		return cur, nil
	}
	if cur.RefreshTokenExpired(now, s.cfg.RefreshTokenSkew) {
		defer s.unlock()
		metrics.RecordTokenRefreshFailure("refresh_token_expired")
		s.logger.WithField("refresh_token_expires_at", cur.RefreshTokenExpiry().Format(time.RFC3339)).
			Warn("refresh token expired, re-authorization required")
		s.failRefreshLocked(ErrRefreshTokenExpired)
		return nil, ErrRefreshTokenExpired
	}
	// A session waiting for an authorization code keeps that state while
	// it refreshes in the background.
	awaitingCode := s.state == StateWaitingForAuthorizationCode
	if !awaitingCode {
		s.setStateLocked(StateRefreshing)
	}
	s.unlock()

	start := time.Now()
	next, err := s.requestRefresh(ctx, cur)
	metrics.TokenRefreshDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	defer s.unlock()

	if err != nil {
		var rerr *RefreshError
		reason := "network"
		if errors.As(err, &rerr) && rerr.Status != 0 {
			reason = fmt.Sprintf("status_%d", rerr.Status)
		}
		metrics.RecordTokenRefreshFailure(reason)

		fields := log.Fields{"reason": reason}
		if !cur.AccessTokenStale(s.now(), 0) {
			// The current access token still works; keep the session and let the next tick retry.
			s.lastError = err.Error()
			if !awaitingCode {
				s.setStateLocked(StateAuthenticated)
			}
			s.logger.WithFields(fields).WithError(err).Warn("token refresh failed, keeping current access token")
		} else {
			s.failRefreshLocked(err)
			s.logger.WithFields(fields).WithError(err).Error("token refresh failed")
		}
		return nil, err
	}

	next.Normalize(s.now())
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
		if next.RefreshTokenExpiresAt == 0 {
			next.RefreshTokenExpiresAt = cur.RefreshTokenExpiresAt
		}
	}
	if next.CodeVerifier == "" {
		next.CodeVerifier = cur.CodeVerifier
	}

	s.tokens = next
	s.pending = nil
	s.lastError = ""
	s.persistLocked(ctx, next)
	s.setStateLocked(StateAuthenticated)
	metrics.RecordTokenRefreshSuccess()

	s.logger.WithFields(log.Fields{
		"access_token_expires_at":  next.AccessTokenExpiry().Format(time.RFC3339),
		"refresh_token_rotated":    next.RefreshToken != cur.RefreshToken,
		"refresh_token_expires_at": formatExpiry(next.RefreshTokenExpiry()),
	}).Info("token refreshed")
	return next.Clone(), nil
}

// Logout discards the tokens in memory and in the store.
func (s *Session) Logout(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.unlock()

	s.tokens = nil
	s.pending = nil
	s.lastError = ""
	s.setStateLocked(StateNotAuthenticated)
	if err := s.store.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete stored tokens: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// recoverLocked moves ERROR back to NOT_AUTHENTICATED, discarding the failed session.
func (s *Session) recoverLocked() {
	if s.state != StateError {
		return
	}
	s.logger.WithField("last_error", s.lastError).Warn("recovering from auth error, discarding tokens")

	s.pending = nil
	s.discardTokensLocked()
	s.setStateLocked(StateNotAuthenticated)
}

// deadLocked reports whether the loaded access token has expired and there is
// no refresh token to replace it.
func (s *Session) deadLocked() bool {
	return s.tokens != nil && s.tokens.RefreshToken == "" && s.tokens.AccessTokenStale(s.now(), 0)
}

// expireLocked drops a dead token set; an AUTHENTICATED session falls back
// to NOT_AUTHENTICATED.
func (s *Session) expireLocked() {
	if !s.deadLocked() {
		return
	}
	s.logger.WithField("access_token_expires_at", s.tokens.AccessTokenExpiry().Format(time.RFC3339)).
		Warn("access token expired and no refresh token is available, re-authorization required")
	s.discardTokensLocked()
	if s.state == StateAuthenticated {
		s.setStateLocked(StateNotAuthenticated)
	}
}

// withoutRefresh serves a caller that needs a fresh token when none can be
// obtained: a token still inside its lifetime is returned as is, a dead one
// is discarded.
func (s *Session) withoutRefresh() (*token.TokenSet, error) {
	s.mu.Lock()
	defer s.unlock()

	s.expireLocked()
	if s.tokens == nil {
		return nil, ErrAuthRequired
	}
	return s.tokens.Clone(), nil
}

func (s *Session) discardTokensLocked() {
	s.tokens = nil
	if err := s.store.Delete(context.Background()); err != nil {
		s.logger.WithError(err).Warn("failed to delete stored tokens")
	}
}

func (s *Session) failLocked(err error) {
	s.lastError = err.Error()
	s.setStateLocked(StateError)
}

// failRefreshLocked is failLocked for refresh failures. A pending
// authorization survives: only the unusable tokens are dropped.
func (s *Session) failRefreshLocked(err error) {
	if s.state != StateWaitingForAuthorizationCode {
		s.failLocked(err)
		return
	}
	s.lastError = err.Error()
	s.discardTokensLocked()
}

func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.since = s.now()
	metrics.RecordTransition(to.String())
	s.logger.WithFields(log.Fields{"from": from, "to": to}).Debug("auth state changed")
	if len(s.listeners) > 0 {
		s.transitions = append(s.transitions, transition{from: from, to: to})
	}
}

// unlock releases mu and then delivers queued transitions to listeners.
func (s *Session) unlock() {
	queued := s.transitions
	s.transitions = nil
	s.mu.Unlock()

	for _, t := range queued {
		for _, fn := range s.listeners {
			fn(t.from, t.to)
		}
	}
}

func (s *Session) persistLocked(ctx context.Context, ts *token.TokenSet) {
	if err := s.store.Save(ctx, ts); err != nil {
		s.logger.WithError(err).Error("failed to persist tokens, keeping them in memory")
	}
}

func (s *Session) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(time.RFC3339)
}
