package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"saxotrader/pkg/pkce"
)

const (
	DefaultAccessTokenSkew  = 60 * time.Second
	DefaultRefreshTokenSkew = 30 * time.Second
	DefaultHTTPTimeout      = 30 * time.Second
)

// Config holds the client registration and token policy for one environment.
type Config struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	AuthEndpoint  string
	TokenEndpoint string
	Scopes        []string

	// AccessTokenSkew and RefreshTokenSkew are checked independently.
	AccessTokenSkew  time.Duration
	RefreshTokenSkew time.Duration

	// RefreshRequiresVerifier sends the original code_verifier with refresh requests.
	RefreshRequiresVerifier bool
}

// Validate checks that the registration fields are present.
func (c Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "redirect_uri")
	}
	if c.AuthEndpoint == "" {
		missing = append(missing, "auth_endpoint")
	}
	if c.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("auth config missing: %s", strings.Join(missing, ", "))
	}
	if c.AccessTokenSkew < 0 || c.RefreshTokenSkew < 0 {
		return fmt.Errorf("auth config: skew must not be negative")
	}
	return nil
}

func (c Config) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthEndpoint,
			TokenURL:  c.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Option customizes a Session.
type Option func(*Session)

// WithHTTPClient overrides the HTTP client used for token endpoint calls.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithNowFunc overrides the clock used for expiry calculations (testing).
func WithNowFunc(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGenerator overrides the PKCE generator.
func WithGenerator(g *pkce.Generator) Option {
	return func(s *Session) {
		if g != nil {
			s.generator = g
		}
	}
}

// WithStateListener registers fn to be called after every state change.
// fn runs with the session lock released and must not block for long.
func WithStateListener(fn func(from, to State)) Option {
	return func(s *Session) {
		if fn != nil {
			s.listeners = append(s.listeners, fn)
		}
	}
}

// GenerateState returns a fresh opaque value for the authorization state parameter.
func GenerateState() string {
	return uuid.NewString()
}
