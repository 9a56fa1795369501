package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"saxotrader/pkg/token"
)

// maxErrorBody caps how much of a failed token response is kept.
const maxErrorBody = 4 << 10

type tokenResponse struct {
	AccessToken           string      `json:"access_token"`
	TokenType             string      `json:"token_type"`
	RefreshToken          string      `json:"refresh_token"`
	ExpiresIn             json.Number `json:"expires_in"`
	RefreshTokenExpiresIn json.Number `json:"refresh_token_expires_in"`
}

// requestRefresh posts a refresh_token grant. The returned set still carries
// relative lifetimes; the caller normalizes it.
func (s *Session) requestRefresh(ctx context.Context, cur *token.TokenSet) (*token.TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cur.RefreshToken},
	}
	if s.cfg.RefreshRequiresVerifier && cur.CodeVerifier != "" {
		form.Set("code_verifier", cur.CodeVerifier)
	}
	if s.cfg.ClientSecret != "" {
		form.Set("client_id", s.cfg.ClientID)
		form.Set("client_secret", s.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &RefreshError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RefreshError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &RefreshError{Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return nil, &RefreshError{Err: errors.New("token response missing access_token")}
	}

	return &token.TokenSet{
		AccessToken:           tr.AccessToken,
		RefreshToken:          tr.RefreshToken,
		TokenType:             tr.TokenType,
		ExpiresIn:             numberSeconds(tr.ExpiresIn),
		RefreshTokenExpiresIn: numberSeconds(tr.RefreshTokenExpiresIn),
	}, nil
}

// tokenSetFromOAuth converts an exchange result, folding relative lifetimes
// into absolute expiries at now.
func tokenSetFromOAuth(tok *oauth2.Token, now time.Time) *token.TokenSet {
	ts := &token.TokenSet{
		AccessToken:           tok.AccessToken,
		RefreshToken:          tok.RefreshToken,
		TokenType:             tok.TokenType,
		ExpiresIn:             extraSeconds(tok, "expires_in"),
		RefreshTokenExpiresIn: extraSeconds(tok, "refresh_token_expires_in"),
	}
	if ts.ExpiresIn == 0 && tok.ExpiresIn > 0 {
		ts.ExpiresIn = tok.ExpiresIn
	}
	if ts.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		ts.AccessTokenExpiresAt = tok.Expiry.Unix()
	}
	ts.Normalize(now)
	return ts
}

func extraSeconds(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		return numberSeconds(v)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}

func numberSeconds(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return int64(f)
}

func newExchangeError(err error) *ExchangeError {
	xerr := &ExchangeError{Err: err}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil {
			xerr.Status = rerr.Response.StatusCode
		}
		body := rerr.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		xerr.Body = strings.TrimSpace(string(body))
	}
	return xerr
}

func exchangeReason(e *ExchangeError) string {
	if e.Status != 0 {
		return fmt.Sprintf("status_%d", e.Status)
	}
	return "network"
}
