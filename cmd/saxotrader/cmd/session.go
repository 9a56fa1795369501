package cmd

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"saxotrader/pkg/auth"
	"saxotrader/pkg/config"
	"saxotrader/pkg/gateway"
	"saxotrader/pkg/token"
)

// openStore builds the configured token store, sealed when an encryption
// key is set.
func openStore(cfg *config.Config) (token.Store, error) {
	opts := []token.Option{token.WithLogger(log.StandardLogger())}

	sealer, err := cfg.Sealer()
	if err != nil {
		return nil, fmt.Errorf("invalid token encryption key: %w", err)
	}
	if sealer != nil {
		opts = append(opts, token.WithSealer(sealer))
	}

	return token.NewStore(cfg.TokenStoreConfig(), opts...)
}

// openSession loads persisted tokens and returns a ready session.
func openSession(ctx context.Context, cfg *config.Config, opts ...auth.Option) (*auth.Session, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	base := []auth.Option{
		auth.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		auth.WithLogger(log.StandardLogger()),
	}
	session, err := auth.NewSession(ctx, cfg.AuthConfig(), store, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	return session, nil
}

func openGateway(cfg *config.Config, session *auth.Session) (*gateway.Client, error) {
	return gateway.New(cfg.BaseURL, session,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		gateway.WithLogger(log.StandardLogger()),
		gateway.WithRateLimit(cfg.APIRateLimit, cfg.APIRateBurst),
	)
}
