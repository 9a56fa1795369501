// Package config loads the trader configuration from a YAML file, a .env
// file and SAXO_* environment variables, in increasing precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"saxotrader/pkg/auth"
	"saxotrader/pkg/scheduler"
	"saxotrader/pkg/seal"
	"saxotrader/pkg/token"
)

// Environment selects the broker's simulation or live stack.
type Environment string

const (
	EnvSim  Environment = "sim"
	EnvLive Environment = "live"
)

type endpoints struct {
	auth  string
	token string
	base  string
}

var environmentEndpoints = map[Environment]endpoints{
	EnvSim: {
		auth:  "https://sim.logonvalidation.net/authorize",
		token: "https://sim.logonvalidation.net/token",
		base:  "https://gateway.saxobank.com/sim/openapi",
	},
	EnvLive: {
		auth:  "https://live.logonvalidation.net/authorize",
		token: "https://live.logonvalidation.net/token",
		base:  "https://gateway.saxobank.com/openapi",
	},
}

// TokenStore configures token persistence.
type TokenStore struct {
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
	EncryptionKey string `yaml:"encryption_key"`
}

// Config is the full runtime configuration.
type Config struct {
	Environment   Environment `yaml:"environment"`
	ClientID      string      `yaml:"client_id"`
	ClientSecret  string      `yaml:"client_secret"`
	RedirectURI   string      `yaml:"redirect_uri"`
	AuthEndpoint  string      `yaml:"auth_endpoint"`
	TokenEndpoint string      `yaml:"token_endpoint"`
	BaseURL       string      `yaml:"base_url"`
	Scope         string      `yaml:"scope"`

	TokenStore TokenStore `yaml:"token_store"`

	RefreshInterval         time.Duration `yaml:"refresh_interval"`
	AccessTokenSkew         time.Duration `yaml:"access_token_skew"`
	RefreshTokenSkew        time.Duration `yaml:"refresh_token_skew"`
	RefreshRequiresVerifier bool          `yaml:"refresh_requires_verifier"`
	HTTPTimeout             time.Duration `yaml:"http_timeout"`

	ListenAddr   string        `yaml:"listen_addr"`
	PollCeiling  time.Duration `yaml:"poll_ceiling"`
	MisfireGrace time.Duration `yaml:"misfire_grace"`
	APIRateLimit float64       `yaml:"api_rate_limit"`
	APIRateBurst int           `yaml:"api_rate_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Accounts map[string]string `yaml:"accounts"`
	Orders   OrderList         `yaml:"orders"`
}

// Default returns the configuration used for keys that are not set.
func Default() Config {
	return Config{
		Environment:             EnvSim,
		TokenStore:              TokenStore{Type: string(token.StoreTypeFile)},
		RefreshInterval:         auth.DefaultRefreshInterval,
		AccessTokenSkew:         auth.DefaultAccessTokenSkew,
		RefreshTokenSkew:        auth.DefaultRefreshTokenSkew,
		RefreshRequiresVerifier: true,
		HTTPTimeout:             auth.DefaultHTTPTimeout,
		ListenAddr:              "127.0.0.1:8085",
		PollCeiling:             scheduler.DefaultPollCeiling,
		MisfireGrace:            scheduler.DefaultMisfireGrace,
		APIRateLimit:            2,
		APIRateBurst:            5,
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

// Load reads path (optional), applies .env and environment overrides, fills
// environment-derived defaults and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize derives environment defaults and resolves orders.
func (c *Config) finalize() error {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	ep, ok := environmentEndpoints[c.Environment]
	if !ok {
		return fmt.Errorf("environment: must be %q or %q, got %q", EnvSim, EnvLive, c.Environment)
	}
	if c.AuthEndpoint == "" {
		c.AuthEndpoint = ep.auth
	}
	if c.TokenEndpoint == "" {
		c.TokenEndpoint = ep.token
	}
	if c.BaseURL == "" {
		c.BaseURL = ep.base
	}
	if c.RedirectURI == "" {
		c.RedirectURI = "http://" + c.ListenAddr + "/callback"
	}
	if c.TokenStore.Path == "" {
		c.TokenStore.Path = token.DefaultPath(string(c.Environment))
	}

	return c.validate()
}

func (c *Config) validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client_id: required (or SAXO_CLIENT_ID)"))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, errors.New("refresh_interval: must be positive"))
	}
	if c.AccessTokenSkew < 0 {
		errs = append(errs, errors.New("access_token_skew: must not be negative"))
	}
	if c.RefreshTokenSkew < 0 {
		errs = append(errs, errors.New("refresh_token_skew: must not be negative"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http_timeout: must be positive"))
	}
	if c.PollCeiling <= 0 {
		errs = append(errs, errors.New("poll_ceiling: must be positive"))
	}
	switch token.StoreType(strings.ToLower(c.TokenStore.Type)) {
	case token.StoreTypeFile, "":
	case token.StoreTypeRedis:
		if c.TokenStore.RedisAddr == "" {
			errs = append(errs, errors.New("token_store.redis_addr: required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("token_store.type: unknown store %q", c.TokenStore.Type))
	}
	if c.TokenStore.EncryptionKey != "" {
		if _, err := c.Sealer(); err != nil {
			errs = append(errs, fmt.Errorf("token_store.encryption_key: %w", err))
		}
	}
	errs = append(errs, c.resolveOrders()...)
	return errors.Join(errs...)
}

// AuthConfig returns the session configuration.
func (c *Config) AuthConfig() auth.Config {
	var scopes []string
	if c.Scope != "" {
		scopes = strings.Fields(c.Scope)
	}
	return auth.Config{
		ClientID:                c.ClientID,
		ClientSecret:            c.ClientSecret,
		RedirectURI:             c.RedirectURI,
		AuthEndpoint:            c.AuthEndpoint,
		TokenEndpoint:           c.TokenEndpoint,
		Scopes:                  scopes,
		AccessTokenSkew:         c.AccessTokenSkew,
		RefreshTokenSkew:        c.RefreshTokenSkew,
		RefreshRequiresVerifier: c.RefreshRequiresVerifier,
	}
}

// TokenStoreConfig returns the token store configuration.
func (c *Config) TokenStoreConfig() token.Config {
	return token.Config{
		Type:          token.ParseStoreType(c.TokenStore.Type),
		Path:          c.TokenStore.Path,
		RedisAddr:     c.TokenStore.RedisAddr,
		RedisPassword: c.TokenStore.RedisPassword,
		RedisDB:       c.TokenStore.RedisDB,
		RedisKey:      c.TokenStore.RedisKey,
	}
}

// Sealer returns the token sealer, or nil when no encryption key is set.
// The key may be base64 encoded or raw.
func (c *Config) Sealer() (*seal.Sealer, error) {
	if c.TokenStore.EncryptionKey == "" {
		return nil, nil
	}
	key := []byte(c.TokenStore.EncryptionKey)
	if decoded, err := base64.StdEncoding.DecodeString(c.TokenStore.EncryptionKey); err == nil {
		key = decoded
	}
	return seal.NewSealer(key)
}
