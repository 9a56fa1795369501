package token

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"saxotrader/pkg/seal"
)

// Store persists the current token set.
//
// Load never fails: a missing or unreadable session is reported as nil.
// Save converts relative lifetimes to absolute expiries (mutating ts) before
// writing and replaces whatever was stored before.
type Store interface {
	Load(ctx context.Context) *TokenSet
	Save(ctx context.Context, ts *TokenSet) error
	Delete(ctx context.Context) error
}

// Option customizes a Storage or RedisStore.
type Option func(*options)

type options struct {
	sealer *seal.Sealer
	logger log.FieldLogger
	now    func() time.Time
}

func defaultOptions() options {
	return options{
		logger: log.StandardLogger(),
		now:    time.Now,
	}
}

// WithSealer encrypts persisted data with s.
func WithSealer(s *seal.Sealer) Option {
	return func(o *options) {
		o.sealer = s
	}
}

// WithLogger overrides the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNowFunc overrides the clock used for expiry conversion (testing).
func WithNowFunc(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Storage handles token persistence in a local file
type Storage struct {
	path string
	opts options
}

// NewStorage creates a new file-backed token store
func NewStorage(path string, opts ...Option) *Storage {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Storage{path: path, opts: o}
}

// DefaultPath returns the token file for an environment ("sim" or "live").
func DefaultPath(environment string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "saxotrader", fmt.Sprintf("saxo_tokens_%s.json", environment))
}

// Save writes ts to disk with owner-only permissions.
func (s *Storage) Save(_ context.Context, ts *TokenSet) error {
	if ts == nil {
		return fmt.Errorf("cannot save nil token set")
	}

	// Capture the clock once so both expiries share a base.
	ts.Normalize(s.opts.now())

	data, err := encode(ts, s.opts.sealer)
	if err != nil {
		return err
	}

	// Create directory with 0700 permissions (rwx for owner only)
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		return fmt.Errorf("failed to restrict token file permissions: %w", err)
	}

	s.opts.logger.WithFields(log.Fields{
		"path":                     s.path,
		"access_token_expires_at":  ts.AccessTokenExpiry().Format(time.RFC3339),
		"refresh_token_expires_at": formatExpiry(ts.RefreshTokenExpiry()),
	}).Info("tokens saved")
	return nil
}

// Load reads the token file. A missing, unreadable or corrupt file yields nil.
func (s *Storage) Load(_ context.Context) *TokenSet {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.opts.logger.WithField("path", s.path).Debug("no token file found")
			return nil
		}
		s.opts.logger.WithError(err).WithField("path", s.path).Warn("failed to read token file, treating as no session")
		return nil
	}

	ts, err := decode(data, s.opts.sealer)
	if err != nil {
		s.opts.logger.WithError(err).WithField("path", s.path).Warn("token file is corrupt, treating as no session")
		return nil
	}
	return ts
}

// Delete removes the token file
func (s *Storage) Delete(_ context.Context) error {
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

func encode(ts *TokenSet, sealer *seal.Sealer) ([]byte, error) {
	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tokens: %w", err)
	}
	if sealer == nil {
		return data, nil
	}
	sealed, err := sealer.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to seal tokens: %w", err)
	}
	return sealed, nil
}

func decode(data []byte, sealer *seal.Sealer) (*TokenSet, error) {
	if seal.IsSealed(data) {
		if sealer == nil {
			return nil, fmt.Errorf("token data is sealed but no encryption key is configured")
		}
		opened, err := sealer.Open(data)
		if err != nil {
			return nil, fmt.Errorf("failed to open sealed tokens: %w", err)
		}
		data = opened
	}

	var ts TokenSet
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tokens: %w", err)
	}
	if ts.AccessToken == "" {
		return nil, fmt.Errorf("token data has no access_token")
	}
	return &ts, nil
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(time.RFC3339)
}
