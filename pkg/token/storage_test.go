package token

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"saxotrader/pkg/seal"
)

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestStorageSaveConvertsRelativeExpiry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	s := NewStorage(path, WithLogger(quietLogger()))

	before := time.Now().Unix()
	ts := &TokenSet{
		AccessToken:           "access",
		RefreshToken:          "refresh",
		ExpiresIn:             1200,
		RefreshTokenExpiresIn: 3600,
		CodeVerifier:          "verifier",
	}
	if err := s.Save(ctx, ts); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	after := time.Now().Unix()

	if ts.AccessTokenExpiresAt < before+1200 || ts.AccessTokenExpiresAt > after+1200 {
		t.Errorf("AccessTokenExpiresAt = %d, want within [%d, %d]", ts.AccessTokenExpiresAt, before+1200, after+1200)
	}
	if ts.RefreshTokenExpiresAt < before+3600 || ts.RefreshTokenExpiresAt > after+3600 {
		t.Errorf("RefreshTokenExpiresAt = %d, want within [%d, %d]", ts.RefreshTokenExpiresAt, before+3600, after+3600)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(raw), "expires_in") {
		t.Errorf("persisted file still contains a relative expiry: %s", raw)
	}

	var persisted map[string]any
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("persisted file is not JSON: %v", err)
	}
	for _, key := range []string{"access_token", "refresh_token", "access_token_expires_at", "refresh_token_expires_at"} {
		if _, ok := persisted[key]; !ok {
			t.Errorf("persisted file missing %q", key)
		}
	}
}

func TestStorageSaveUsesInjectedClock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewStorage(filepath.Join(t.TempDir(), "t.json"), WithLogger(quietLogger()), WithNowFunc(func() time.Time { return now }))

	ts := &TokenSet{AccessToken: "a", ExpiresIn: 1200}
	if err := s.Save(context.Background(), ts); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ts.AccessTokenExpiresAt != now.Unix()+1200 {
		t.Errorf("AccessTokenExpiresAt = %d, want %d", ts.AccessTokenExpiresAt, now.Unix()+1200)
	}
}

func TestStorageFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewStorage(path, WithLogger(quietLogger()))
	if err := s.Save(context.Background(), &TokenSet{AccessToken: "a", ExpiresIn: 60}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestStorageSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(filepath.Join(t.TempDir(), "tokens.json"), WithLogger(quietLogger()))

	if err := s.Save(ctx, &TokenSet{AccessToken: "first", RefreshToken: "r1", CodeVerifier: "v", ExpiresIn: 60}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, &TokenSet{AccessToken: "second", ExpiresIn: 60}); err != nil {
		t.Fatal(err)
	}

	got := s.Load(ctx)
	if got == nil {
		t.Fatal("Load() = nil")
	}
	if got.AccessToken != "second" || got.RefreshToken != "" || got.CodeVerifier != "" {
		t.Errorf("Load() = %+v, want only the second save", got)
	}
}

func TestStorageLoad(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		wantNil bool
	}{
		{name: "missing file", content: nil, wantNil: true},
		{name: "corrupt json", content: ptr("{not json"), wantNil: true},
		{name: "empty object", content: ptr("{}"), wantNil: true},
		{name: "sealed without key", content: ptr("sealed.v1.AAAA"), wantNil: true},
		{name: "valid", content: ptr(`{"access_token":"a","refresh_token":"r","access_token_expires_at":10,"refresh_token_expires_at":20}`), wantNil: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tokens.json")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0600); err != nil {
					t.Fatal(err)
				}
			}

			got := NewStorage(path, WithLogger(quietLogger())).Load(context.Background())
			if (got == nil) != tt.wantNil {
				t.Errorf("Load() = %+v, wantNil %v", got, tt.wantNil)
			}
		})
	}
}

func TestStorageSealed(t *testing.T) {
	ctx := context.Background()
	sealer, err := seal.NewSealer([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewStorage(path, WithLogger(quietLogger()), WithSealer(sealer))

	if err := s.Save(ctx, &TokenSet{AccessToken: "secret-access", ExpiresIn: 60}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "secret-access") {
		t.Error("sealed file contains the access token in clear text")
	}

	got := s.Load(ctx)
	if got == nil || got.AccessToken != "secret-access" {
		t.Errorf("Load() = %+v", got)
	}

	// A plain store cannot read sealed content.
	if plain := NewStorage(path, WithLogger(quietLogger())).Load(ctx); plain != nil {
		t.Errorf("plain Load() = %+v, want nil", plain)
	}
}

func TestStorageDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(filepath.Join(t.TempDir(), "tokens.json"), WithLogger(quietLogger()))

	if err := s.Delete(ctx); err != nil {
		t.Errorf("Delete() on missing file error = %v", err)
	}
	if err := s.Save(ctx, &TokenSet{AccessToken: "a", ExpiresIn: 60}); err != nil {
		t.Fatal(err)
	}
	if s.Load(ctx) == nil {
		t.Fatal("Load() = nil after Save")
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(s.path); !os.IsNotExist(err) {
		t.Errorf("token file still present after Delete: %v", err)
	}
}

func TestSaveNil(t *testing.T) {
	s := NewStorage(filepath.Join(t.TempDir(), "tokens.json"), WithLogger(quietLogger()))
	if err := s.Save(context.Background(), nil); err == nil {
		t.Error("Save(nil) expected error")
	}
}

func TestDefaultPath(t *testing.T) {
	for _, env := range []string{"sim", "live"} {
		p := DefaultPath(env)
		if !strings.HasSuffix(p, "saxo_tokens_"+env+".json") {
			t.Errorf("DefaultPath(%q) = %q", env, p)
		}
	}
	if DefaultPath("sim") == DefaultPath("live") {
		t.Error("sim and live share a token file")
	}
}

func ptr(s string) *string { return &s }
