// Package pkce produces RFC 7636 verifier/challenge pairs.
package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// verifierEntropy is the number of random bytes behind each verifier.
// 32 bytes encode to the 43-character minimum of RFC 7636 §4.1.
const verifierEntropy = 32

// Challenge is a PKCE verifier together with its S256 challenge.
type Challenge struct {
	Verifier  string
	Challenge string
}

// Generator creates challenges from an entropy source.
type Generator struct {
	entropy io.Reader
}

// NewGenerator returns a generator that reads entropy from r.
// A nil reader selects crypto/rand.
func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{entropy: r}
}

// Generate returns a fresh challenge.
func (g *Generator) Generate() (Challenge, error) {
	if g.entropy == rand.Reader {
		v := oauth2.GenerateVerifier()
		return Challenge{Verifier: v, Challenge: DeriveChallenge(v)}, nil
	}

	b := make([]byte, verifierEntropy)
	if _, err := io.ReadFull(g.entropy, b); err != nil {
		return Challenge{}, fmt.Errorf("failed to read verifier entropy: %w", err)
	}
	v := base64.RawURLEncoding.EncodeToString(b)
	return Challenge{Verifier: v, Challenge: DeriveChallenge(v)}, nil
}

// Generate returns a fresh challenge from crypto/rand.
func Generate() (Challenge, error) {
	return NewGenerator(nil).Generate()
}

// DeriveChallenge computes BASE64URL-NOPAD(SHA256(verifier)).
func DeriveChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
