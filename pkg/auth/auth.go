// Package auth resolves bearer tokens to named principals. Tokens are kept
// as argon2id hashes in a YAML file; raw values are only shown once.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

var (
	ErrUnauthorized = errors.New("auth: invalid or missing token")
	ErrNoTokens     = errors.New("auth: no tokens configured")
)

const saltLength = 16

// GenerateToken generates a random token string (32 bytes, hex encoded).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken hashes a raw token using Argon2id.
func HashToken(token string, salt []byte) []byte {
	return argon2.IDKey([]byte(token), salt, 1, 64*1024, 4, 32)
}

// NewAPIToken creates a token entry for name and role and returns it with
// the raw token value.
func NewAPIToken(name string, role model.Role) (model.APIToken, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.APIToken{}, "", fmt.Errorf("auth: token name is required")
	}
	if !role.Valid() {
		return model.APIToken{}, "", fmt.Errorf("auth: invalid role %d", role)
	}
	raw, err := GenerateToken()
	if err != nil {
		return model.APIToken{}, "", err
	}
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return model.APIToken{}, "", fmt.Errorf("auth: generate salt: %w", err)
	}
	return model.APIToken{
		Name: name,
		Role: role,
		Salt: hex.EncodeToString(salt),
		Hash: hex.EncodeToString(HashToken(raw, salt)),
	}, raw, nil
}

// Principal is an authenticated caller.
type Principal struct {
	Name string
	Role model.Role
}

type entry struct {
	principal Principal
	salt      []byte
	hash      []byte
}

// Authenticator verifies bearer tokens. Argon2 is deliberately slow, so a
// verified token is remembered by its SHA-256 digest.
type Authenticator struct {
	entries []entry
	cache   sync.Map // sha256 hex -> Principal
}

// NewAuthenticator decodes the configured tokens.
func NewAuthenticator(tokens []model.APIToken) (*Authenticator, error) {
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}
	a := &Authenticator{entries: make([]entry, 0, len(tokens))}
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if seen[t.Name] {
			return nil, fmt.Errorf("auth: duplicate token name %q", t.Name)
		}
		seen[t.Name] = true
		salt, err := hex.DecodeString(t.Salt)
		if err != nil || len(salt) == 0 {
			return nil, fmt.Errorf("auth: token %q: bad salt", t.Name)
		}
		hash, err := hex.DecodeString(t.Hash)
		if err != nil || len(hash) == 0 {
			return nil, fmt.Errorf("auth: token %q: bad hash", t.Name)
		}
		a.entries = append(a.entries, entry{
			principal: Principal{Name: t.Name, Role: t.Role},
			salt:      salt,
			hash:      hash,
		})
	}
	return a, nil
}

// Authenticate resolves a raw token to its principal.
func (a *Authenticator) Authenticate(raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, ErrUnauthorized
	}
	digest := sha256.Sum256([]byte(raw))
	key := hex.EncodeToString(digest[:])
	if p, ok := a.cache.Load(key); ok {
		return p.(Principal), nil
	}
	for _, e := range a.entries {
		if subtle.ConstantTimeCompare(HashToken(raw, e.salt), e.hash) == 1 {
			a.cache.Store(key, e.principal)
			return e.principal, nil
		}
	}
	return Principal{}, ErrUnauthorized
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
