package relay

import (
	"crypto/subtle"

	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated relay caller. Name is
// the caller identity used for credential resolution; the bearer token
// itself is never forwarded upstream.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming relay requests.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates callers against a static token list
// using constant-time comparison to prevent timing attacks.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{
		entries: make([]authEntry, len(tokens)),
	}
	for i, t := range tokens {
		a.entries[i] = authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name},
		}
	}
	return a
}

// Authenticate returns caller info if the token is valid. With no tokens
// configured the relay is open and every caller shares one identity.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if len(s.entries) == 0 {
		return &ClientInfo{Name: "anonymous"}, nil
	}
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.ErrAuthInvalid
}
