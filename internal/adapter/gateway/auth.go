package gateway

import (
	"crypto/subtle"
	"fmt"

	"searchchat/internal/domain"
	"searchchat/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name      string
	SessionID string
	ThreadID  string
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// NewAuthenticator builds the authenticator selected by cfg.Type.
func NewAuthenticator(cfg config.AuthConfig) (Authenticator, error) {
	switch cfg.Type {
	case "":
		return OpenAuth{}, nil
	case "static":
		return NewStaticTokenAuth(cfg.Tokens), nil
	default:
		return nil, fmt.Errorf("gateway: unknown auth type %q", cfg.Type)
	}
}

// OpenAuth accepts every connection.
type OpenAuth struct{}

func (OpenAuth) Authenticate(string) (*ClientInfo, error) {
	return &ClientInfo{Name: "anonymous"}, nil
}

type authEntry struct {
	token []byte
	name  string
}

// StaticTokenAuth authenticates clients against a static token list using
// constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, len(tokens))}
	for i, t := range tokens {
		a.entries[i] = authEntry{token: []byte(t.Token), name: t.Name}
	}
	return a
}

// Authenticate returns a fresh ClientInfo if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if token == "" {
		return nil, domain.ErrGatewayAuthFailed
	}
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return &ClientInfo{Name: e.name}, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}
