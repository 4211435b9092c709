// Package auth is the Auth collaborator spec.md treats as external: it
// authenticates a peer's handshake token and authorizes an HTTP caller's
// API key against a target client ID. The default implementation validates
// signed JWTs the way the teacher's server/internal/handlers/auth.go issues
// them, rehomed behind the interface the relay core actually needs.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the peer or caller behind a token.
type Claims struct {
	APIKey string
}

// Authenticator validates peer handshake tokens and authorizes HTTP callers.
type Authenticator interface {
	// Authenticate validates a peer's handshake token and returns the
	// API key it is bound to.
	Authenticate(token string) (Claims, error)
	// Authorize checks whether apiKey is permitted to address targetClientID.
	// The default implementation permits any non-empty key to address any
	// client and rejects an empty key; deployments that need per-client ACLs implement their own.
	Authorize(apiKey, targetClientID string) error
}

var ErrInvalidToken = errors.New("invalid token")

type jwtClaims struct {
	APIKey string `json:"apiKey"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator builds an Authenticator backed by golang-jwt/v5.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || claims.APIKey == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{APIKey: claims.APIKey}, nil
}

func (a *JWTAuthenticator) Authorize(apiKey, targetClientID string) error {
	if apiKey == "" {
		return ErrInvalidToken
	}
	return nil
}

// IssueToken mints a token for apiKey, used by tests and local tooling; the
// production issuance path lives outside this relay (spec.md §1, "Out of
// scope: Authentication / API-key validation").
func (a *JWTAuthenticator) IssueToken(apiKey string, ttl time.Duration) (string, error) {
	claims := jwtClaims{
		APIKey: apiKey,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// StaticAuthenticator treats the handshake token itself as the API key,
// with no signature check — useful for local development and tests.
type StaticAuthenticator struct{}

func (StaticAuthenticator) Authenticate(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{APIKey: token}, nil
}

func (StaticAuthenticator) Authorize(apiKey, targetClientID string) error {
	if apiKey == "" {
		return ErrInvalidToken
	}
	return nil
}
