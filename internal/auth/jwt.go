// Package auth resolves connection credentials to user identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/parley/internal/chat"
)

// IdentityResolver maps a credential presented at connect time to a user id.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, credential string) (string, error)
}

// JWTConfig configures HMAC-signed bearer token verification.
type JWTConfig struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

// JWTResolver verifies HS256 tokens whose subject is the user id.
type JWTResolver struct {
	cfg JWTConfig
}

// NewJWTResolver validates cfg and returns a resolver.
func NewJWTResolver(cfg JWTConfig) (*JWTResolver, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JWTResolver{cfg: cfg}, nil
}

// ResolveIdentity returns the token subject. Every failure wraps chat.ErrAuthFailed.
func (r *JWTResolver) ResolveIdentity(_ context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", fmt.Errorf("%w: missing credential", chat.ErrAuthFailed)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.cfg.Now),
	}
	if r.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.cfg.Issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return r.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", chat.ErrAuthFailed, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: token has no subject", chat.ErrAuthFailed)
	}
	return sub, nil
}
