// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinSecretBytes is the minimum signing secret length accepted by NewTokenIssuer.
const MinSecretBytes = 32

// Claims are the session token claims.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IdentityID parses the subject claim.
func (c *Claims) IdentityID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, invalidToken(err)
	}
	return id, nil
}

// TokenIssuer mints and verifies HS256 session tokens. The secret is copied
// at construction and only read afterwards, so an issuer is safe for
// concurrent use without locking.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenIssuer creates an issuer signing with secret.
func NewTokenIssuer(secret []byte, opts ...Option) (*TokenIssuer, error) {
	if len(secret) < MinSecretBytes {
		return nil, oops.Code("AUTH_TOKEN_SECRET_INVALID").
			With("min_bytes", MinSecretBytes).
			Errorf("token signing secret must be at least %d bytes", MinSecretBytes)
	}
	o := buildOptions(opts)
	return &TokenIssuer{
		secret: append([]byte(nil), secret...),
		ttl:    o.tokenTTL,
		issuer: o.issuer,
		now:    o.clock,
	}, nil
}

// TTL returns the token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue mints a token for identity and returns it with its expiry.
func (t *TokenIssuer) Issue(identity *Identity) (string, time.Time, error) {
	if identity == nil {
		return "", time.Time{}, oops.Errorf("identity is required")
	}
	now := t.now()
	claims := Claims{
		Role:  identity.Role,
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   identity.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").
			With("identity_id", identity.ID.String()).
			Wrap(err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, algorithm, issuer and expiry. Every failure is
// reported as KindInvalidToken.
func (t *TokenIssuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, invalidToken(nil)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, invalidToken(err)
	}
	if !parsed.Valid {
		return nil, invalidToken(nil)
	}
	return claims, nil
}
