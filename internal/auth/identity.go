// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is a registered account and its credential material.
type Identity struct {
	ID           ulid.ULID
	Email        string
	Role         string
	PasswordHash []byte
	Salt         []byte

	// Durable mirror of the attempt state, used by stores that keep lockout
	// state next to the identity.
	FailedAttempts int
	AccountLocked  bool
	LockedAt       *time.Time

	// ResetTokenHash is the SHA-256 hex digest of the outstanding reset token.
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewIdentity creates an Identity with a fresh ID. The email is normalized and
// the role defaults to RoleUser.
func NewIdentity(email, role string, passwordHash, salt []byte) (*Identity, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code(KindValidation.String()).With("field", "email").Wrap(ErrValidation)
	}
	if len(passwordHash) == 0 || len(salt) == 0 {
		return nil, oops.Code(KindInternal.String()).Errorf("credential material is required")
	}
	if role == "" {
		role = RoleUser
	}
	now := time.Now()
	return &Identity{
		ID:           ulid.Make(),
		Email:        email,
		Role:         role,
		PasswordHash: passwordHash,
		Salt:         salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasPendingReset reports whether a reset token is outstanding and unexpired.
func (i *Identity) HasPendingReset(now time.Time) bool {
	return i.ResetTokenHash != "" && i.ResetTokenExpiresAt != nil && now.Before(*i.ResetTokenExpiresAt)
}

// ResetTokenMatches compares token against the stored digest in constant time.
func (i *Identity) ResetTokenMatches(token string) bool {
	if i.ResetTokenHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashResetToken(token)), []byte(i.ResetTokenHash)) == 1
}

// ClearReset removes any outstanding reset token.
func (i *Identity) ClearReset() {
	i.ResetTokenHash = ""
	i.ResetTokenExpiresAt = nil
}

// HashResetToken returns the hex SHA-256 digest under which a reset token is stored.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IdentityRepository manages identity persistence.
type IdentityRepository interface {
	// Create stores a new identity. Returns ErrEmailTaken if the email is in use.
	Create(ctx context.Context, identity *Identity) error

	// GetByID retrieves an identity by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)

	// GetByEmail retrieves an identity by email (case-insensitive).
	// Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// Save updates an existing identity and returns the persisted form.
	Save(ctx context.Context, identity *Identity) (*Identity, error)

	// ConsumeReset replaces the credential of identity id and clears its reset
	// token in one step, provided the stored token digest still equals
	// tokenHash and expires after now. Returns ErrResetConsumed otherwise, so
	// a token is redeemed at most once.
	ConsumeReset(ctx context.Context, id ulid.ULID, tokenHash string, passwordHash, salt []byte, now time.Time) (*Identity, error)
}
