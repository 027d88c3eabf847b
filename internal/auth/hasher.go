// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"runtime"

	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/semaphore"
)

// PBKDF2 parameters.
const (
	DefaultIterations = 310000
	KeyLength         = 32
	SaltLength        = 16
)

// ErrEmptySecret is returned when attempting to hash an empty secret.
var ErrEmptySecret = oops.Code(KindValidation.String()).
	With("field", "secret").
	Wrap(ErrValidation)

// PasswordHasher derives and checks salted credential digests.
type PasswordHasher interface {
	// Hash derives a digest from secret and salt. Deterministic for equal inputs.
	Hash(ctx context.Context, secret string, salt []byte) ([]byte, error)

	// Verify recomputes the digest and compares it in constant time.
	Verify(ctx context.Context, secret string, salt, digest []byte) (bool, error)

	// NewSalt returns SaltLength random bytes.
	NewSalt() ([]byte, error)
}

// PBKDF2Hasher implements PasswordHasher with PBKDF2-HMAC-SHA256. Concurrent
// derivations are bounded so a burst of logins cannot starve the process.
type PBKDF2Hasher struct {
	iterations int
	sem        *semaphore.Weighted
}

// HasherOption configures a PBKDF2Hasher.
type HasherOption func(*PBKDF2Hasher)

// WithIterations overrides the round count. Production code keeps the default.
func WithIterations(n int) HasherOption {
	return func(h *PBKDF2Hasher) {
		if n > 0 {
			h.iterations = n
		}
	}
}

// WithHashConcurrency bounds how many derivations run at once.
func WithHashConcurrency(n int) HasherOption {
	return func(h *PBKDF2Hasher) {
		if n > 0 {
			h.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewPBKDF2Hasher creates a hasher with one slot per available CPU.
func NewPBKDF2Hasher(opts ...HasherOption) *PBKDF2Hasher {
	h := &PBKDF2Hasher{
		iterations: DefaultIterations,
		sem:        semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash derives a KeyLength digest. It blocks only the calling goroutine and
// gives up if ctx ends while waiting for a slot.
func (h *PBKDF2Hasher) Hash(ctx context.Context, secret string, salt []byte) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if len(salt) == 0 {
		return nil, oops.Code(KindInternal.String()).Errorf("salt cannot be empty")
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, upstream("acquire hash slot", err)
	}
	defer h.sem.Release(1)

	return pbkdf2.Key([]byte(secret), salt, h.iterations, KeyLength, sha256.New), nil
}

// Verify reports whether secret derives to digest under salt.
func (h *PBKDF2Hasher) Verify(ctx context.Context, secret string, salt, digest []byte) (bool, error) {
	computed, err := h.Hash(ctx, secret, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(computed, digest) == 1, nil
}

// NewSalt returns SaltLength bytes from crypto/rand.
func (h *PBKDF2Hasher) NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}
	return salt, nil
}
