// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/samber/oops"
)

// ErrNotFound is returned by repositories when a requested identity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned by repositories when an identity with the same
// email already exists.
var ErrEmailTaken = errors.New("email already registered")

// ErrResetConsumed is returned by IdentityRepository.ConsumeReset when the
// identity no longer holds the expected unexpired reset token.
var ErrResetConsumed = errors.New("reset token no longer outstanding")

// Kind is the coarse classification of an authentication failure. It is the
// only part of an error that crosses the transport boundary.
type Kind string

// Error kinds. The string value doubles as the oops error code.
const (
	KindNone                Kind = ""
	KindInvalidCredentials  Kind = "AUTH_INVALID_CREDENTIALS"
	KindAccountLocked       Kind = "AUTH_ACCOUNT_LOCKED"
	KindInvalidToken        Kind = "AUTH_INVALID_TOKEN"
	KindInvalidResetToken   Kind = "AUTH_INVALID_RESET_TOKEN"
	KindUpstreamUnavailable Kind = "AUTH_UPSTREAM_UNAVAILABLE"
	KindValidation          Kind = "AUTH_VALIDATION"
	KindInternal            Kind = "AUTH_INTERNAL"
)

// Sentinels carried inside every coded error so that classification survives
// further wrapping.
var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountLocked       = errors.New("account is temporarily locked")
	ErrInvalidToken        = errors.New("invalid session token")
	ErrInvalidResetToken   = errors.New("invalid or expired reset token")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrValidation          = errors.New("invalid input")
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindAccountLocked, ErrAccountLocked},
	{KindInvalidCredentials, ErrInvalidCredentials},
	{KindInvalidToken, ErrInvalidToken},
	{KindInvalidResetToken, ErrInvalidResetToken},
	{KindValidation, ErrValidation},
	{KindUpstreamUnavailable, ErrUpstreamUnavailable},
}

// KindOf classifies err. Errors that carry none of the kind sentinels are
// KindInternal; a nil error is KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindInternal
}

// HTTPStatus maps a kind to its response status class.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNone:
		return http.StatusOK
	case KindInvalidCredentials, KindAccountLocked, KindInvalidToken, KindInvalidResetToken:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// String returns the kind's code.
func (k Kind) String() string {
	return string(k)
}

// LockRemaining extracts the remaining lockout time from an AccountLocked error.
func LockRemaining(err error) (time.Duration, bool) {
	if KindOf(err) != KindAccountLocked {
		return 0, false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	remaining, ok := oopsErr.Context()["remaining"].(time.Duration)
	return remaining, ok
}

func invalidCredentials() error {
	return oops.Code(KindInvalidCredentials.String()).Wrap(ErrInvalidCredentials)
}

func accountLocked(remaining time.Duration) error {
	return oops.Code(KindAccountLocked.String()).
		With("remaining", remaining).
		Wrap(ErrAccountLocked)
}

func invalidToken(cause error) error {
	if cause == nil {
		return oops.Code(KindInvalidToken.String()).Wrap(ErrInvalidToken)
	}
	return oops.Code(KindInvalidToken.String()).Wrap(errors.Join(ErrInvalidToken, cause))
}

func invalidResetToken(reason string) error {
	return oops.Code(KindInvalidResetToken.String()).
		With("reason", reason).
		Wrap(ErrInvalidResetToken)
}

// upstream wraps a collaborator failure. Errors that are already classified
// as upstream failures pass through unchanged.
func upstream(operation string, err error) error {
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return oops.Code(KindUpstreamUnavailable.String()).
		With("operation", operation).
		Wrap(errors.Join(ErrUpstreamUnavailable, err))
}
