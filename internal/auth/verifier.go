// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/audit"
)

// dummySalt and dummyDigest are used when an identity does not exist so that
// unknown emails cost the same derivation as known ones. The digest never
// matches any secret.
var (
	dummySalt   = []byte("gatekeep-dummy-s")
	dummyDigest = make([]byte, KeyLength)
)

// CredentialVerifier checks an email and secret against the stored credential
// while enforcing the attempt guard.
type CredentialVerifier struct {
	identities IdentityRepository
	hasher     PasswordHasher
	guard      *AttemptGuard
	audit      AuditSink
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

// NewCredentialVerifier creates a verifier. All three collaborators are required.
func NewCredentialVerifier(identities IdentityRepository, hasher PasswordHasher, guard *AttemptGuard, opts ...Option) (*CredentialVerifier, error) {
	if identities == nil {
		return nil, oops.Errorf("identity repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if guard == nil {
		return nil, oops.Errorf("attempt guard is required")
	}
	o := buildOptions(opts)
	return &CredentialVerifier{
		identities: identities,
		hasher:     hasher,
		guard:      guard,
		audit:      o.audit,
		observer:   o.observer,
		logger:     o.logger,
		now:        o.clock,
	}, nil
}

// Authenticate returns the identity when secret matches. The attempt is
// reserved against the guard before hashing, so a locked key never reveals
// whether the secret was right and parallel guesses share one budget.
func (v *CredentialVerifier) Authenticate(ctx context.Context, email, secret string) (*Identity, error) {
	email = NormalizeEmail(email)
	if err := validateInput(loginInput{Email: email, Secret: secret}); err != nil {
		v.finish(ctx, email, OutcomeRejected, nil)
		return nil, err
	}

	identity, err := v.identities.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			v.finish(ctx, email, OutcomeError, map[string]string{"stage": "lookup"})
			return nil, upstream("get identity by email", err)
		}
		// Same derivation cost as a real check; the result is discarded.
		if _, hashErr := v.hasher.Verify(ctx, secret, dummySalt, dummyDigest); hashErr != nil {
			v.finish(ctx, email, OutcomeError, map[string]string{"stage": "hash"})
			return nil, upstream("verify secret", hashErr)
		}
		v.finish(ctx, email, OutcomeUnknownIdentity, nil)
		return nil, invalidCredentials()
	}

	reserved, err := v.guard.Reserve(ctx, email)
	if err != nil {
		v.finish(ctx, email, OutcomeError, map[string]string{"stage": "guard"})
		return nil, err
	}
	if reserved.Locked && !reserved.Tripped {
		v.finish(ctx, email, OutcomeLocked, map[string]string{"remaining": reserved.Remaining.String()})
		return nil, accountLocked(reserved.Remaining)
	}

	ok, err := v.hasher.Verify(ctx, secret, identity.Salt, identity.PasswordHash)
	if err != nil {
		if refundErr := v.guard.Refund(context.WithoutCancel(ctx), email, reserved); refundErr != nil {
			v.logger.WarnContext(ctx, "attempt refund failed", "error", refundErr)
		}
		v.finish(ctx, email, OutcomeError, map[string]string{"stage": "hash"})
		return nil, upstream("verify secret", err)
	}

	if ok {
		if err := v.guard.RecordSuccess(ctx, email); err != nil {
			v.finish(ctx, email, OutcomeError, map[string]string{"stage": "guard"})
			return nil, err
		}
		v.finish(ctx, email, OutcomeSuccess, nil)
		return identity, nil
	}

	// The reservation already counted this failure.
	if reserved.Tripped {
		v.observer.Lockout()
		v.logger.WarnContext(ctx, "identity locked after repeated failures",
			"attempts", reserved.Attempts,
			"remaining", reserved.Remaining,
		)
		v.finish(ctx, email, OutcomeLocked, map[string]string{"remaining": reserved.Remaining.String()})
		return nil, accountLocked(reserved.Remaining)
	}
	v.finish(ctx, email, OutcomeInvalid, nil)
	return nil, invalidCredentials()
}

func (v *CredentialVerifier) finish(ctx context.Context, actor, outcome string, detail map[string]string) {
	v.observer.LoginOutcome(outcome)
	v.audit.Record(ctx, audit.Event{
		Actor:     actor,
		Action:    audit.ActionLogin,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: v.now(),
	})
}
