// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/audit"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// Session is the result of a successful login or registration.
type Session struct {
	Identity  *Identity
	Token     string
	ExpiresAt time.Time
}

// LogoutResult tells the transport what to do with the client's token.
type LogoutResult struct {
	// ClearCookie is always true: tokens are stateless, so logging out means
	// the client discards its copy.
	ClearCookie bool
}

// Service is the entry point for authentication operations.
type Service struct {
	identities IdentityRepository
	hasher     PasswordHasher
	verifier   *CredentialVerifier
	tokens     *TokenIssuer
	resets     *ResetFlow
	audit      AuditSink
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a Service. All collaborators are required.
func NewService(
	identities IdentityRepository,
	hasher PasswordHasher,
	verifier *CredentialVerifier,
	tokens *TokenIssuer,
	resets *ResetFlow,
	opts ...Option,
) (*Service, error) {
	if identities == nil {
		return nil, oops.Errorf("identity repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if verifier == nil {
		return nil, oops.Errorf("credential verifier is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if resets == nil {
		return nil, oops.Errorf("reset flow is required")
	}
	o := buildOptions(opts)
	return &Service{
		identities: identities,
		hasher:     hasher,
		verifier:   verifier,
		tokens:     tokens,
		resets:     resets,
		audit:      o.audit,
		logger:     o.logger,
		now:        o.clock,
	}, nil
}

// Login verifies the credential and mints a session token.
func (s *Service) Login(ctx context.Context, email, secret string) (*Session, error) {
	identity, err := s.verifier.Authenticate(ctx, email, secret)
	if err != nil {
		return nil, s.report(ctx, "login failed", err)
	}
	session, err := s.issue(identity)
	if err != nil {
		return nil, s.report(ctx, "login failed", err)
	}
	return session, nil
}

// Logout always succeeds. When the token still verifies the logout is
// audited against its subject.
func (s *Service) Logout(ctx context.Context, token string) LogoutResult {
	if claims, err := s.tokens.Verify(token); err == nil {
		s.audit.Record(ctx, audit.Event{
			Actor:     claims.Email,
			Action:    audit.ActionLogout,
			Outcome:   OutcomeSuccess,
			Timestamp: s.now(),
		})
	}
	return LogoutResult{ClearCookie: true}
}

// CheckSession verifies token and returns its claims.
func (s *Service) CheckSession(_ context.Context, token string) (*Claims, error) {
	return s.tokens.Verify(token)
}

// Profile returns the identity named by id.
func (s *Service) Profile(ctx context.Context, id ulid.ULID) (*Identity, error) {
	identity, err := s.identities.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// A verified token naming a deleted identity is no longer usable.
			return nil, invalidToken(err)
		}
		return nil, s.report(ctx, "profile lookup failed", upstream("get identity by id", err))
	}
	return identity, nil
}

// RequestReset starts the password reset flow for email.
func (s *Service) RequestReset(ctx context.Context, email string) (DeliveryResult, error) {
	result, err := s.resets.RequestReset(ctx, email)
	if err != nil {
		return DeliveryResult{}, s.report(ctx, "reset request failed", err)
	}
	return result, nil
}

// CompleteReset finishes the password reset flow.
func (s *Service) CompleteReset(ctx context.Context, email, token, newSecret string) (DeliveryResult, error) {
	result, err := s.resets.CompleteReset(ctx, email, token, newSecret)
	if err != nil {
		return DeliveryResult{}, s.report(ctx, "reset completion failed", err)
	}
	return result, nil
}

// Register creates an identity with RoleUser and logs it in. Self-service
// registration never grants another role.
func (s *Service) Register(ctx context.Context, email, secret string) (*Session, error) {
	email = NormalizeEmail(email)
	if err := validateInput(registerInput{Email: email, Secret: secret}); err != nil {
		return nil, err
	}
	salt, err := s.hasher.NewSalt()
	if err != nil {
		return nil, s.report(ctx, "registration failed", err)
	}
	digest, err := s.hasher.Hash(ctx, secret, salt)
	if err != nil {
		return nil, s.report(ctx, "registration failed", upstream("hash secret", err))
	}
	identity, err := NewIdentity(email, RoleUser, digest, salt)
	if err != nil {
		return nil, err
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, oops.Code(KindValidation.String()).
				With("fields", []string{"email:email_taken"}).
				Wrap(errors.Join(ErrValidation, err))
		}
		return nil, s.report(ctx, "registration failed", upstream("create identity", err))
	}
	s.audit.Record(ctx, audit.Event{
		Actor:     identity.Email,
		Action:    audit.ActionRegister,
		Outcome:   OutcomeSuccess,
		Timestamp: s.now(),
	})
	session, err := s.issue(identity)
	if err != nil {
		return nil, s.report(ctx, "registration failed", err)
	}
	return session, nil
}

func (s *Service) issue(identity *Identity) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(identity)
	if err != nil {
		return nil, err
	}
	return &Session{Identity: identity, Token: token, ExpiresAt: expiresAt}, nil
}

// report logs failures that are not the caller's fault once, at the service
// boundary, and returns err unchanged.
func (s *Service) report(ctx context.Context, msg string, err error) error {
	switch KindOf(err) {
	case KindUpstreamUnavailable, KindInternal:
		errutil.LogErrorContext(ctx, s.logger, msg, err)
	}
	return err
}
