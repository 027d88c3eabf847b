// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/audit"
)

// ResetTokenBytes is the number of random bytes in a reset token. The token
// travels hex encoded.
const ResetTokenBytes = 48

// Reset mail subjects.
const (
	ResetRequestSubject  = "Reset your password"
	ResetCompleteSubject = "Your password was reset"
)

// Reset metric stages.
const (
	stageRequest  = "request"
	stageComplete = "complete"
)

// GenerateResetToken returns a random token and the digest under which it is stored.
func GenerateResetToken() (token, hash string, err error) {
	buf := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", oops.Code("AUTH_RESET_TOKEN_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(buf)
	return token, HashResetToken(token), nil
}

// ResetFlow issues single-use reset tokens by mail and replaces the
// credential when a valid token is presented.
type ResetFlow struct {
	identities IdentityRepository
	hasher     PasswordHasher
	mail       MailDispatcher
	audit      AuditSink
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
	ttl        time.Duration
	baseURL    string
}

// NewResetFlow creates a reset flow. All three collaborators are required.
func NewResetFlow(identities IdentityRepository, hasher PasswordHasher, mail MailDispatcher, opts ...Option) (*ResetFlow, error) {
	if identities == nil {
		return nil, oops.Errorf("identity repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if mail == nil {
		return nil, oops.Errorf("mail dispatcher is required")
	}
	o := buildOptions(opts)
	return &ResetFlow{
		identities: identities,
		hasher:     hasher,
		mail:       mail,
		audit:      o.audit,
		observer:   o.observer,
		logger:     o.logger,
		now:        o.clock,
		ttl:        o.resetTTL,
		baseURL:    strings.TrimRight(o.resetBase, "/"),
	}, nil
}

// RequestReset mails a reset link when email belongs to an identity. Unknown
// emails get the same empty success so the response does not reveal which
// addresses are registered.
func (f *ResetFlow) RequestReset(ctx context.Context, email string) (DeliveryResult, error) {
	email = NormalizeEmail(email)
	if err := validateInput(emailInput{Email: email}); err != nil {
		f.observer.ResetOutcome(stageRequest, OutcomeRejected)
		return DeliveryResult{}, err
	}

	identity, err := f.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			f.finish(ctx, email, stageRequest, OutcomeUnknownIdentity)
			return DeliveryResult{}, nil
		}
		f.finish(ctx, email, stageRequest, OutcomeError)
		return DeliveryResult{}, upstream("get identity by email", err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		f.finish(ctx, email, stageRequest, OutcomeError)
		return DeliveryResult{}, err
	}
	expiresAt := f.now().Add(f.ttl)
	identity.ResetTokenHash = hash
	identity.ResetTokenExpiresAt = &expiresAt
	identity.UpdatedAt = f.now()
	if _, err := f.identities.Save(ctx, identity); err != nil {
		f.finish(ctx, email, stageRequest, OutcomeError)
		return DeliveryResult{}, upstream("store reset token", err)
	}

	result, err := f.mail.Send(ctx, Message{
		To:      identity.Email,
		Subject: ResetRequestSubject,
		HTML:    resetRequestHTML(f.resetLink(token, identity.Email)),
	})
	if err != nil {
		f.finish(ctx, email, stageRequest, OutcomeError)
		return DeliveryResult{}, upstream("send reset mail", err)
	}
	f.finish(ctx, email, stageRequest, OutcomeSuccess)
	return result, nil
}

// CompleteReset replaces the credential if token is the outstanding,
// unexpired token for email. On any token problem nothing is changed. The
// token is consumed by the repository, so concurrent redemptions of one token
// see exactly one success.
// Failure to send the confirmation mail does not undo the reset; it is
// reported through the returned DeliveryResult.
func (f *ResetFlow) CompleteReset(ctx context.Context, email, token, newSecret string) (DeliveryResult, error) {
	email = NormalizeEmail(email)
	if err := validateInput(resetInput{Email: email, Token: token, NewSecret: newSecret}); err != nil {
		f.observer.ResetOutcome(stageComplete, OutcomeRejected)
		return DeliveryResult{}, err
	}

	identity, err := f.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			f.finish(ctx, email, stageComplete, OutcomeRejected)
			return DeliveryResult{}, invalidResetToken("unknown identity")
		}
		f.finish(ctx, email, stageComplete, OutcomeError)
		return DeliveryResult{}, upstream("get identity by email", err)
	}

	if !identity.ResetTokenMatches(token) {
		f.finish(ctx, email, stageComplete, OutcomeRejected)
		return DeliveryResult{}, invalidResetToken("mismatch")
	}
	if !identity.HasPendingReset(f.now()) {
		f.finish(ctx, email, stageComplete, OutcomeRejected)
		return DeliveryResult{}, invalidResetToken("expired")
	}

	salt, err := f.hasher.NewSalt()
	if err != nil {
		f.finish(ctx, email, stageComplete, OutcomeError)
		return DeliveryResult{}, err
	}
	digest, err := f.hasher.Hash(ctx, newSecret, salt)
	if err != nil {
		f.finish(ctx, email, stageComplete, OutcomeError)
		return DeliveryResult{}, upstream("hash new secret", err)
	}
	if _, err := f.identities.ConsumeReset(ctx, identity.ID, identity.ResetTokenHash, digest, salt, f.now()); err != nil {
		if errors.Is(err, ErrResetConsumed) {
			f.finish(ctx, email, stageComplete, OutcomeRejected)
			return DeliveryResult{}, invalidResetToken("consumed")
		}
		f.finish(ctx, email, stageComplete, OutcomeError)
		return DeliveryResult{}, upstream("store new credential", err)
	}
	f.finish(ctx, email, stageComplete, OutcomeSuccess)

	result, err := f.mail.Send(ctx, Message{
		To:      identity.Email,
		Subject: ResetCompleteSubject,
		HTML:    "<p>Your password was changed. If this was not you, contact support immediately.</p>",
	})
	if err != nil {
		f.logger.WarnContext(ctx, "best-effort reset confirmation mail failed",
			"operation", "send_reset_confirmation",
			"error", err,
		)
		return DeliveryResult{Accepted: false}, nil
	}
	return result, nil
}

func (f *ResetFlow) resetLink(token, email string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("email", email)
	return f.baseURL + "/reset-password?" + q.Encode()
}

func resetRequestHTML(link string) string {
	return fmt.Sprintf("<p>Click <a href='%s'>here</a> to reset your password.</p>", html.EscapeString(link))
}

func (f *ResetFlow) finish(ctx context.Context, actor, stage, outcome string) {
	f.observer.ResetOutcome(stage, outcome)
	action := audit.ActionResetRequest
	if stage == stageComplete {
		action = audit.ActionResetComplete
	}
	f.audit.Record(ctx, audit.Event{
		Actor:     actor,
		Action:    action,
		Outcome:   outcome,
		Timestamp: f.now(),
	})
}
