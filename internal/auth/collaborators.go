// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"

	"github.com/gatekeep/gatekeep/internal/audit"
)

// Message is an outbound HTML email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// DeliveryResult reports what the mail dispatcher did with a message.
type DeliveryResult struct {
	// Accepted is true when the dispatcher took responsibility for the message.
	Accepted bool
	// Queued is true when delivery was deferred to a background worker.
	Queued bool
	// MessageID identifies the message or queued task, if the dispatcher assigns one.
	MessageID string
}

// MailDispatcher delivers outbound email.
type MailDispatcher interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

// AuditSink receives authentication audit events. Record must not block the
// caller for long and its failures never affect authentication outcomes.
type AuditSink interface {
	Record(ctx context.Context, event audit.Event)
}

// Observer receives outcome counts for metrics.
type Observer interface {
	LoginOutcome(outcome string)
	Lockout()
	ResetOutcome(stage, outcome string)
}

// Audit outcomes, also used as login metric labels.
const (
	OutcomeSuccess         = "success"
	OutcomeInvalid         = "invalid_credentials"
	OutcomeUnknownIdentity = "unknown_identity"
	OutcomeLocked          = "locked"
	OutcomeRejected        = "rejected"
	OutcomeError           = "error"
)

type nopAuditSink struct{}

func (nopAuditSink) Record(context.Context, audit.Event) {}

type nopObserver struct{}

func (nopObserver) LoginOutcome(string)         {}
func (nopObserver) Lockout()                    {}
func (nopObserver) ResetOutcome(string, string) {}
