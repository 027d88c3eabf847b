// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"log/slog"
	"time"
)

// Defaults applied when no option overrides them.
const (
	DefaultLockoutThreshold = 3
	DefaultLockoutDuration  = 600 * time.Second
	DefaultTokenTTL         = time.Hour
	DefaultTokenIssuer      = "gatekeep"
	DefaultResetTTL         = time.Hour
	DefaultResetBaseURL     = "http://localhost:3000"
)

// Option configures the components in this package. Each constructor reads
// only the fields relevant to it.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	clock     func() time.Time
	audit     AuditSink
	observer  Observer
	threshold int
	lockout   time.Duration
	tokenTTL  time.Duration
	issuer    string
	resetTTL  time.Duration
	resetBase string
}

func buildOptions(opts []Option) options {
	o := options{
		logger:    slog.Default(),
		clock:     time.Now,
		audit:     nopAuditSink{},
		observer:  nopObserver{},
		threshold: DefaultLockoutThreshold,
		lockout:   DefaultLockoutDuration,
		tokenTTL:  DefaultTokenTTL,
		issuer:    DefaultTokenIssuer,
		resetTTL:  DefaultResetTTL,
		resetBase: DefaultResetBaseURL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now. Tests use it to simulate the passage of time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithAuditSink sets the destination for authentication audit events.
func WithAuditSink(sink AuditSink) Option {
	return func(o *options) {
		if sink != nil {
			o.audit = sink
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithLockoutThreshold sets the number of consecutive failures that locks a key.
func WithLockoutThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.threshold = n
		}
	}
}

// WithLockoutDuration sets how long a lockout lasts.
func WithLockoutDuration(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockout = d
		}
	}
}

// WithTokenTTL sets the session token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tokenTTL = d
		}
	}
}

// WithTokenIssuer sets the iss claim written and required by the token issuer.
func WithTokenIssuer(issuer string) Option {
	return func(o *options) {
		if issuer != "" {
			o.issuer = issuer
		}
	}
}

// WithResetTTL sets how long a reset token stays valid.
func WithResetTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.resetTTL = d
		}
	}
}

// WithResetBaseURL sets the origin used to build reset links.
func WithResetBaseURL(base string) Option {
	return func(o *options) {
		if base != "" {
			o.resetBase = base
		}
	}
}
