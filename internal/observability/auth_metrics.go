// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// AuthMetrics counts authentication outcomes.
type AuthMetrics struct {
	logins   *prometheus.CounterVec
	lockouts prometheus.Counter
	resets   *prometheus.CounterVec
}

var _ auth.Observer = (*AuthMetrics)(nil)

// NewAuthMetrics registers the auth counters with reg.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	factory := promauto.With(reg)
	return &AuthMetrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_login_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		lockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatekeep_lockouts_total",
			Help: "Accounts locked after reaching the failure threshold.",
		}),
		resets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_reset_total",
			Help: "Password reset operations by stage and outcome.",
		}, []string{"stage", "outcome"}),
	}
}

func (m *AuthMetrics) LoginOutcome(outcome string) { m.logins.WithLabelValues(outcome).Inc() }

func (m *AuthMetrics) Lockout() { m.lockouts.Inc() }

func (m *AuthMetrics) ResetOutcome(stage, outcome string) {
	m.resets.WithLabelValues(stage, outcome).Inc()
}
