// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package audit

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Actions.
const (
	ActionLogin         = "login"
	ActionLogout        = "logout"
	ActionRegister      = "register"
	ActionResetRequest  = "reset_request"
	ActionResetComplete = "reset_complete"
)

// OutcomeSuccess is the outcome recorded for successful operations. Other
// outcomes are defined by the emitting package.
const OutcomeSuccess = "success"

// Event is a single audited authentication action.
type Event struct {
	ID        ulid.ULID         `json:"id"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Outcome   string            `json:"outcome"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// IsFailure reports whether the event records anything other than success.
func (e Event) IsFailure() bool {
	return e.Outcome != OutcomeSuccess
}
