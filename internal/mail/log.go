// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package mail

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// LogDispatcher writes messages to the log instead of sending them. The body
// is logged at debug level because reset links are credentials.
type LogDispatcher struct {
	logger *slog.Logger
}

var _ auth.MailDispatcher = (*LogDispatcher)(nil)

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger.With("component", "mail")}
}

// Send logs msg and always accepts it.
func (d *LogDispatcher) Send(ctx context.Context, msg auth.Message) (auth.DeliveryResult, error) {
	id := ulid.Make().String()
	d.logger.InfoContext(ctx, "mail not sent (log mode)", "to", msg.To, "subject", msg.Subject, "message_id", id)
	d.logger.DebugContext(ctx, "mail body", "message_id", id, "html", msg.HTML)
	return auth.DeliveryResult{Accepted: true, MessageID: id}, nil
}
