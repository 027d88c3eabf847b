// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPDispatcher sends each message synchronously through an SMTP relay.
type SMTPDispatcher struct {
	cfg    SMTPConfig
	auth   smtp.Auth
	send   sendFunc
	now    func() time.Time
	logger *slog.Logger
}

var _ auth.MailDispatcher = (*SMTPDispatcher)(nil)

// NewSMTPDispatcher creates a dispatcher. PLAIN auth is used when a username
// is configured.
func NewSMTPDispatcher(cfg SMTPConfig, logger *slog.Logger) (*SMTPDispatcher, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host and port are required")
	}
	if cfg.From == "" || !headerSafe(cfg.From) {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp from address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &SMTPDispatcher{
		cfg:    cfg,
		send:   smtp.SendMail,
		now:    time.Now,
		logger: logger.With("component", "mail"),
	}
	if cfg.Username != "" {
		d.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return d, nil
}

// Send delivers msg. net/smtp is not context-aware; a cancelled context is
// honoured before dialing only.
func (d *SMTPDispatcher) Send(ctx context.Context, msg auth.Message) (auth.DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return auth.DeliveryResult{}, oops.Code("MAIL_SEND_FAILED").Wrap(err)
	}
	if msg.To == "" || !headerSafe(msg.To) || !headerSafe(msg.Subject) {
		return auth.DeliveryResult{}, oops.Code("MAIL_INVALID_MESSAGE").With("to", msg.To).Errorf("invalid recipient or subject")
	}

	messageID := fmt.Sprintf("<%s@%s>", ulid.Make(), d.cfg.Host)
	body := buildMIME(d.cfg.From, messageID, msg, d.now())
	if err := d.send(d.cfg.Addr(), d.auth, d.cfg.From, []string{msg.To}, body); err != nil {
		return auth.DeliveryResult{}, oops.Code("MAIL_SEND_FAILED").
			With("addr", d.cfg.Addr()).
			With("subject", msg.Subject).
			Wrap(err)
	}
	d.logger.DebugContext(ctx, "mail sent", "subject", msg.Subject, "message_id", messageID)
	return auth.DeliveryResult{Accepted: true, MessageID: messageID}, nil
}
