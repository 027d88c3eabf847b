// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package mail

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Queue settings shared by QueueDispatcher and Worker.
const (
	TaskDeliver    = "mail:deliver"
	QueueName      = "mail"
	DefaultRetries = 5
)

// enqueuer is the part of *asynq.Client QueueDispatcher needs.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher defers delivery to a Worker through Redis.
type QueueDispatcher struct {
	client  enqueuer
	retries int
	logger  *slog.Logger
}

var _ auth.MailDispatcher = (*QueueDispatcher)(nil)

// NewQueueDispatcher creates a dispatcher over an asynq client.
func NewQueueDispatcher(client enqueuer, logger *slog.Logger) *QueueDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueDispatcher{client: client, retries: DefaultRetries, logger: logger.With("component", "mail")}
}

// Send enqueues msg. A nil error means the message is durably queued, not
// that it was delivered.
func (d *QueueDispatcher) Send(ctx context.Context, msg auth.Message) (auth.DeliveryResult, error) {
	if msg.To == "" || !headerSafe(msg.To) || !headerSafe(msg.Subject) {
		return auth.DeliveryResult{}, oops.Code("MAIL_INVALID_MESSAGE").With("to", msg.To).Errorf("invalid recipient or subject")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return auth.DeliveryResult{}, oops.Code("MAIL_ENQUEUE_FAILED").Wrap(err)
	}
	info, err := d.client.EnqueueContext(ctx,
		asynq.NewTask(TaskDeliver, payload),
		asynq.Queue(QueueName),
		asynq.MaxRetry(d.retries),
	)
	if err != nil {
		return auth.DeliveryResult{}, oops.Code("MAIL_ENQUEUE_FAILED").With("subject", msg.Subject).Wrap(err)
	}
	d.logger.DebugContext(ctx, "mail queued", "task_id", info.ID, "subject", msg.Subject)
	return auth.DeliveryResult{Accepted: true, Queued: true, MessageID: info.ID}, nil
}
