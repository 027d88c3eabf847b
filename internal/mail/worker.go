// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Worker executes queued mail tasks with a synchronous dispatcher.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	delivery auth.MailDispatcher
	logger   *slog.Logger
}

// NewWorker creates a worker reading from redisOpt and delivering through
// delivery, normally an SMTPDispatcher.
func NewWorker(redisOpt asynq.RedisConnOpt, delivery auth.MailDispatcher, concurrency int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mail_worker")
	w := &Worker{
		server: asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{QueueName: 1},
		}),
		mux:      asynq.NewServeMux(),
		delivery: delivery,
		logger:   logger,
	}
	w.mux.HandleFunc(TaskDeliver, w.HandleDeliver)
	return w
}

// HandleDeliver decodes one task and sends it. Undecodable payloads are not
// retried.
func (w *Worker) HandleDeliver(ctx context.Context, task *asynq.Task) error {
	var msg auth.Message
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		w.logger.ErrorContext(ctx, "dropping malformed mail task", "error", err)
		return fmt.Errorf("decode mail task: %v: %w", err, asynq.SkipRetry)
	}
	res, err := w.delivery.Send(ctx, msg)
	if err != nil {
		w.logger.WarnContext(ctx, "mail delivery failed, will retry", "subject", msg.Subject, "error", err)
		return oops.Code("MAIL_DELIVERY_FAILED").With("subject", msg.Subject).Wrap(err)
	}
	w.logger.InfoContext(ctx, "mail delivered", "subject", msg.Subject, "message_id", res.MessageID)
	return nil
}

// Run processes tasks until ctx is done, then shuts the server down.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return oops.Code("MAIL_WORKER_START_FAILED").Wrap(err)
	}
	w.logger.InfoContext(ctx, "mail worker started", "queue", QueueName)
	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("mail worker stopped")
	return nil
}
