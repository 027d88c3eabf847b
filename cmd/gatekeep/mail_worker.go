// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/logging"
	"github.com/gatekeep/gatekeep/internal/mail"
)

// NewMailWorkerCmd creates the mail-worker subcommand.
func NewMailWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail-worker",
		Short: "Deliver queued reset emails over SMTP",
		Long: `Consume the mail queue written by "serve" in queue mode and deliver
each message through the configured SMTP relay, retrying failures.`,
		RunE: runMailWorker,
	}
	cmd.Flags().Int("concurrency", 0, "number of concurrent deliveries (default 4)")
	return cmd
}

func runMailWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return oops.With("operation", "load configuration").Wrap(err)
	}
	if cfg.Redis.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("redis.url is required for the mail worker")
	}
	logger := logging.SetDefault(logging.Options{
		Service: serviceName + "-mail-worker",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})

	smtpDispatcher, err := mail.NewSMTPDispatcher(smtpConfig(cfg.Mail.SMTP), logger)
	if err != nil {
		return err
	}
	opt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return oops.Code("REDIS_CONFIG_INVALID").Wrap(err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mail worker starting", "concurrency", cfg.Mail.WorkerConcurrency, "queue", mail.QueueName)
	worker := mail.NewWorker(opt, smtpDispatcher, cfg.Mail.WorkerConcurrency, logger)
	if err := worker.Run(ctx); err != nil {
		return oops.With("operation", "run mail worker").Wrap(err)
	}
	logger.Info("mail worker stopped")
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// mailModeRequiresWorker reports whether cfg expects a separate mail-worker process.
func mailModeRequiresWorker(cfg *config.Config) bool {
	return cfg.Mail.Mode == config.MailModeQueue
}
