// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/audit"
	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	"github.com/gatekeep/gatekeep/internal/auth/redisstore"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/httpapi"
	"github.com/gatekeep/gatekeep/internal/logging"
	"github.com/gatekeep/gatekeep/internal/mail"
	"github.com/gatekeep/gatekeep/internal/observability"
)

const (
	serviceName     = "gatekeep"
	janitorInterval = time.Minute
	cleanupTimeout  = 5 * time.Second
)

type serveFlags struct {
	migrate bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API",
		Long: `Start the HTTP API serving signup, login, session checks and
password resets, plus the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, flags, nil)
		},
	}

	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (default 0.0.0.0:3000)")
	f.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	f.String("attempt-store", "", "failed-attempt store (memory, redis or postgres)")
	f.String("mail-mode", "", "mail delivery (smtp, queue or log)")
	f.BoolVar(&flags.migrate, "migrate", true, "apply pending migrations before serving")

	return cmd
}

// closers runs cleanup functions in reverse registration order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// runServeWithDeps starts the API with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, flags *serveFlags, deps *ServeDeps) error {
	if ctx == nil {
		ctx = commandContext(cmd)
	}
	deps = deps.withDefaults()

	cfg, err := deps.ConfigLoader(cmd)
	if err != nil {
		return oops.With("operation", "load configuration").Wrap(err)
	}

	logger := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
	logger.Info("starting gatekeep",
		"addr", cfg.Server.Addr,
		"attempt_store", cfg.Auth.AttemptStore,
		"mail_mode", cfg.Mail.Mode,
		"audit_sink", cfg.Audit.Sink,
	)
	logger.Debug("effective configuration", "config", cfg.Redacted())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cleanup closers
	defer cleanup.run()

	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, logger)
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	cleanup.add(db.Close)
	logger.Info("connected to database")

	if flags != nil && flags.migrate {
		if err := applyMigrations(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	obs := deps.ObservabilityServerFactory(cfg.Metrics.Addr, logger)
	obs.AddCheck("postgres", db.Ping)

	var rdb redis.UniversalClient
	if needsRedis(cfg) {
		rdb, err = deps.RedisDialer(ctx, cfg.Redis.URL)
		if err != nil {
			return oops.With("operation", "connect to redis").Wrap(err)
		}
		cleanup.add(func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis client", "error", err)
			}
		})
		obs.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		logger.Info("connected to redis")
	}

	auditLog, err := newAuditLogger(cfg.Audit, db, obs, logger)
	if err != nil {
		return err
	}
	cleanup.add(func() {
		if err := auditLog.Close(); err != nil {
			logger.Warn("error closing audit logger", "error", err)
		}
	})
	if cfg.Audit.WALPath != "" {
		replayed, err := auditLog.ReplayWAL(ctx)
		if err != nil {
			logger.Warn("audit WAL replay failed", "error", err)
		} else if replayed > 0 {
			logger.Info("replayed audit WAL", "events", replayed)
		}
	}

	mailer, closeMail, err := newMailDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	cleanup.add(closeMail)
	if mailModeRequiresWorker(cfg) {
		logger.Info("reset emails are queued; run \"gatekeep mail-worker\" to deliver them")
	}

	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithAuditSink(auditLog),
		auth.WithObserver(observability.NewAuthMetrics(obs.Registry())),
		auth.WithLockoutThreshold(cfg.Auth.LockoutThreshold),
		auth.WithLockoutDuration(cfg.Auth.LockoutDuration),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
		auth.WithResetTTL(cfg.Reset.TokenTTL),
		auth.WithResetBaseURL(cfg.Reset.BaseURL),
	}
	svc, guard, err := buildAuthService(cfg, db, rdb, mailer, opts)
	if err != nil {
		return err
	}
	go guard.RunJanitor(ctx, janitorInterval)

	router := httpapi.NewRouter(svc, httpapi.Options{CookieSecure: cfg.Server.CookieSecure, Logger: logger})
	api := deps.HTTPServerFactory(cfg.Server.Addr, router, logger)

	if cfg.Metrics.Addr != "" {
		obsErrChan, err := obs.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		cleanup.add(func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer stopCancel()
			if err := obs.Stop(stopCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		})
		logger.Info("observability server started", "addr", obs.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	cmd.Println("Gatekeep started")
	if err := api.Run(ctx, cfg.Server.ShutdownTimeout); err != nil {
		return oops.With("operation", "serve http").Wrap(err)
	}
	logger.Info("shutdown complete")
	return nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Auth.AttemptStore == config.AttemptStoreRedis || cfg.Mail.Mode == config.MailModeQueue
}

func applyMigrations(factory func(string) (Migrator, error), url string, logger *slog.Logger) error {
	m, err := factory(url)
	if err != nil {
		return oops.With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("error closing migrator", "error", err)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.With("operation", "apply migrations").Wrap(err)
	}
	version, _, err := m.Version()
	if err != nil {
		return oops.With("operation", "read schema version").Wrap(err)
	}
	logger.Info("schema up to date", "version", version)
	return nil
}

func newAuditLogger(cfg config.AuditConfig, db Database, obs ObservabilityServer, logger *slog.Logger) (*audit.Logger, error) {
	mode, err := audit.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	var writer audit.Writer
	switch cfg.Sink {
	case config.AuditSinkPostgres:
		writer = audit.NewPostgresWriter(db)
	default:
		writer = audit.NewSlogWriter(logger)
	}
	return audit.NewLogger(mode, writer,
		audit.WithBufferSize(cfg.BufferSize),
		audit.WithWALPath(cfg.WALPath),
		audit.WithRegisterer(obs.Registry()),
		audit.WithSlogger(logger),
	), nil
}

// newMailDispatcher returns the dispatcher for cfg.Mail.Mode and a function
// releasing whatever it holds.
func newMailDispatcher(cfg *config.Config, logger *slog.Logger) (auth.MailDispatcher, func(), error) {
	noop := func() {}
	switch cfg.Mail.Mode {
	case config.MailModeSMTP:
		d, err := mail.NewSMTPDispatcher(smtpConfig(cfg.Mail.SMTP), logger)
		if err != nil {
			return nil, noop, err
		}
		return d, noop, nil
	case config.MailModeQueue:
		opt, err := asynq.ParseRedisURI(cfg.Redis.URL)
		if err != nil {
			return nil, noop, oops.Code("REDIS_CONFIG_INVALID").With("operation", "parse queue redis url").Wrap(err)
		}
		client := asynq.NewClient(opt)
		return mail.NewQueueDispatcher(client, logger), closeWith(client, "mail queue client", logger), nil
	default:
		logger.Warn("mail mode is log; reset emails are not delivered")
		return mail.NewLogDispatcher(logger), noop, nil
	}
}

func closeWith(c io.Closer, what string, logger *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn("error closing "+what, "error", err)
		}
	}
}

func smtpConfig(c config.SMTPConfig) mail.SMTPConfig {
	return mail.SMTPConfig{Host: c.Host, Port: c.Port, Username: c.Username, Password: c.Password, From: c.From}
}

func newAttemptStore(cfg *config.Config, db Database, rdb redis.UniversalClient) auth.AttemptStore {
	switch cfg.Auth.AttemptStore {
	case config.AttemptStoreMemory:
		return auth.NewMemoryAttemptStore()
	case config.AttemptStoreRedis:
		return redisstore.NewAttemptStore(rdb, redisstore.WithTTL(2*cfg.Auth.LockoutDuration))
	default:
		return postgres.NewAttemptStore(db)
	}
}

// buildAuthService wires the auth components over the configured backends.
func buildAuthService(
	cfg *config.Config,
	db Database,
	rdb redis.UniversalClient,
	mailer auth.MailDispatcher,
	opts []auth.Option,
) (*auth.Service, *auth.AttemptGuard, error) {
	identities := postgres.NewIdentityRepository(db)
	hasher := auth.NewPBKDF2Hasher(auth.WithHashConcurrency(cfg.Auth.HashConcurrency))

	guard, err := auth.NewAttemptGuard(newAttemptStore(cfg, db, rdb), opts...)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := auth.NewCredentialVerifier(identities, hasher, guard, opts...)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := auth.NewTokenIssuer([]byte(cfg.Auth.TokenSecret), opts...)
	if err != nil {
		return nil, nil, err
	}
	resets, err := auth.NewResetFlow(identities, hasher, mailer, opts...)
	if err != nil {
		return nil, nil, err
	}
	svc, err := auth.NewService(identities, hasher, verifier, tokens, resets, opts...)
	if err != nil {
		return nil, nil, err
	}
	return svc, guard, nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
