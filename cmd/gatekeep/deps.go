// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth/redisstore"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/httpapi"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConfigLoader reads and validates configuration.
	// Default: config.Load with the command's flags
	ConfigLoader func(cmd *cobra.Command) (*config.Config, error)

	// DatabaseFactory opens the PostgreSQL pool.
	// Default: store.Connect
	DatabaseFactory func(ctx context.Context, url string, logger *slog.Logger) (Database, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// RedisDialer connects to Redis.
	// Default: redisstore.Dial
	RedisDialer func(ctx context.Context, url string) (redis.UniversalClient, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, logger *slog.Logger) ObservabilityServer

	// HTTPServerFactory creates the API server.
	// Default: httpapi.NewServer
	HTTPServerFactory func(addr string, handler http.Handler, logger *slog.Logger) HTTPServer
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// DatabaseURLGetter returns the database URL.
	// Default: config.LoadUnvalidated with the command's flags
	DatabaseURLGetter func(cmd *cobra.Command) (string, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)
}

// Database wraps the methods used from *pgxpool.Pool.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Registry() *prometheus.Registry
	AddCheck(name string, check observability.CheckFunc)
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// HTTPServer wraps the methods used from httpapi.Server.
type HTTPServer interface {
	Run(ctx context.Context, shutdownTimeout time.Duration) error
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.ConfigLoader == nil {
		d.ConfigLoader = loadConfig
	}
	if d.DatabaseFactory == nil {
		d.DatabaseFactory = func(ctx context.Context, url string, logger *slog.Logger) (Database, error) {
			opts := store.DefaultConnectOptions()
			opts.Logger = logger
			return store.Connect(ctx, url, opts)
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = newMigrator
	}
	if d.RedisDialer == nil {
		d.RedisDialer = func(ctx context.Context, url string) (redis.UniversalClient, error) {
			return redisstore.Dial(ctx, url, 5)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, logger)
		}
	}
	if d.HTTPServerFactory == nil {
		d.HTTPServerFactory = func(addr string, handler http.Handler, logger *slog.Logger) HTTPServer {
			return httpapi.NewServer(addr, handler, logger)
		}
	}
	return d
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	if d == nil {
		d = &MigrateDeps{}
	}
	if d.DatabaseURLGetter == nil {
		d.DatabaseURLGetter = func(cmd *cobra.Command) (string, error) {
			cfg, err := config.LoadUnvalidated(configSource(cmd))
			if err != nil {
				return "", err
			}
			return cfg.Database.URL, nil
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = newMigrator
	}
	return d
}

func newMigrator(url string) (Migrator, error) {
	return store.NewMigrator(url)
}
