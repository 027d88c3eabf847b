// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// SlogWriter writes events as structured log lines.
type SlogWriter struct {
	logger *slog.Logger
}

// NewSlogWriter creates a writer that logs through logger.
func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogWriter{logger: logger.With("component", "audit")}
}

// Write logs event at info level, or warn level for failures.
func (w *SlogWriter) Write(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	if event.IsFailure() {
		level = slog.LevelWarn
	}
	attrs := []any{
		"id", event.ID.String(),
		"actor", event.Actor,
		"action", event.Action,
		"outcome", event.Outcome,
		"timestamp", event.Timestamp,
	}
	if len(event.Detail) > 0 {
		attrs = append(attrs, "detail", event.Detail)
	}
	w.logger.Log(ctx, level, "auth event", attrs...)
	return nil
}

// Close is a no-op.
func (w *SlogWriter) Close() error { return nil }

// execer is the subset of pgxpool.Pool used by PostgresWriter.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresWriter inserts events into auth_audit_log.
type PostgresWriter struct {
	db execer
}

// NewPostgresWriter creates a writer over db, typically a *pgxpool.Pool.
func NewPostgresWriter(db execer) *PostgresWriter {
	return &PostgresWriter{db: db}
}

const insertEventSQL = `
	INSERT INTO auth_audit_log (id, actor, action, outcome, detail, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING`

// Write inserts event. Replaying an already written event is a no-op.
func (w *PostgresWriter) Write(ctx context.Context, event Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return oops.Wrap(err)
	}
	if event.Detail == nil {
		detail = []byte("{}")
	}
	_, err = w.db.Exec(ctx, insertEventSQL,
		event.ID.String(),
		event.Actor,
		event.Action,
		event.Outcome,
		detail,
		event.Timestamp,
	)
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").
			With("actor", event.Actor).
			With("action", event.Action).
			Wrap(err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (w *PostgresWriter) Close() error { return nil }
