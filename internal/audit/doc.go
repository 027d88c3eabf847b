// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package audit records authentication events: logins, lockouts, logouts,
// registrations and password resets.
//
// # Architecture
//
// Logger.Record never blocks the caller. Events go onto a buffered channel
// and a single consumer goroutine hands them to a Writer:
//
//	Record → channel → consumer → Writer.Write → WAL fallback on failure
//
// When the channel is full the event is dropped and counted. When the writer
// fails the event is appended to a JSON-lines WAL file (if configured), which
// ReplayWAL feeds back to the writer after recovery.
//
// # Writers
//
//   - SlogWriter: writes each event as a structured log line
//   - PostgresWriter: inserts into auth_audit_log
//
// # Metrics
//
//   - gatekeep_audit_dropped_total: events dropped because the channel was full
//   - gatekeep_audit_failures_total{reason}: write failures by reason
//   - gatekeep_audit_wal_entries: events currently held in the WAL
//
// # Example Usage
//
//	logger := audit.NewLogger(audit.ModeAll, audit.NewPostgresWriter(pool),
//	    audit.WithWALPath(path), audit.WithRegisterer(reg))
//	defer logger.Close()
//
//	logger.Record(ctx, audit.Event{Actor: "a@b.com", Action: audit.ActionLogin, Outcome: "success"})
package audit
