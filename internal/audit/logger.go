// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/xdg"
)

// Mode controls which events are written.
type Mode string

// Audit modes.
const (
	ModeAll          Mode = "all"           // every event
	ModeFailuresOnly Mode = "failures_only" // events whose outcome is not success
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAll, ModeFailuresOnly:
		return Mode(s), nil
	default:
		return "", oops.Code("AUDIT_INVALID_MODE").With("mode", s).Errorf("unknown audit mode %q", s)
	}
}

// Writer persists audit events.
type Writer interface {
	Write(ctx context.Context, event Event) error
	Close() error
}

const (
	defaultBufferSize   = 1024
	defaultWriteTimeout = 5 * time.Second
)

type metrics struct {
	dropped    prometheus.Counter
	failures   *prometheus.CounterVec
	walEntries prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) metrics {
	factory := promauto.With(reg)
	return metrics{
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatekeep_audit_dropped_total",
			Help: "Total number of audit events dropped because the buffer was full",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_audit_failures_total",
			Help: "Total number of audit write failures",
		}, []string{"reason"}),
		walEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeep_audit_wal_entries",
			Help: "Current number of audit events held in the WAL",
		}),
	}
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithBufferSize sets the channel capacity.
func WithBufferSize(n int) LoggerOption {
	return func(l *Logger) {
		if n > 0 {
			l.bufferSize = n
		}
	}
}

// WithWALPath enables the write-ahead log fallback at path.
func WithWALPath(path string) LoggerOption {
	return func(l *Logger) { l.walPath = path }
}

// WithRegisterer registers the logger's metrics with reg. Without it the
// metrics are created but not exported.
func WithRegisterer(reg prometheus.Registerer) LoggerOption {
	return func(l *Logger) { l.registerer = reg }
}

// WithSlogger sets the logger used for the audit pipeline's own failures.
func WithSlogger(logger *slog.Logger) LoggerOption {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Logger is an asynchronous audit sink.
type Logger struct {
	mode       Mode
	writer     Writer
	walPath    string
	walFile    *os.File
	walMu      sync.Mutex
	bufferSize int
	registerer prometheus.Registerer
	logger     *slog.Logger
	metrics    metrics
	events     chan Event
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewLogger creates a Logger and starts its consumer goroutine. Close must be
// called to stop it.
func NewLogger(mode Mode, writer Writer, opts ...LoggerOption) *Logger {
	l := &Logger{
		mode:       mode,
		writer:     writer,
		bufferSize: defaultBufferSize,
		logger:     slog.Default(),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.metrics = newMetrics(l.registerer)
	l.events = make(chan Event, l.bufferSize)

	l.wg.Add(1)
	go l.consume()

	return l
}

// Record enqueues event without blocking. Events filtered out by the mode are
// discarded; events that do not fit in the buffer are dropped and counted.
func (l *Logger) Record(_ context.Context, event Event) {
	if l.mode == ModeFailuresOnly && !event.IsFailure() {
		return
	}
	if event.ID.IsZero() {
		event.ID = ulid.Make()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case l.events <- event:
	default:
		l.metrics.dropped.Inc()
	}
}

func (l *Logger) consume() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.events:
			l.write(event)
		case <-l.stop:
			l.drain()
			return
		}
	}
}

func (l *Logger) drain() {
	for {
		select {
		case event := <-l.events:
			l.write(event)
		default:
			return
		}
	}
}

func (l *Logger) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	err := l.writer.Write(ctx, event)
	if err == nil {
		return
	}
	l.metrics.failures.WithLabelValues("write_failed").Inc()
	if l.walPath == "" {
		l.logger.Error("audit write failed", "error", err, "actor", event.Actor, "action", event.Action)
		return
	}
	if walErr := l.writeToWAL(event); walErr != nil {
		l.logger.Error("audit write failed: both writer and WAL failed",
			"write_error", err,
			"wal_error", walErr,
			"actor", event.Actor,
			"action", event.Action,
		)
		l.metrics.failures.WithLabelValues("wal_failed").Inc()
	}
}

func (l *Logger) writeToWAL(event Event) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	if l.walFile == nil {
		if err := xdg.EnsureDir(filepath.Dir(l.walPath)); err != nil {
			return err
		}
		file, err := os.OpenFile(l.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", l.walPath).Wrap(err)
		}
		l.walFile = file
	}

	data, err := json.Marshal(event)
	if err != nil {
		return oops.Wrap(err)
	}
	if _, err := fmt.Fprintf(l.walFile, "%s\n", data); err != nil {
		return oops.Wrap(err)
	}
	l.metrics.walEntries.Inc()
	return nil
}

// ReplayWAL writes every WAL entry to the writer. Entries the writer rejects
// stay in the WAL for the next replay; undecodable entries are logged and
// dropped.
func (l *Logger) ReplayWAL(ctx context.Context) (int, error) {
	if l.walPath == "" {
		return 0, nil
	}
	l.walMu.Lock()
	defer l.walMu.Unlock()

	data, err := os.ReadFile(l.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, oops.With("path", l.walPath).Wrap(err)
	}

	replayed := 0
	var pending bytes.Buffer
	kept := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			l.logger.Error("failed to decode WAL entry", "error", err)
			l.metrics.failures.WithLabelValues("wal_decode_failed").Inc()
			continue
		}
		if err := l.writer.Write(ctx, event); err != nil {
			l.logger.Error("failed to replay WAL entry", "error", err, "id", event.ID.String())
			l.metrics.failures.WithLabelValues("wal_replay_failed").Inc()
			pending.Write(line)
			pending.WriteByte('\n')
			kept++
			continue
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, oops.With("path", l.walPath).Wrap(err)
	}

	// Rewritten in place: an open append handle keeps pointing at this file.
	if err := os.WriteFile(l.walPath, pending.Bytes(), 0o600); err != nil {
		return replayed, oops.With("path", l.walPath).Wrap(err)
	}
	l.metrics.walEntries.Set(float64(kept))
	l.logger.Info("replayed audit WAL", "count", replayed, "kept", kept)
	return replayed, nil
}

// Close drains pending events, then closes the writer and the WAL.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()

	if err := l.writer.Close(); err != nil {
		return oops.Wrap(err)
	}

	l.walMu.Lock()
	defer l.walMu.Unlock()
	if l.walFile != nil {
		if err := l.walFile.Close(); err != nil {
			return oops.Wrap(err)
		}
		l.walFile = nil
	}
	return nil
}
