// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package config loads Gatekeep settings. Sources are layered in this order,
// later ones winning: built-in defaults, a YAML file, environment variables
// and command-line flags.
package config

import (
	"time"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Attempt store backends.
const (
	AttemptStoreMemory   = "memory"
	AttemptStoreRedis    = "redis"
	AttemptStorePostgres = "postgres"
)

// Mail modes.
const (
	MailModeSMTP  = "smtp"
	MailModeQueue = "queue"
	MailModeLog   = "log"
)

// Audit sinks.
const (
	AuditSinkLog      = "log"
	AuditSinkPostgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Auth     AuthConfig     `koanf:"auth"`
	Reset    ResetConfig    `koanf:"reset"`
	Mail     MailConfig     `koanf:"mail"`
	Audit    AuditConfig    `koanf:"audit"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`
	// CookieSecure sets the Secure attribute on the session cookie.
	CookieSecure    bool          `koanf:"cookie_secure"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type MetricsConfig struct {
	// Addr may be empty to disable the metrics listener.
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

type LogConfig struct {
	Format string `koanf:"format" validate:"oneof=json text"`
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
}

type DatabaseConfig struct {
	URL string `koanf:"url" validate:"required,url"`
}

type RedisConfig struct {
	URL string `koanf:"url" validate:"omitempty,url"`
}

type AuthConfig struct {
	TokenSecret      string        `koanf:"token_secret" validate:"required"`
	TokenTTL         time.Duration `koanf:"token_ttl" validate:"gt=0"`
	LockoutThreshold int           `koanf:"lockout_threshold" validate:"gte=1"`
	LockoutDuration  time.Duration `koanf:"lockout_duration" validate:"gt=0"`
	AttemptStore     string        `koanf:"attempt_store" validate:"oneof=memory redis postgres"`
	HashConcurrency  int           `koanf:"hash_concurrency" validate:"gte=0"`
}

type ResetConfig struct {
	BaseURL  string        `koanf:"base_url" validate:"required,url"`
	TokenTTL time.Duration `koanf:"token_ttl" validate:"gt=0"`
}

type MailConfig struct {
	Mode              string     `koanf:"mode" validate:"oneof=smtp queue log"`
	SMTP              SMTPConfig `koanf:"smtp"`
	WorkerConcurrency int        `koanf:"worker_concurrency" validate:"gte=1"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"gte=0,lte=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

type AuditConfig struct {
	Sink       string `koanf:"sink" validate:"oneof=log postgres"`
	Mode       string `koanf:"mode" validate:"oneof=all failures_only"`
	BufferSize int    `koanf:"buffer_size" validate:"gte=1"`
	// WALPath, when set, receives events the sink could not write.
	WALPath string `koanf:"wal_path"`
}

// Default returns the built-in configuration. It fails Validate until a
// database URL and token secret are supplied.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: "0.0.0.0:3000", ShutdownTimeout: 10 * time.Second},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Auth: AuthConfig{
			TokenTTL:         auth.DefaultTokenTTL,
			LockoutThreshold: auth.DefaultLockoutThreshold,
			LockoutDuration:  auth.DefaultLockoutDuration,
			AttemptStore:     AttemptStorePostgres,
		},
		Reset: ResetConfig{BaseURL: auth.DefaultResetBaseURL, TokenTTL: auth.DefaultResetTTL},
		Mail: MailConfig{
			Mode:              MailModeLog,
			SMTP:              SMTPConfig{Port: 587},
			WorkerConcurrency: 4,
		},
		Audit: AuditConfig{Sink: AuditSinkLog, Mode: "all", BufferSize: 1024},
	}
}
