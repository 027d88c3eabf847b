// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/xdg"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFiles   []string
)

// flagKeys maps command-line flags onto configuration keys. Flags absent
// from a command's flag set are simply never seen.
var flagKeys = map[string]string{
	"addr":          "server.addr",
	"metrics-addr":  "metrics.addr",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"attempt-store": "auth.attempt_store",
	"mail-mode":     "mail.mode",
	"concurrency":   "mail.worker_concurrency",
}

// NewRootCmd creates the root command for the Gatekeep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeep",
		Short: "Gatekeep - email and password authentication service",
		Long: `Gatekeep issues signed session tokens for email and password
credentials, locks accounts after repeated failures, and runs the
email-based password reset flow.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (YAML)")
	pf.StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")
	pf.String("log-format", "", "log format (json or text)")
	pf.String("log-level", "", "log level (debug, info, warn or error)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewMailWorkerCmd())

	return cmd
}

// configSource describes where cmd reads its configuration from. Without
// --config the per-user file is used when it exists.
func configSource(cmd *cobra.Command) config.Source {
	file := configFile
	if file == "" {
		if path, ok := xdg.ConfigFile(); ok {
			file = path
		}
	}
	return config.Source{
		File:     file,
		DotEnv:   envFiles,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configSource(cmd))
}
