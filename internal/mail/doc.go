// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package mail delivers the HTML messages produced by the reset flow.
//
// SMTPDispatcher sends synchronously. QueueDispatcher hands messages to an
// asynq queue and Worker drains that queue through an SMTPDispatcher, so a
// slow mail relay never holds up an HTTP request. LogDispatcher only logs and
// is meant for local development.
package mail
