// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package auth implements email and password authentication for Gatekeep.
//
// # Components
//
//   - PBKDF2Hasher derives and checks salted secret digests.
//   - AttemptGuard tracks consecutive failures per email and locks an
//     account for a fixed period once the threshold is reached.
//   - CredentialVerifier authenticates an email and secret through the guard.
//   - TokenIssuer signs and verifies HS256 session tokens.
//   - ResetFlow issues single-use reset tokens by email and completes resets.
//   - Service composes the above into login, registration, session checks,
//     profile lookup and password reset.
//
// Each component is built with a New* constructor that validates its
// collaborators and accepts the shared Option values.
//
// # Errors
//
// Every error returned to callers carries exactly one Kind, recovered with
// KindOf. Callers map kinds to responses and never inspect messages.
// Unknown emails and wrong secrets are indistinguishable.
//
// # Storage
//
// IdentityRepository and AttemptStore are interfaces. MemoryAttemptStore is
// in this package; PostgreSQL and Redis implementations live in the postgres
// and redisstore subpackages.
package auth
