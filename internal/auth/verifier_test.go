// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

type verifierFixture struct {
	clock    *fakeClock
	repo     *fakeIdentityRepo
	hasher   *auth.PBKDF2Hasher
	store    *auth.MemoryAttemptStore
	guard    *auth.AttemptGuard
	audit    *recordingAudit
	verifier *auth.CredentialVerifier
}

func newVerifierFixture(t *testing.T) *verifierFixture {
	t.Helper()
	f := &verifierFixture{
		clock:  newFakeClock(),
		repo:   newFakeIdentityRepo(),
		hasher: auth.NewPBKDF2Hasher(auth.WithIterations(testIterations)),
		store:  auth.NewMemoryAttemptStore(),
		audit:  &recordingAudit{},
	}
	var err error
	f.guard, err = auth.NewAttemptGuard(f.store, auth.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.verifier, err = auth.NewCredentialVerifier(f.repo, f.hasher, f.guard,
		auth.WithClock(f.clock.Now), auth.WithAuditSink(f.audit))
	require.NoError(t, err)
	return f
}

func TestNewCredentialVerifier_RequiresDependencies(t *testing.T) {
	hasher := auth.NewPBKDF2Hasher()
	guard, err := auth.NewAttemptGuard(auth.NewMemoryAttemptStore())
	require.NoError(t, err)

	_, err = auth.NewCredentialVerifier(nil, hasher, guard)
	assert.ErrorContains(t, err, "identity repository is required")
	_, err = auth.NewCredentialVerifier(newFakeIdentityRepo(), nil, guard)
	assert.ErrorContains(t, err, "password hasher is required")
	_, err = auth.NewCredentialVerifier(newFakeIdentityRepo(), hasher, nil)
	assert.ErrorContains(t, err, "attempt guard is required")
}

func TestCredentialVerifier_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("correct secret returns the identity", func(t *testing.T) {
		f := newVerifierFixture(t)
		seeded := seedIdentity(t, f.repo, f.hasher, "a@b.com", "correct")

		identity, err := f.verifier.Authenticate(ctx, "A@B.com ", "correct")
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, identity.ID)
		assert.Equal(t, []string{auth.OutcomeSuccess}, f.audit.outcomes())
	})

	t.Run("wrong secret is invalid credentials", func(t *testing.T) {
		f := newVerifierFixture(t)
		seedIdentity(t, f.repo, f.hasher, "a@b.com", "correct")

		_, err := f.verifier.Authenticate(ctx, "a@b.com", "wrong")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.KindInvalidCredentials.String())
		assert.Equal(t, []string{auth.OutcomeInvalid}, f.audit.outcomes())
	})

	t.Run("unknown identity is indistinguishable from a wrong secret", func(t *testing.T) {
		f := newVerifierFixture(t)

		_, err := f.verifier.Authenticate(ctx, "nobody@b.com", "whatever")
		require.Error(t, err)
		assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))
		assert.Zero(t, f.store.Len(), "unknown identities are not tracked")
	})

	t.Run("malformed input is a validation error", func(t *testing.T) {
		f := newVerifierFixture(t)
		tests := []struct{ email, secret string }{
			{"", "secret"},
			{"not-an-email", "secret"},
			{"a@b.com", ""},
		}
		for _, tt := range tests {
			_, err := f.verifier.Authenticate(ctx, tt.email, tt.secret)
			assert.Equal(t, auth.KindValidation, auth.KindOf(err), "email=%q secret=%q", tt.email, tt.secret)
		}
	})

	t.Run("repository failure is upstream unavailable", func(t *testing.T) {
		f := newVerifierFixture(t)
		f.repo.getErr = context.DeadlineExceeded

		_, err := f.verifier.Authenticate(ctx, "a@b.com", "correct")
		require.Error(t, err)
		assert.Equal(t, auth.KindUpstreamUnavailable, auth.KindOf(err))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("guard store failure is upstream unavailable", func(t *testing.T) {
		f := newVerifierFixture(t)
		seedIdentity(t, f.repo, f.hasher, "a@b.com", "correct")
		guard, err := auth.NewAttemptGuard(failingAttemptStore{})
		require.NoError(t, err)
		verifier, err := auth.NewCredentialVerifier(f.repo, f.hasher, guard)
		require.NoError(t, err)

		_, err = verifier.Authenticate(ctx, "a@b.com", "correct")
		assert.Equal(t, auth.KindUpstreamUnavailable, auth.KindOf(err))
	})

	t.Run("success after failures clears the record", func(t *testing.T) {
		for _, failures := range []int{1, 2} {
			f := newVerifierFixture(t)
			seedIdentity(t, f.repo, f.hasher, "a@b.com", "correct")
			for range failures {
				_, err := f.verifier.Authenticate(ctx, "a@b.com", "wrong")
				require.Error(t, err)
			}
			_, err := f.verifier.Authenticate(ctx, "a@b.com", "correct")
			require.NoError(t, err)

			status, err := f.guard.Status(ctx, "a@b.com")
			require.NoError(t, err)
			assert.Equal(t, auth.StateClear, status.State)
		}
	})
}

// TestCredentialVerifier_LockoutScenario walks the full lock and expiry cycle
// for a single identity.
func TestCredentialVerifier_LockoutScenario(t *testing.T) {
	ctx := context.Background()
	f := newVerifierFixture(t)
	seedIdentity(t, f.repo, f.hasher, "a@b.com", "correct")

	_, err := f.verifier.Authenticate(ctx, "a@b.com", "wrong1")
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))
	_, err = f.verifier.Authenticate(ctx, "a@b.com", "wrong2")
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))

	_, err = f.verifier.Authenticate(ctx, "a@b.com", "wrong3")
	require.Error(t, err)
	assert.Equal(t, auth.KindAccountLocked, auth.KindOf(err))
	remaining, ok := auth.LockRemaining(err)
	require.True(t, ok)
	assert.Equal(t, 600000*time.Millisecond, remaining)

	_, err = f.verifier.Authenticate(ctx, "a@b.com", "correct")
	require.Error(t, err, "correct secret while locked is still refused")
	assert.Equal(t, auth.KindAccountLocked, auth.KindOf(err))

	f.clock.Advance(601000 * time.Millisecond)
	identity, err := f.verifier.Authenticate(ctx, "a@b.com", "correct")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", identity.Email)

	status, err := f.guard.Status(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Zero(t, status.Attempts)
	assert.False(t, status.Locked)

	assert.Equal(t, []string{
		auth.OutcomeInvalid,
		auth.OutcomeInvalid,
		auth.OutcomeLocked,
		auth.OutcomeLocked,
		auth.OutcomeSuccess,
	}, f.audit.outcomes())
}

func TestCredentialVerifier_ParallelGuesses(t *testing.T) {
	ctx := context.Background()
	const guesses = 20
	threshold := auth.DefaultLockoutThreshold

	// run fires guesses concurrent logins, lets every attempt that the guard
	// turns away finish, then opens the hasher for the rest.
	run := func(t *testing.T, correctAt int) (*gatedHasher, *countingObserver, *bytes.Buffer, []error) {
		t.Helper()
		clock := newFakeClock()
		repo := newFakeIdentityRepo()
		inner := auth.NewPBKDF2Hasher(auth.WithIterations(testIterations))
		seedIdentity(t, repo, inner, "a@b.com", "correct")
		hasher := newGatedHasher(inner)
		observer := &countingObserver{}
		var logs bytes.Buffer
		opts := []auth.Option{
			auth.WithClock(clock.Now),
			auth.WithObserver(observer),
			auth.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
		}
		guard, err := auth.NewAttemptGuard(auth.NewMemoryAttemptStore(), opts...)
		require.NoError(t, err)
		verifier, err := auth.NewCredentialVerifier(repo, hasher, guard, opts...)
		require.NoError(t, err)

		results := make(chan error, guesses)
		for i := range guesses {
			secret := "wrong-guess"
			if i == correctAt {
				secret = "correct"
			}
			go func() {
				_, err := verifier.Authenticate(ctx, "a@b.com", secret)
				results <- err
			}()
		}
		errs := make([]error, 0, guesses)
		for range guesses - threshold {
			errs = append(errs, <-results)
		}
		close(hasher.gate)
		for range threshold {
			errs = append(errs, <-results)
		}
		return hasher, observer, &logs, errs
	}

	kinds := func(errs []error) map[auth.Kind]int {
		out := make(map[auth.Kind]int)
		for _, err := range errs {
			out[auth.KindOf(err)]++
		}
		return out
	}

	t.Run("only threshold guesses are evaluated", func(t *testing.T) {
		hasher, observer, logs, errs := run(t, -1)

		assert.Equal(t, int32(threshold), hasher.calls.Load())
		got := kinds(errs)
		assert.Equal(t, threshold-1, got[auth.KindInvalidCredentials])
		assert.Equal(t, guesses-threshold+1, got[auth.KindAccountLocked])
		assert.Equal(t, int32(1), observer.lockouts.Load(), "one lock is counted once")
		assert.Equal(t, 1, strings.Count(logs.String(), "identity locked after repeated failures"))
	})

	t.Run("a correct secret inside the burst gets no extra budget", func(t *testing.T) {
		hasher, _, _, errs := run(t, guesses-1)

		assert.Equal(t, int32(threshold), hasher.calls.Load())
		got := kinds(errs)
		assert.LessOrEqual(t, got[auth.KindNone], 1)
		assert.GreaterOrEqual(t, got[auth.KindAccountLocked], guesses-threshold)
	})
}

func TestCredentialVerifier_HashFailureRefundsTheAttempt(t *testing.T) {
	ctx := context.Background()
	f := newVerifierFixture(t)
	inner := auth.NewPBKDF2Hasher(auth.WithIterations(testIterations))
	seedIdentity(t, f.repo, inner, "a@b.com", "correct")
	hasher := newGatedHasher(inner)
	close(hasher.gate)
	hasher.err = context.Canceled
	verifier, err := auth.NewCredentialVerifier(f.repo, hasher, f.guard, auth.WithClock(f.clock.Now))
	require.NoError(t, err)

	for range auth.DefaultLockoutThreshold + 1 {
		_, err = verifier.Authenticate(ctx, "a@b.com", "correct")
		assert.Equal(t, auth.KindUpstreamUnavailable, auth.KindOf(err))
	}

	status, err := f.guard.Status(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, auth.StateClear, status.State, "server-side failures do not count against the user")
}
