// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package errutil

import (
	"errors"
	"maps"
	"slices"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOops stops the test unless err carries oops metadata somewhere in
// its chain.
func requireOops(t testing.TB, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "error %q (%T) carries no oops metadata", err, err)
	return oopsErr
}

// AssertErrorCode checks the code oops reports for err, which is the deepest
// code in the chain.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	assert.Equal(t, code, requireOops(t, err).Code(), "error %q", err)
}

// AssertErrorContext checks one key of the merged oops context on err.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	got, ok := ctx[key]
	require.Truef(t, ok, "error %q has no context key %q; keys: %v", err, key, slices.Sorted(maps.Keys(ctx)))
	assert.Equal(t, value, got, "context key %q", key)
}

// AssertCodedSentinel checks that err still matches sentinel after wrapping
// and reports code. Repositories use this pair so callers can classify with
// errors.Is while logs keep the specific code.
func AssertCodedSentinel(t testing.TB, err error, code string, sentinel error) {
	t.Helper()
	assert.Truef(t, errors.Is(err, sentinel), "error %q does not match %q", err, sentinel)
	AssertErrorCode(t, err, code)
}
