// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// AttemptStore keeps attempt state in the identity row, keyed by email, so it
// survives restarts and is shared by every instance. Updates are serialized
// with SELECT ... FOR UPDATE.
type AttemptStore struct {
	pool poolIface
}

var _ auth.AttemptStore = (*AttemptStore)(nil)

// NewAttemptStore creates a new AttemptStore.
func NewAttemptStore(pool poolIface) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const selectAttemptsSQL = `
	SELECT failed_attempts, account_locked, locked_at, attempts_updated_at
	FROM identities WHERE LOWER(email) = LOWER($1)`

// Get returns the record for key. Unknown keys are clear.
func (s *AttemptStore) Get(ctx context.Context, key string) (auth.AttemptRecord, error) {
	rec, err := scanAttempts(key, s.pool.QueryRow(ctx, selectAttemptsSQL, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.AttemptRecord{Key: key}, nil
		}
		return auth.AttemptRecord{}, oops.Code("ATTEMPTS_GET_FAILED").With("key", key).Wrap(err)
	}
	return rec, nil
}

// Update applies fn to the locked row. Keys without an identity row return
// auth.ErrNotFound.
func (s *AttemptStore) Update(ctx context.Context, key string, fn func(*auth.AttemptRecord)) (rec auth.AttemptRecord, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return auth.AttemptRecord{}, oops.Code("ATTEMPTS_UPDATE_FAILED").With("operation", "begin").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error is more useful
		}
	}()

	rec, err = scanAttempts(key, tx.QueryRow(ctx, selectAttemptsSQL+` FOR UPDATE`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.AttemptRecord{}, oops.Code("ATTEMPTS_NOT_FOUND").With("key", key).Wrap(auth.ErrNotFound)
		}
		return auth.AttemptRecord{}, oops.Code("ATTEMPTS_UPDATE_FAILED").With("operation", "select").Wrap(err)
	}

	fn(&rec)
	rec.Key = key
	if rec.IsClear() {
		rec = auth.AttemptRecord{Key: key}
	}

	if _, err = tx.Exec(ctx, `
		UPDATE identities SET
			failed_attempts = $2, account_locked = $3, locked_at = $4, attempts_updated_at = $5
		WHERE LOWER(email) = LOWER($1)
	`, key, rec.Attempts, rec.Locked, nullTime(rec.LockedAt), nullTime(rec.UpdatedAt)); err != nil {
		return auth.AttemptRecord{}, oops.Code("ATTEMPTS_UPDATE_FAILED").With("operation", "update").Wrap(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return auth.AttemptRecord{}, oops.Code("ATTEMPTS_UPDATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return rec, nil
}

// Delete clears the attempt columns for key.
func (s *AttemptStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE identities SET
			failed_attempts = 0, account_locked = FALSE, locked_at = NULL, attempts_updated_at = NULL
		WHERE LOWER(email) = LOWER($1)
	`, key)
	if err != nil {
		return oops.Code("ATTEMPTS_DELETE_FAILED").With("key", key).Wrap(err)
	}
	return nil
}

func scanAttempts(key string, row pgx.Row) (auth.AttemptRecord, error) {
	var (
		rec       = auth.AttemptRecord{Key: key}
		lockedAt  *time.Time
		updatedAt *time.Time
	)
	if err := row.Scan(&rec.Attempts, &rec.Locked, &lockedAt, &updatedAt); err != nil {
		return auth.AttemptRecord{}, err
	}
	if lockedAt != nil {
		rec.LockedAt = *lockedAt
	}
	if updatedAt != nil {
		rec.UpdatedAt = *updatedAt
	}
	return rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
