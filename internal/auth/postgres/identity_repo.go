// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// poolIface is the subset of *pgxpool.Pool used here. pgxmock pools satisfy it.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	pool poolIface
}

// Compile-time interface check.
var _ auth.IdentityRepository = (*IdentityRepository)(nil)

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(pool poolIface) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `id, email, role, password_hash, salt,
	failed_attempts, account_locked, locked_at,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

// Create stores a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identities (
			id, email, role, password_hash, salt, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		identity.ID.String(),
		identity.Email,
		identity.Role,
		identity.PasswordHash,
		identity.Salt,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("IDENTITY_EMAIL_TAKEN").
				With("email", identity.Email).
				Wrap(auth.ErrEmailTaken)
		}
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("email", identity.Email).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id.String())
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oops.Code("IDENTITY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("IDENTITY_GET_FAILED").With("id", id.String()).Wrap(err)
	}
	return identity, nil
}

// GetByEmail retrieves an identity by email (case-insensitive).
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE LOWER(email) = LOWER($1)`, email)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oops.Code("IDENTITY_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("IDENTITY_GET_FAILED").With("email", email).Wrap(err)
	}
	return identity, nil
}

// Save updates the credential, role and reset columns of an existing
// identity. Attempt columns are owned by AttemptStore and left untouched.
func (r *IdentityRepository) Save(ctx context.Context, identity *auth.Identity) (*auth.Identity, error) {
	var resetHash *string
	if identity.ResetTokenHash != "" {
		resetHash = &identity.ResetTokenHash
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE identities SET
			email = $2, role = $3, password_hash = $4, salt = $5,
			reset_token_hash = $6, reset_token_expires_at = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+identityColumns,
		identity.ID.String(),
		identity.Email,
		identity.Role,
		identity.PasswordHash,
		identity.Salt,
		resetHash,
		identity.ResetTokenExpiresAt,
		identity.UpdatedAt,
	)
	saved, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oops.Code("IDENTITY_NOT_FOUND").With("id", identity.ID.String()).Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("IDENTITY_SAVE_FAILED").With("id", identity.ID.String()).Wrap(err)
	}
	return saved, nil
}

// ConsumeReset swaps in a new credential only while the row still carries
// tokenHash unexpired. A concurrent redemption re-checks the predicate after
// the winner commits and matches no row.
func (r *IdentityRepository) ConsumeReset(
	ctx context.Context,
	id ulid.ULID,
	tokenHash string,
	passwordHash, salt []byte,
	now time.Time,
) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE identities SET
			password_hash = $3, salt = $4,
			reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = $5
		WHERE id = $1 AND reset_token_hash = $2 AND reset_token_expires_at > $5
		RETURNING `+identityColumns,
		id.String(),
		tokenHash,
		passwordHash,
		salt,
		now,
	)
	saved, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oops.Code("IDENTITY_RESET_CONSUMED").With("id", id.String()).Wrap(auth.ErrResetConsumed)
		}
		return nil, oops.Code("IDENTITY_RESET_FAILED").With("id", id.String()).Wrap(err)
	}
	return saved, nil
}

func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var (
		identity  auth.Identity
		idStr     string
		resetHash *string
		lockedAt  *time.Time
	)
	err := row.Scan(
		&idStr,
		&identity.Email,
		&identity.Role,
		&identity.PasswordHash,
		&identity.Salt,
		&identity.FailedAttempts,
		&identity.AccountLocked,
		&lockedAt,
		&resetHash,
		&identity.ResetTokenExpiresAt,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("IDENTITY_INVALID_ID").With("id", idStr).Wrap(err)
	}
	identity.ID = id
	identity.LockedAt = lockedAt
	if resetHash != nil {
		identity.ResetTokenHash = *resetHash
	}
	return &identity, nil
}
