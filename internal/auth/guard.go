// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// AttemptState is the lockout state of a single key.
type AttemptState int

// Attempt states.
const (
	StateClear AttemptState = iota
	StateWarned
	StateLocked
)

func (s AttemptState) String() string {
	switch s {
	case StateClear:
		return "clear"
	case StateWarned:
		return "warned"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// AttemptRecord is the failure history of one key.
type AttemptRecord struct {
	Key       string    `json:"key"`
	Attempts  int       `json:"attempts"`
	Locked    bool      `json:"locked"`
	LockedAt  time.Time `json:"locked_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State derives the state from the record's fields.
func (r AttemptRecord) State() AttemptState {
	switch {
	case r.Locked:
		return StateLocked
	case r.Attempts > 0:
		return StateWarned
	default:
		return StateClear
	}
}

// IsClear reports whether the record carries no history and can be dropped.
func (r AttemptRecord) IsClear() bool {
	return r.Attempts == 0 && !r.Locked
}

// AttemptStore persists attempt records.
//
// Update must load the record for key (a zero record with Key set when none
// exists), apply fn, and persist the result atomically with respect to every
// other Update for the same key. A record left clear by fn is removed rather
// than stored.
type AttemptStore interface {
	Get(ctx context.Context, key string) (AttemptRecord, error)
	Update(ctx context.Context, key string, fn func(*AttemptRecord)) (AttemptRecord, error)
	Delete(ctx context.Context, key string) error
}

// Pruner is implemented by stores that need explicit eviction.
type Pruner interface {
	Prune(ctx context.Context, evict func(AttemptRecord) bool) (int, error)
}

// LockStatus is the guard's view of a key at a point in time.
type LockStatus struct {
	State    AttemptState
	Attempts int
	Locked   bool
	// Tripped is set when the call that produced this status locked the key.
	Tripped   bool
	Remaining time.Duration
}

// AttemptGuard tracks consecutive login failures per key and locks a key for
// a fixed duration once the threshold is reached. Locks expire on their own.
type AttemptGuard struct {
	store     AttemptStore
	threshold int
	lockout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewAttemptGuard creates a guard over store.
func NewAttemptGuard(store AttemptStore, opts ...Option) (*AttemptGuard, error) {
	if store == nil {
		return nil, oops.Errorf("attempt store is required")
	}
	o := buildOptions(opts)
	return &AttemptGuard{
		store:     store,
		threshold: o.threshold,
		lockout:   o.lockout,
		now:       o.clock,
		logger:    o.logger,
	}, nil
}

// Threshold returns the number of failures that locks a key.
func (g *AttemptGuard) Threshold() int { return g.threshold }

// LockoutDuration returns how long a lock lasts.
func (g *AttemptGuard) LockoutDuration() time.Duration { return g.lockout }

// remaining returns the lock time left at now, or zero if rec is not locked
// or its lock has run out.
func (g *AttemptGuard) remaining(rec AttemptRecord, now time.Time) time.Duration {
	if !rec.Locked {
		return 0
	}
	left := g.lockout - now.Sub(rec.LockedAt)
	if left <= 0 {
		return 0
	}
	return left
}

func (g *AttemptGuard) status(rec AttemptRecord, now time.Time) LockStatus {
	left := g.remaining(rec, now)
	return LockStatus{
		State:     rec.State(),
		Attempts:  rec.Attempts,
		Locked:    rec.Locked && left > 0,
		Remaining: left,
	}
}

// Status reports whether key is locked. A lock whose duration has elapsed is
// cleared as a side effect.
func (g *AttemptGuard) Status(ctx context.Context, key string) (LockStatus, error) {
	rec, err := g.store.Get(ctx, key)
	if err != nil {
		return LockStatus{}, upstream("get attempt record", err)
	}
	now := g.now()
	if rec.Locked && g.remaining(rec, now) == 0 {
		rec, err = g.store.Update(ctx, key, func(r *AttemptRecord) {
			if r.Locked && g.remaining(*r, now) == 0 {
				*r = AttemptRecord{Key: r.Key}
			}
		})
		if err != nil {
			return LockStatus{}, upstream("expire lockout", err)
		}
		g.logger.DebugContext(ctx, "lockout expired", "key", key)
	}
	return g.status(rec, now), nil
}

// countFailure applies one failure to r and reports whether it locked r.
// An expired lock starts a fresh count.
func (g *AttemptGuard) countFailure(r *AttemptRecord, now time.Time) bool {
	if r.Locked {
		if g.remaining(*r, now) > 0 {
			return false
		}
		*r = AttemptRecord{Key: r.Key}
	}
	r.Attempts++
	r.UpdatedAt = now
	if r.Attempts >= g.threshold {
		r.Locked = true
		r.LockedAt = now
		return true
	}
	return false
}

// RecordFailure counts a failed attempt. A locked key is left as is; an
// expired lock starts a fresh count. The returned status is locked when the
// key is locked after this call and Tripped when this call locked it.
func (g *AttemptGuard) RecordFailure(ctx context.Context, key string) (LockStatus, error) {
	now := g.now()
	var tripped bool
	rec, err := g.store.Update(ctx, key, func(r *AttemptRecord) {
		tripped = g.countFailure(r, now)
	})
	if err != nil {
		return LockStatus{}, upstream("record failure", err)
	}
	st := g.status(rec, now)
	st.Tripped = tripped
	return st, nil
}

// Reserve counts an attempt against key before its secret is checked, in the
// same store transaction as the lock check. Parallel attempts therefore
// cannot all pass an open key: once threshold reservations are outstanding
// the key is locked. A reservation stands as a failure unless RecordSuccess
// or Refund settles it.
//
// When key was already locked nothing is counted and the status is Locked
// with Tripped unset. A reservation that reaches the threshold is Locked and
// Tripped; its secret must still be checked.
func (g *AttemptGuard) Reserve(ctx context.Context, key string) (LockStatus, error) {
	return g.RecordFailure(ctx, key)
}

// Refund withdraws a reservation whose secret could not be checked. A lock
// set by that reservation is lifted again. Refunding a rejected reservation
// is a no-op.
func (g *AttemptGuard) Refund(ctx context.Context, key string, reserved LockStatus) error {
	if reserved.Locked && !reserved.Tripped {
		return nil
	}
	_, err := g.store.Update(ctx, key, func(r *AttemptRecord) {
		if r.Attempts > 0 {
			r.Attempts--
		}
		if reserved.Tripped && r.Locked && r.Attempts < g.threshold {
			r.Locked = false
			r.LockedAt = time.Time{}
		}
	})
	if err != nil {
		return upstream("refund attempt", err)
	}
	return nil
}

// RecordSuccess clears the key unconditionally.
func (g *AttemptGuard) RecordSuccess(ctx context.Context, key string) error {
	if err := g.store.Delete(ctx, key); err != nil {
		return upstream("record success", err)
	}
	return nil
}

// Prune evicts records whose lock has expired or that have been idle for a
// full lockout period. It is a no-op for stores that evict on their own.
func (g *AttemptGuard) Prune(ctx context.Context) (int, error) {
	pruner, ok := g.store.(Pruner)
	if !ok {
		return 0, nil
	}
	now := g.now()
	n, err := pruner.Prune(ctx, func(r AttemptRecord) bool {
		if r.Locked {
			return g.remaining(r, now) == 0
		}
		return now.Sub(r.UpdatedAt) >= g.lockout
	})
	if err != nil {
		return 0, oops.With("operation", "prune attempt records").Wrap(err)
	}
	return n, nil
}

// RunJanitor prunes every interval until ctx is done.
func (g *AttemptGuard) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.Prune(ctx)
			if err != nil {
				g.logger.WarnContext(ctx, "attempt janitor failed", "error", err)
				continue
			}
			if n > 0 {
				g.logger.DebugContext(ctx, "pruned attempt records", "count", n)
			}
		}
	}
}
