// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package redisstore keeps login attempt state in Redis so that every
// instance behind a load balancer sees the same counters.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// DefaultKeyPrefix namespaces attempt records.
const DefaultKeyPrefix = "gatekeep:attempts:"

// AttemptStore implements auth.AttemptStore with optimistic WATCH/MULTI
// transactions. Records expire on their own, so it does not implement
// auth.Pruner.
type AttemptStore struct {
	rdb        redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxRetries uint64
	backoff    time.Duration
}

var _ auth.AttemptStore = (*AttemptStore)(nil)

// Option configures an AttemptStore.
type Option func(*AttemptStore)

// WithTTL sets how long an untouched record lives. It should be at least the
// lockout duration or locks will lapse early.
func WithTTL(ttl time.Duration) Option {
	return func(s *AttemptStore) { s.ttl = ttl }
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *AttemptStore) { s.prefix = prefix }
}

// WithMaxRetries bounds how often a conflicting transaction is retried.
func WithMaxRetries(n uint64) Option {
	return func(s *AttemptStore) { s.maxRetries = n }
}

// NewAttemptStore creates a store on rdb. The default TTL is twice the
// default lockout duration.
func NewAttemptStore(rdb redis.UniversalClient, opts ...Option) *AttemptStore {
	s := &AttemptStore{
		rdb:        rdb,
		prefix:     DefaultKeyPrefix,
		ttl:        2 * auth.DefaultLockoutDuration,
		maxRetries: 20,
		backoff:    5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AttemptStore) redisKey(key string) string {
	return s.prefix + key
}

// Get returns the record for key, or a clear record.
func (s *AttemptStore) Get(ctx context.Context, key string) (auth.AttemptRecord, error) {
	rec, err := load(ctx, s.rdb, s.redisKey(key), key)
	if err != nil {
		return auth.AttemptRecord{}, oops.Code("ATTEMPTS_GET_FAILED").With("key", key).Wrap(err)
	}
	return rec, nil
}

// Update runs fn inside a WATCH transaction and retries when another writer
// touched the key first. fn may therefore run more than once and must only
// depend on the record it is given.
func (s *AttemptStore) Update(ctx context.Context, key string, fn func(*auth.AttemptRecord)) (auth.AttemptRecord, error) {
	rkey := s.redisKey(key)
	var out auth.AttemptRecord

	txf := func(tx *redis.Tx) error {
		rec, err := load(ctx, tx, rkey, key)
		if err != nil {
			return err
		}
		fn(&rec)
		rec.Key = key
		if rec.IsClear() {
			rec = auth.AttemptRecord{Key: key}
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if rec.IsClear() {
				pipe.Del(ctx, rkey)
				return nil
			}
			pipe.Set(ctx, rkey, payload, s.ttl)
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	}

	backoff := retry.NewExponential(s.backoff)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithCappedDuration(200*time.Millisecond, backoff)
	backoff = retry.WithMaxRetries(s.maxRetries, backoff)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.rdb.Watch(ctx, txf, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return auth.AttemptRecord{}, oops.Code("ATTEMPTS_CONFLICT").With("key", key).Wrap(err)
		}
		return auth.AttemptRecord{}, oops.Code("ATTEMPTS_UPDATE_FAILED").With("key", key).Wrap(err)
	}
	return out, nil
}

// Delete removes the record for key.
func (s *AttemptStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return oops.Code("ATTEMPTS_DELETE_FAILED").With("key", key).Wrap(err)
	}
	return nil
}

// getter is satisfied by both clients and transactions.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, g getter, rkey, key string) (auth.AttemptRecord, error) {
	data, err := g.Get(ctx, rkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.AttemptRecord{Key: key}, nil
	}
	if err != nil {
		return auth.AttemptRecord{}, err
	}
	return decode(key, data)
}

func decode(key string, data []byte) (auth.AttemptRecord, error) {
	var rec auth.AttemptRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return auth.AttemptRecord{}, oops.Code("ATTEMPTS_CORRUPT").With("key", key).Wrap(err)
	}
	rec.Key = key
	return rec, nil
}
