// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/audit"
	"github.com/gatekeep/gatekeep/internal/auth"
)

// testIterations keeps derivations fast in unit tests.
const testIterations = 64

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeIdentityRepo is an in-memory IdentityRepository.
type fakeIdentityRepo struct {
	mu         sync.Mutex
	byEmail    map[string]*auth.Identity
	getErr     error
	saveErr    error
	saveCalls  int
	createCall int
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{byEmail: make(map[string]*auth.Identity)}
}

func clone(i *auth.Identity) *auth.Identity {
	c := *i
	c.PasswordHash = append([]byte(nil), i.PasswordHash...)
	c.Salt = append([]byte(nil), i.Salt...)
	return &c
}

func (r *fakeIdentityRepo) Create(_ context.Context, identity *auth.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCall++
	if _, ok := r.byEmail[identity.Email]; ok {
		return auth.ErrEmailTaken
	}
	r.byEmail[identity.Email] = clone(identity)
	return nil
}

func (r *fakeIdentityRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	for _, identity := range r.byEmail {
		if identity.ID == id {
			return clone(identity), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *fakeIdentityRepo) GetByEmail(_ context.Context, email string) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	identity, ok := r.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return clone(identity), nil
}

func (r *fakeIdentityRepo) Save(_ context.Context, identity *auth.Identity) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCalls++
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	if _, ok := r.byEmail[identity.Email]; !ok {
		return nil, auth.ErrNotFound
	}
	r.byEmail[identity.Email] = clone(identity)
	return clone(identity), nil
}

func (r *fakeIdentityRepo) ConsumeReset(_ context.Context, id ulid.ULID, tokenHash string, passwordHash, salt []byte, now time.Time) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCalls++
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	for email, identity := range r.byEmail {
		if identity.ID != id {
			continue
		}
		if identity.ResetTokenHash != tokenHash || !identity.HasPendingReset(now) {
			return nil, auth.ErrResetConsumed
		}
		identity.PasswordHash = append([]byte(nil), passwordHash...)
		identity.Salt = append([]byte(nil), salt...)
		identity.ClearReset()
		identity.UpdatedAt = now
		r.byEmail[email] = identity
		return clone(identity), nil
	}
	return nil, auth.ErrResetConsumed
}

func (r *fakeIdentityRepo) stored(email string) *auth.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byEmail[email])
}

// seedIdentity stores an identity with the given secret.
func seedIdentity(t *testing.T, repo *fakeIdentityRepo, hasher auth.PasswordHasher, email, secret string) *auth.Identity {
	t.Helper()
	salt, err := hasher.NewSalt()
	require.NoError(t, err)
	digest, err := hasher.Hash(context.Background(), secret, salt)
	require.NoError(t, err)
	identity, err := auth.NewIdentity(email, auth.RoleUser, digest, salt)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), identity))
	return identity
}

// fakeMailer records messages and optionally fails.
type fakeMailer struct {
	mu       sync.Mutex
	messages []auth.Message
	err      error
	failOn   string
}

func (m *fakeMailer) Send(_ context.Context, msg auth.Message) (auth.DeliveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil && (m.failOn == "" || m.failOn == msg.Subject) {
		return auth.DeliveryResult{}, m.err
	}
	m.messages = append(m.messages, msg)
	return auth.DeliveryResult{Accepted: true, MessageID: "msg-1"}, nil
}

func (m *fakeMailer) sent() []auth.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auth.Message(nil), m.messages...)
}

// recordingAudit captures audit events.
type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Record(_ context.Context, event audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAudit) outcomes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Outcome)
	}
	return out
}

// failingAttemptStore fails every operation.
type failingAttemptStore struct{}

var errStoreDown = errors.New("store down")

func (failingAttemptStore) Get(context.Context, string) (auth.AttemptRecord, error) {
	return auth.AttemptRecord{}, errStoreDown
}

func (failingAttemptStore) Update(context.Context, string, func(*auth.AttemptRecord)) (auth.AttemptRecord, error) {
	return auth.AttemptRecord{}, errStoreDown
}

func (failingAttemptStore) Delete(context.Context, string) error { return errStoreDown }

// countingObserver counts lockouts.
type countingObserver struct {
	lockouts atomic.Int32
}

func (o *countingObserver) LoginOutcome(string)         {}
func (o *countingObserver) Lockout()                    { o.lockouts.Add(1) }
func (o *countingObserver) ResetOutcome(string, string) {}

// gatedHasher holds every Verify call until gate is closed, so tests can line
// up concurrent attempts. A stuck gate opens by itself after two seconds.
type gatedHasher struct {
	auth.PasswordHasher
	gate  chan struct{}
	calls atomic.Int32
	err   error
}

func newGatedHasher(inner auth.PasswordHasher) *gatedHasher {
	return &gatedHasher{PasswordHasher: inner, gate: make(chan struct{})}
}

func (h *gatedHasher) Verify(ctx context.Context, secret string, salt, digest []byte) (bool, error) {
	h.calls.Add(1)
	select {
	case <-h.gate:
	case <-time.After(2 * time.Second):
	}
	if h.err != nil {
		return false, h.err
	}
	return h.PasswordHasher.Verify(ctx, secret, salt, digest)
}
