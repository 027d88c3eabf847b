// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/httpapi"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type memRepo struct {
	mu   sync.Mutex
	byID map[ulid.ULID]*auth.Identity
}

func (r *memRepo) Create(_ context.Context, identity *auth.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == identity.Email {
			return auth.ErrEmailTaken
		}
	}
	c := *identity
	r.byID[identity.ID] = &c
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identity, ok := r.byID[id]; ok {
		c := *identity
		return &c, nil
	}
	return nil, auth.ErrNotFound
}

func (r *memRepo) GetByEmail(_ context.Context, email string) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range r.byID {
		if identity.Email == email {
			c := *identity
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memRepo) Save(_ context.Context, identity *auth.Identity) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[identity.ID]; !ok {
		return nil, auth.ErrNotFound
	}
	c := *identity
	r.byID[identity.ID] = &c
	out := c
	return &out, nil
}

func (r *memRepo) ConsumeReset(_ context.Context, id ulid.ULID, tokenHash string, passwordHash, salt []byte, now time.Time) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok || identity.ResetTokenHash != tokenHash || !identity.HasPendingReset(now) {
		return nil, auth.ErrResetConsumed
	}
	identity.PasswordHash = passwordHash
	identity.Salt = salt
	identity.ClearReset()
	identity.UpdatedAt = now
	c := *identity
	return &c, nil
}

type capturingMailer struct {
	mu   sync.Mutex
	sent []auth.Message
}

func (m *capturingMailer) Send(_ context.Context, msg auth.Message) (auth.DeliveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return auth.DeliveryResult{Accepted: true}, nil
}

func (m *capturingMailer) last() auth.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	router http.Handler
	mailer *capturingMailer
	clock  *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{now: time.Now().UTC()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := []auth.Option{auth.WithClock(clk.Now), auth.WithLogger(logger)}

	repo := &memRepo{byID: make(map[ulid.ULID]*auth.Identity)}
	hasher := auth.NewPBKDF2Hasher(auth.WithIterations(64))
	guard, err := auth.NewAttemptGuard(auth.NewMemoryAttemptStore(), opts...)
	require.NoError(t, err)
	verifier, err := auth.NewCredentialVerifier(repo, hasher, guard, opts...)
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer([]byte(testSecret), opts...)
	require.NoError(t, err)
	mailer := &capturingMailer{}
	resets, err := auth.NewResetFlow(repo, hasher, mailer, opts...)
	require.NoError(t, err)
	svc, err := auth.NewService(repo, hasher, verifier, tokens, resets, opts...)
	require.NoError(t, err)

	return &harness{
		router: httpapi.NewRouter(svc, httpapi.Options{Logger: logger, Now: clk.Now}),
		mailer: mailer,
		clock:  clk,
	}
}

func (h *harness) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = jsonBody(t, body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) bearer(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, body any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == httpapi.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", httpapi.CookieName)
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
