// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi_test

import (
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
)

func credentials(email, password string) map[string]string {
	return map[string]string{"email": email, "password": password}
}

func TestSignupLoginCheckProfile(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/auth/signup", credentials("Ada@Example.com", "correct horse"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, auth.RoleUser, body["role"])
	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.InDelta(t, time.Hour.Seconds(), float64(cookie.MaxAge), 2)

	rec = h.do(t, http.MethodPost, "/auth/login", credentials("ada@example.com", "correct horse"))
	require.Equal(t, http.StatusCreated, rec.Code)
	cookie = sessionCookie(t, rec)

	rec = h.do(t, http.MethodGet, "/auth/check", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", decode(t, rec)["email"])

	rec = h.do(t, http.MethodGet, "/users/own", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body["id"], decode(t, rec)["id"])
}

func TestSignup_DuplicateEmail(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/auth/signup", credentials("a@b.com", "correct horse")).Code)

	rec := h.do(t, http.MethodPost, "/auth/signup", credentials("a@b.com", "another secret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, string(auth.KindValidation), body["code"])
	assert.Contains(t, body["fields"], "email:email_taken")
}

func TestSignup_IgnoresRequestedRole(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/auth/signup", map[string]string{
		"email":    "mallory@example.com",
		"password": "correct horse",
		"role":     auth.RoleAdmin,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, auth.RoleUser, decode(t, rec)["role"])

	rec = h.do(t, http.MethodGet, "/auth/check", nil, sessionCookie(t, rec))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.RoleUser, decode(t, rec)["role"])
}

func TestLogin_LockoutScenario(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/auth/signup", credentials("a@b.com", "correct horse")).Code)

	for i := range 2 {
		rec := h.do(t, http.MethodPost, "/auth/login", credentials("a@b.com", "wrong"))
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
		assert.Equal(t, string(auth.KindInvalidCredentials), decode(t, rec)["code"])
	}

	rec := h.do(t, http.MethodPost, "/auth/login", credentials("a@b.com", "wrong"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(auth.KindAccountLocked), decode(t, rec)["code"])
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Equal(t, 600, retry)

	rec = h.do(t, http.MethodPost, "/auth/login", credentials("a@b.com", "correct horse"))
	assert.Equal(t, string(auth.KindAccountLocked), decode(t, rec)["code"])

	h.clock.Advance(601 * time.Second)
	rec = h.do(t, http.MethodPost, "/auth/login", credentials("a@b.com", "correct horse"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestLogin_UnknownAndInvalidBodies(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/auth/login", credentials("ghost@example.com", "whatever"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(auth.KindInvalidCredentials), decode(t, rec)["code"])

	rec = h.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@b.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/auth/login", credentials("not-an-email", "whatever"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheck_RequiresSession(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/auth/check", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(auth.KindInvalidToken), decode(t, rec)["code"])

	rec = h.do(t, http.MethodGet, "/auth/check", nil, &http.Cookie{Name: "jwt", Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheck_BearerHeaderAndExpiry(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/auth/signup", credentials("a@b.com", "correct horse"))
	token := sessionCookie(t, rec).Value

	rec = h.bearer(t, "/auth/check", token)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.clock.Advance(time.Hour + time.Minute)
	rec = h.bearer(t, "/auth/check", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_ExpiresCookie(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/auth/signup", credentials("a@b.com", "correct horse"))
	cookie := sessionCookie(t, rec)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec = h.do(t, method, "/auth/logout", nil, cookie)
		assert.Equal(t, http.StatusOK, rec.Code)
		cleared := sessionCookie(t, rec)
		assert.Empty(t, cleared.Value)
		assert.Negative(t, cleared.MaxAge)
	}
}

var resetLink = regexp.MustCompile(`href='([^']+)'`)

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/auth/signup", credentials("a@b.com", "old secret")).Code)

	t.Run("unknown email looks the same", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/auth/reset-password-request", map[string]string{"email": "ghost@example.com"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode(t, rec)["status"])
	})

	rec := h.do(t, http.MethodPost, "/auth/reset-password-request", map[string]string{"email": "a@b.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	match := resetLink.FindStringSubmatch(h.mailer.last().HTML)
	require.Len(t, match, 2)
	link, err := url.Parse(html.UnescapeString(match[1]))
	require.NoError(t, err)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)

	t.Run("wrong token", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/auth/reset-password", map[string]string{
			"email": "a@b.com", "token": "deadbeef", "password": "new secret",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, string(auth.KindInvalidResetToken), decode(t, rec)["code"])
	})

	rec = h.do(t, http.MethodPost, "/auth/reset-password", map[string]string{
		"email": "a@b.com", "token": token, "password": "new secret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["confirmation_sent"])
	assert.Equal(t, auth.ResetCompleteSubject, h.mailer.last().Subject)

	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodPost, "/auth/login", credentials("a@b.com", "old secret")).Code)
	assert.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/auth/login", credentials("a@b.com", "new secret")).Code)
}
