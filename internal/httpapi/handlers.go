// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetRequest struct {
	Email    string `json:"email" binding:"required"`
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type claimsResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type profileResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// bind decodes the JSON body; malformed bodies are validation errors.
func (a *API) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		a.writeError(c, oops.Code(string(auth.KindValidation)).Wrap(auth.ErrValidation))
		return false
	}
	return true
}

func (a *API) setSessionCookie(c *gin.Context, s *auth.Session) {
	maxAge := int(s.ExpiresAt.Sub(a.now()).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, s.Token, maxAge, "/", "", a.secure, true)
}

func (a *API) signup(c *gin.Context) {
	var req credentialsRequest
	if !a.bind(c, &req) {
		return
	}
	session, err := a.svc.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(c, err)
		return
	}
	a.setSessionCookie(c, session)
	c.JSON(http.StatusCreated, sessionResponse{ID: session.Identity.ID.String(), Role: session.Identity.Role})
}

func (a *API) login(c *gin.Context) {
	var req credentialsRequest
	if !a.bind(c, &req) {
		return
	}
	session, err := a.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(c, err)
		return
	}
	a.setSessionCookie(c, session)
	c.JSON(http.StatusCreated, sessionResponse{ID: session.Identity.ID.String(), Role: session.Identity.Role})
}

func (a *API) logout(c *gin.Context) {
	if res := a.svc.Logout(c.Request.Context(), sessionToken(c)); res.ClearCookie {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(CookieName, "", -1, "/", "", a.secure, true)
	}
	c.Status(http.StatusOK)
}

func (a *API) check(c *gin.Context) {
	claims := claimsFrom(c)
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, claimsResponse{ID: claims.Subject, Email: claims.Email, Role: claims.Role, ExpiresAt: expires})
}

func (a *API) profile(c *gin.Context) {
	claims := claimsFrom(c)
	id, err := claims.IdentityID()
	if err != nil {
		a.writeError(c, err)
		return
	}
	identity, err := a.svc.Profile(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponse{
		ID:        identity.ID.String(),
		Email:     identity.Email,
		Role:      identity.Role,
		CreatedAt: identity.CreatedAt,
	})
}

// resetRequest answers the same way whether or not the email is registered.
func (a *API) resetRequest(c *gin.Context) {
	var req emailRequest
	if !a.bind(c, &req) {
		return
	}
	if _, err := a.svc.RequestReset(c.Request.Context(), req.Email); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) resetPassword(c *gin.Context) {
	var req resetRequest
	if !a.bind(c, &req) {
		return
	}
	res, err := a.svc.CompleteReset(c.Request.Context(), req.Email, req.Token, req.Password)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "confirmation_sent": res.Accepted})
}
