// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatekeep/gatekeep/internal/auth"
)

const claimsKey = "gatekeep.claims"

// sessionToken reads the cookie first, then an Authorization bearer header.
func sessionToken(c *gin.Context) string {
	if token, err := c.Cookie(CookieName); err == nil && token != "" {
		return token
	}
	if h := c.GetHeader("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

func (a *API) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.svc.CheckSession(c.Request.Context(), sessionToken(c))
		if err != nil {
			a.writeError(c, err)
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// accessLog logs one line per request. Query strings are dropped because
// reset links carry tokens.
func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := a.logger.Info
		if status >= http.StatusInternalServerError {
			level = a.logger.Warn
		}
		level("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

func (a *API) recoverer() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		a.logger.ErrorContext(c.Request.Context(), "panic in handler", "panic", recovered, "path", c.FullPath())
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Code:    string(auth.KindInternal),
			Message: messages[auth.KindInternal],
		})
	})
}
