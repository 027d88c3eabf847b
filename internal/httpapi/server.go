// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package httpapi exposes the auth service over HTTP with gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// CookieName is the session cookie set on login and signup.
const CookieName = "jwt"

// AuthService is the part of *auth.Service the HTTP layer calls.
type AuthService interface {
	Login(ctx context.Context, email, secret string) (*auth.Session, error)
	Register(ctx context.Context, email, secret string) (*auth.Session, error)
	Logout(ctx context.Context, token string) auth.LogoutResult
	CheckSession(ctx context.Context, token string) (*auth.Claims, error)
	Profile(ctx context.Context, id ulid.ULID) (*auth.Identity, error)
	RequestReset(ctx context.Context, email string) (auth.DeliveryResult, error)
	CompleteReset(ctx context.Context, email, token, newSecret string) (auth.DeliveryResult, error)
}

// Options configures the router.
type Options struct {
	// CookieSecure sets the Secure attribute on the session cookie.
	CookieSecure bool
	Logger       *slog.Logger
	// Now is used for cookie expiry; defaults to time.Now.
	Now func() time.Time
}

// API holds the handlers.
type API struct {
	svc    AuthService
	secure bool
	logger *slog.Logger
	now    func() time.Time
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(svc AuthService, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	api := &API{
		svc:    svc,
		secure: opts.CookieSecure,
		logger: opts.Logger.With("component", "http"),
		now:    opts.Now,
	}

	r := gin.New()
	r.Use(api.recoverer(), api.accessLog())

	authGroup := r.Group("/auth")
	authGroup.POST("/signup", api.signup)
	authGroup.POST("/login", api.login)
	authGroup.GET("/logout", api.logout)
	authGroup.POST("/logout", api.logout)
	authGroup.GET("/check", api.requireSession(), api.check)
	authGroup.POST("/reset-password-request", api.resetRequest)
	authGroup.POST("/reset-password", api.resetPassword)

	r.GET("/users/own", api.requireSession(), api.profile)
	return r
}

// Server wraps http.Server with the lifecycle the serve command needs.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		logger: logger.With("component", "http"),
	}
}

// Run serves until ctx is done, then drains for up to shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return oops.Code("HTTP_SERVE_FAILED").With("addr", s.http.Addr).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
	}
	s.logger.Info("http server stopped")
	return nil
}
