// Package session holds the process-wide credential used to call the
// records API. It is created once in main, initialised on start and cleared
// on logout; nothing reaches it except through the injected *Session.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

var (
	ErrNoSession = errors.New("no active session")
	ErrExpired   = errors.New("session expired")
)

type Session struct {
	mu        sync.RWMutex
	token     string
	subject   string
	expiresAt time.Time
	logger    zerolog.Logger

	now func() time.Time
}

func New(logger zerolog.Logger) *Session {
	return &Session{logger: logger, now: time.Now}
}

// Init installs token as the active credential. A JWT's subject and expiry
// are read without verifying the signature, since the records API is the
// party that verifies it. Opaque tokens never expire locally.
func (s *Session) Init(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoSession
	}

	var subject string
	var exp time.Time
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		subject = claims.Subject
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
	}

	s.mu.Lock()
	s.token, s.subject, s.expiresAt = token, subject, exp
	s.mu.Unlock()

	evt := s.logger.Info().Str("subject", subject)
	if !exp.IsZero() {
		evt = evt.Time("expires_at", exp)
	}
	evt.Msg("records session initialised")
	return nil
}

// Token returns the active credential for an outbound call.
func (s *Session) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoSession
	}
	if s.expiredLocked() {
		return "", ErrExpired
	}
	return s.token, nil
}

// Clear drops the credential. Later calls to Token fail with ErrNoSession.
func (s *Session) Clear() {
	s.mu.Lock()
	had := s.token != ""
	s.token, s.subject, s.expiresAt = "", "", time.Time{}
	s.mu.Unlock()
	if had {
		s.logger.Info().Msg("records session cleared")
	}
}

// Active reports whether a non-expired credential is installed.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && !s.expiredLocked()
}

// Expired reports whether the installed credential is past its expiry.
func (s *Session) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.expiredLocked()
}

func (s *Session) expiredLocked() bool {
	return !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt)
}

// Status is the JSON view of the session.
type Status struct {
	Active    bool       `json:"active"`
	Expired   bool       `json:"expired"`
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Active:  s.token != "" && !s.expiredLocked(),
		Expired: s.token != "" && s.expiredLocked(),
		Subject: s.subject,
	}
	if !s.expiresAt.IsZero() {
		exp := s.expiresAt
		st.ExpiresAt = &exp
	}
	return st
}

func (s *Session) RegisterRoutes(api *echo.Group) {
	g := api.Group("/session", auth.RequireRole(auth.RoleAdmin))
	g.GET("", s.handleStatus)
	g.POST("/logout", s.handleLogout)
}

func (s *Session) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Status())
}

func (s *Session) handleLogout(c echo.Context) error {
	s.Clear()
	return c.NoContent(http.StatusNoContent)
}
