// Package auth signs cashiers in and out, feeding the failed-login
// monitor and the breadcrumb trail along the way.
package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kuppel/kuppel.go"
	"github.com/kuppel/kuppel.go/pkg/logger"
	"github.com/kuppel/kuppel.go/pkg/monitoring"
	"github.com/kuppel/kuppel.go/pkg/notify"
	"github.com/kuppel/kuppel.go/pkg/security"
	"github.com/kuppel/kuppel.go/pkg/validation"
)

// ErrLockedOut is returned while the local monitor is locked. The backend
// is not contacted.
var ErrLockedOut = errors.New("too many failed login attempts")

const breadcrumbCategory = "auth"

// Backend is the part of *kuppel.DB that auth needs.
type Backend interface {
	SignIn(ctx context.Context, a kuppel.Auth) (string, error)
	Invalidate(ctx context.Context) error
}

var _ Backend = (*kuppel.DB)(nil)

type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role,omitempty"`
	CompanyID string    `json:"company_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Token     string    `json:"-"`
}

// Expired reports whether the token expiry has passed. Sessions without
// an expiry never expire locally.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	CompanyID string `json:"company_id"`
}

// ParseSession reads the session from the token claims. The signature is
// not verified; the backend already did that when it issued the token.
func ParseSession(token string) (*Session, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	s := &Session{
		UserID:    c.Subject,
		Email:     c.Email,
		Role:      c.Role,
		CompanyID: c.CompanyID,
		Token:     token,
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s, nil
}

type Service struct {
	backend  Backend
	monitor  *security.Monitor
	tracker  *monitoring.Monitor
	notifier notify.Notifier
	catalog  notify.Catalog
	logger   logger.Logger
	now      func() time.Time
}

type Option func(s *Service)

func WithSecurityMonitor(m *security.Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

func WithMonitoring(m *monitoring.Monitor) Option {
	return func(s *Service) { s.tracker = m }
}

func WithNotifier(n notify.Notifier, c notify.Catalog) Option {
	return func(s *Service) { s.notifier, s.catalog = n, c }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		notifier: notify.Discard,
		catalog:  notify.NewCatalog(notify.DefaultLocale),
		logger:   logger.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.monitor == nil {
		s.monitor = security.NewMonitor(security.WithLogger(s.logger))
	}
	if s.tracker == nil {
		s.tracker = monitoring.New(monitoring.WithLogger(s.logger))
	}
	return s
}

func (s *Service) SecurityMonitor() *security.Monitor { return s.monitor }

// Login validates the input, refuses while locked out and signs in.
// Validation problems come back as *validation.Error and do not count as
// failed attempts.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if s.monitor.Locked() {
		minutes := s.minutesUntilUnlock()
		s.tracker.AddBreadcrumb(breadcrumbCategory, "login refused while locked", monitoring.LevelWarning,
			map[string]any{"email": email, "minutes": minutes})
		s.notifier.Notify(s.destructive(notify.KeyLoginLocked, minutes))
		return nil, ErrLockedOut
	}

	if err := validation.First(validation.Email(email), validation.Password(password)).Err(); err != nil {
		return nil, err
	}

	token, err := s.backend.SignIn(ctx, kuppel.Auth{Email: email, Password: password})
	if err != nil {
		s.failed(email, err)
		return nil, err
	}

	session, err := ParseSession(token)
	if err != nil {
		s.logger.Error("unreadable session token", "error", err)
		s.tracker.CaptureError(ctx, err, map[string]string{"category": breadcrumbCategory})
		return nil, err
	}

	s.monitor.RecordSuccess()
	s.tracker.AddBreadcrumb(breadcrumbCategory, "login succeeded", monitoring.LevelInfo,
		map[string]any{"user_id": session.UserID, "token": token})
	return session, nil
}

// Logout ends the backend session. The breadcrumb is left even when the
// backend call fails.
func (s *Service) Logout(ctx context.Context) error {
	err := s.backend.Invalidate(ctx)
	level := monitoring.LevelInfo
	data := map[string]any{}
	if err != nil {
		level = monitoring.LevelError
		data["error"] = err.Error()
	}
	s.tracker.AddBreadcrumb(breadcrumbCategory, "logout", level, data)
	return err
}

func (s *Service) failed(email string, err error) {
	events := s.monitor.RecordFailure(email)
	last := events[len(events)-1]

	s.tracker.AddBreadcrumb(breadcrumbCategory, "login failed", monitoring.LevelWarning, map[string]any{
		"email":    email,
		"attempts": last.Attempts,
		"severity": string(last.Severity),
		"error":    err.Error(),
	})

	switch s.monitor.State() {
	case security.StateLocked:
		s.notifier.Notify(s.destructive(notify.KeyLoginLocked, s.minutesUntilUnlock()))
	case security.StateWarned:
		s.notifier.Notify(s.destructive(notify.KeySecurityWarning, s.monitor.RemainingAttempts()))
	default:
		s.notifier.Notify(notify.Failure(s.catalog, notify.KeyLoginFailed, nil))
	}
}

func (s *Service) destructive(key string, n int) notify.Toast {
	return notify.Toast{
		Title:       s.catalog.T(notify.KeyErrorTitle),
		Description: s.catalog.T(key, n),
		Variant:     notify.Destructive,
	}
}

func (s *Service) minutesUntilUnlock() int {
	left := s.monitor.UnlocksAt().Sub(s.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}
