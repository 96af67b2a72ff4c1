// Package auth implements operator authentication for routerctl: argon2id
// password verification and a single-session store with creation cooldown.
// The router has exactly one operator account, so at most one session is
// active at a time; signing in during the cooldown window is refused even
// with the correct password.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sentinel errors returned by the auth service.
var (
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrSessionCooldown   = errors.New("session creation is on cooldown")
	ErrTooManyAttempts   = errors.New("too many sign-in attempts")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrSessionExpired    = errors.New("session expired")
)

// Session is the single active operator session.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Service verifies the operator password and manages the session record.
// The session is the only shared mutable state in the process; every
// read-modify-write takes the one lock.
type Service struct {
	hash     phcHash
	ttl      time.Duration
	cooldown time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu     sync.Mutex
	active *Session

	now func() time.Time
}

// NewService parses the argon2id PHC hash string and builds the service.
// ttl bounds session lifetime; cooldown is the minimum age the current
// session must reach before a new sign-in may replace it.
func NewService(passwordHash string, ttl, cooldown time.Duration, logger *zap.Logger) (*Service, error) {
	hash, err := parsePHC(passwordHash)
	if err != nil {
		return nil, err
	}
	return &Service{
		hash:     hash,
		ttl:      ttl,
		cooldown: cooldown,
		// Password verification is deliberately slow; cap how often it can
		// be provoked at all.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// SignIn verifies the password and replaces the active session, subject to
// the cooldown. Returns the new session ID.
func (s *Service) SignIn(password string) (uuid.UUID, error) {
	if !s.limiter.Allow() {
		return uuid.Nil, ErrTooManyAttempts
	}
	if !s.hash.verify(password) {
		return uuid.Nil, ErrIncorrectPassword
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.active != nil && now.Before(s.active.CreatedAt.Add(s.cooldown)) {
		return uuid.Nil, ErrSessionCooldown
	}

	session := &Session{
		ID:        uuid.New(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.active = session
	s.logger.Info("operator signed in",
		zap.Time("expires_at", session.ExpiresAt),
	)
	return session.ID, nil
}

// Validate checks that id names the active, unexpired session.
func (s *Service) Validate(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.ID != id {
		return ErrUnauthenticated
	}
	if s.now().After(s.active.ExpiresAt) {
		s.active = nil
		return ErrSessionExpired
	}
	return nil
}

// SignOut clears the active session. Safe to call with none active.
func (s *Service) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
}
