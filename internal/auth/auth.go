// Package auth implements credential checks and session token issuance.
// Repeated failures lock the account for a configurable window; the
// counters live in Redis so every API instance sees the same state.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/caneko-app/caneko-server/internal/cache"
	"github.com/caneko-app/caneko-server/internal/config"
	"github.com/caneko-app/caneko-server/internal/metrics"
	"github.com/caneko-app/caneko-server/internal/middleware"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/pkg/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is inactive or outside its validity window")
	ErrAccountLocked      = errors.New("account is temporarily locked")
)

// Service handles login and password management
type Service struct {
	store store.Store
	cache *cache.Cache
	cfg   config.AuthConfig
}

// NewService creates an auth service
func NewService(st store.Store, c *cache.Cache, cfg config.AuthConfig) *Service {
	return &Service{store: st, cache: c, cfg: cfg}
}

// Login verifies credentials and returns a signed session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	remaining, err := s.cache.LockRemaining(ctx, email)
	if err != nil {
		log.Warn().Err(err).Msg("lockout check failed, continuing without it")
	} else if remaining > 0 {
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		return "", nil, ErrAccountLocked
	}

	var user models.User
	if err := s.store.FindOne(ctx, store.CollectionUsers, "email", email, &user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.recordFailure(ctx, email)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordFailure(ctx, email)
		return "", nil, ErrInvalidCredentials
	}

	if !user.Active || !user.WithinValidity(time.Now()) {
		metrics.LoginAttemptsTotal.WithLabelValues("inactive").Inc()
		return "", nil, ErrAccountInactive
	}

	if err := s.cache.ClearLoginAttempts(ctx, email); err != nil {
		log.Warn().Err(err).Msg("failed to clear login attempts")
	}

	token, err := middleware.GenerateToken(&user, s.cfg.TokenTTL)
	if err != nil {
		return "", nil, err
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	return token, &user, nil
}

func (s *Service) recordFailure(ctx context.Context, email string) {
	metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()

	count, err := s.cache.RegisterFailedLogin(ctx, email, s.cfg.LockoutDuration)
	if err != nil {
		log.Warn().Err(err).Msg("failed to record login failure")
		return
	}

	if count >= int64(s.cfg.LockoutAttempts) {
		if err := s.cache.LockAccount(ctx, email, s.cfg.LockoutDuration); err != nil {
			log.Warn().Err(err).Msg("failed to lock account")
		}
	}
}

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
