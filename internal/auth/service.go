package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/jobtracker/internal/logger"
)

// Account is the persisted identity the core authenticates against.
type Account struct {
	ID           int64
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// AccountRef identifies a newly registered account.
type AccountRef struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// AccountStore is the persistence the core depends on. GetAccountByEmail
// returns (nil, nil) when no account matches. CreateAccount returns an error
// wrapping ErrConflict when the email is taken.
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	CreateAccount(ctx context.Context, email, passwordHash string, active bool) (*Account, error)
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
}

// Service runs the registration and login flows.
type Service struct {
	accounts AccountStore
	hasher   *Hasher
	tokens   *TokenService
	throttle *LoginThrottle
	log      *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewService wires the flow controller. A nil logger discards output.
func NewService(accounts AccountStore, hasher *Hasher, tokens *TokenService, throttle *LoginThrottle, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		throttle: throttle,
		log:      log,
	}
}

// Register creates an active account for email. No token is issued.
func (s *Service) Register(ctx context.Context, email, password string) (*AccountRef, error) {
	existing, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if existing != nil {
		return nil, ErrConflict
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	acc, err := s.accounts.CreateAccount(ctx, email, hash, true)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &AccountRef{ID: acc.ID, Email: acc.Email}, nil
}

// Login checks the throttle, verifies the password and returns a signed
// access token. Unknown emails and wrong passwords both yield
// ErrBadCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	if !s.throttle.Allow(email) {
		logger.With(ctx, s.log).Info("login throttled", zap.String("email", logger.MaskEmail(email)))
		return "", ErrRateLimited
	}

	acc, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}
	if acc == nil {
		// Keep the unknown-account path as slow as a real verification.
		s.hasher.Verify(password, s.dummy())
		return "", ErrBadCredentials
	}

	if !s.hasher.Verify(password, acc.PasswordHash) {
		return "", ErrBadCredentials
	}

	if s.hasher.NeedsUpgrade(acc.PasswordHash) {
		s.rehash(ctx, acc, password)
	}

	token, err := s.tokens.Issue(acc.Email)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// rehash replaces the stored credential. Failures never fail the login.
func (s *Service) rehash(ctx context.Context, acc *Account, password string) {
	log := logger.With(ctx, s.log)
	hash, err := s.hasher.Hash(password)
	if err != nil {
		log.Warn("rehash password", zap.Int64("account_id", acc.ID), zap.Error(err))
		return
	}
	if err := s.accounts.UpdatePasswordHash(ctx, acc.ID, hash); err != nil {
		log.Warn("persist upgraded password hash", zap.Int64("account_id", acc.ID), zap.Error(err))
		return
	}
	log.Debug("password hash upgraded", zap.Int64("account_id", acc.ID))
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("dummy-password-for-timing")
		if err != nil {
			s.log.Warn("build dummy hash", zap.Error(err))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}
