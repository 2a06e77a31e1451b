package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/jobtracker/internal/logger"
)

// Denylist records revoked token ids until the token would have expired.
type Denylist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AccountLookup is the read side of AccountStore used by the guard.
type AccountLookup interface {
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
}

// Guard resolves bearer tokens on protected requests to live accounts.
type Guard struct {
	tokens   *TokenService
	accounts AccountLookup
	denylist Denylist
	log      *zap.Logger
}

// NewGuard builds a Guard. denylist may be nil, in which case tokens are
// purely stateless and Revoke returns ErrRevocationDisabled.
func NewGuard(tokens *TokenService, accounts AccountLookup, denylist Denylist, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{tokens: tokens, accounts: accounts, denylist: denylist, log: log}
}

// RevocationEnabled reports whether a denylist is configured.
func (g *Guard) RevocationEnabled() bool { return g.denylist != nil }

// Resolve validates token and returns the account it was issued to. Every
// token or lookup failure is ErrUnauthorized; an inactive account is
// ErrForbidden. Store and denylist outages are returned as-is.
func (g *Guard) Resolve(ctx context.Context, token string) (*Account, error) {
	claims, err := g.tokens.Parse(token)
	if err != nil {
		logger.With(ctx, g.log).Debug("reject token", zap.Error(err))
		return nil, ErrUnauthorized
	}

	if g.denylist != nil && claims.ID != "" {
		revoked, err := g.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return nil, ErrUnauthorized
		}
	}

	acc, err := g.accounts.GetAccountByEmail(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if acc == nil {
		return nil, ErrUnauthorized
	}
	if !acc.Active {
		return nil, ErrForbidden
	}
	return acc, nil
}

// Revoke denylists token until its expiry. Already expired or invalid
// tokens are ErrUnauthorized.
func (g *Guard) Revoke(ctx context.Context, token string) error {
	if g.denylist == nil {
		return ErrRevocationDisabled
	}
	claims, err := g.tokens.Parse(token)
	if err != nil {
		return ErrUnauthorized
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return fmt.Errorf("%w: token has no id", ErrUnauthorized)
	}

	ttl := claims.ExpiresAt.Sub(g.tokens.now())
	if ttl <= 0 {
		return ErrUnauthorized
	}
	if err := g.denylist.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	logger.With(ctx, g.log).Info("token revoked", zap.String("subject", logger.MaskEmail(claims.Subject)))
	return nil
}
