package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/example/jobtracker/internal/auth"
)

const defaultDenylistPrefix = "jobtracker:revoked"

// Denylist stores revoked access-token ids in Redis with a TTL matching the
// remaining token lifetime.
type Denylist struct {
	client *red.Client
	prefix string
}

// NewDenylist wires a Redis client into a token denylist.
func NewDenylist(client *red.Client, keyPrefix string) *Denylist {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultDenylistPrefix
	}
	return &Denylist{client: client, prefix: prefix}
}

// Revoke marks jti revoked for ttl.
func (d *Denylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	key := d.key(jti)
	if key == "" {
		return errors.New("jti must not be empty")
	}
	if err := d.client.Set(ctx, key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked jti: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti has been revoked and not yet expired.
func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	key := d.key(jti)
	if key == "" {
		return false, errors.New("jti must not be empty")
	}
	n, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists revoked jti: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity.
func (d *Denylist) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *Denylist) key(jti string) string {
	trimmed := strings.TrimSpace(jti)
	if trimmed == "" {
		return ""
	}
	return d.prefix + ":" + trimmed
}

var _ auth.Denylist = (*Denylist)(nil)
