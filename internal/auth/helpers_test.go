package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastArgon2Params() Argon2Params {
	return Argon2Params{Memory: 64, Time: 1, Threads: 1, KeyLen: 32, SaltLen: 16}
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(HasherOptions{Argon2: fastArgon2Params()})
	require.NoError(t, err)
	return h
}

func newTestTokens(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret", "HS256", time.Hour)
	require.NoError(t, err)
	return ts
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memAccounts is an AccountStore backed by a map.
type memAccounts struct {
	mu        sync.Mutex
	byEmail   map[string]*Account
	seq       int64
	updateErr error
	updates   int
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byEmail: map[string]*Account{}}
}

func (m *memAccounts) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byEmail[email]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *memAccounts) CreateAccount(_ context.Context, email, hash string, active bool) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[email]; ok {
		return nil, fmt.Errorf("insert account: %w", ErrConflict)
	}
	m.seq++
	a := &Account{ID: m.seq, Email: email, PasswordHash: hash, Active: active, CreatedAt: time.Now()}
	m.byEmail[email] = a
	cp := *a
	return &cp, nil
}

func (m *memAccounts) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.updateErr != nil {
		return m.updateErr
	}
	for _, a := range m.byEmail {
		if a.ID == id {
			a.PasswordHash = hash
			return nil
		}
	}
	return fmt.Errorf("account %d not found", id)
}

func (m *memAccounts) setActive(email string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[email].Active = active
}

func (m *memAccounts) hashOf(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEmail[email].PasswordHash
}
