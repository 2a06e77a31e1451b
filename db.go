package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/jobtracker/internal/auth"
)

var (
	errNotFound      = errors.New("not found")
	errCompanyExists = errors.New("company already exists")
)

// DB interface for database operations. Every tracker operation is scoped
// to ownerID; rows owned by someone else behave as absent.
type DB interface {
	Init() error
	// Account operations
	auth.AccountStore
	SetAccountActive(ctx context.Context, email string, active bool) error
	// Company operations
	CreateCompany(ctx context.Context, ownerID int64, name string, website *string) (*Company, error)
	ListCompanies(ctx context.Context, ownerID int64) ([]*Company, error)
	GetCompany(ctx context.Context, ownerID, id int64) (*Company, error)
	DeleteCompany(ctx context.Context, ownerID, id int64) error
	// Application operations
	CreateApplication(ctx context.Context, a *Application) (*Application, error)
	ListApplications(ctx context.Context, ownerID int64, f ApplicationFilter) ([]*Application, error)
	GetApplication(ctx context.Context, ownerID, id int64) (*Application, error)
	UpdateApplication(ctx context.Context, ownerID, id int64, p ApplicationPatch) (*Application, error)
	DeleteApplication(ctx context.Context, ownerID, id int64) error
	CountApplicationsByStatus(ctx context.Context, ownerID int64) (map[ApplicationStatus]int, error)
	// Follow-up operations
	CreateFollowUp(ctx context.Context, ownerID, applicationID int64, note string) (*FollowUp, error)
	ListFollowUps(ctx context.Context, ownerID, applicationID int64) ([]*FollowUp, error)
	RecentFollowUps(ctx context.Context, ownerID int64, limit int) ([]*FollowUp, error)
	DeleteFollowUp(ctx context.Context, ownerID, id int64) error
}

// Memory DB
type MemDB struct {
	mu           sync.RWMutex
	accounts     map[string]*auth.Account
	companies    map[int64]*Company
	applications map[int64]*Application
	followups    map[int64]*FollowUp
	seq          int64
	now          func() time.Time
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		accounts:     map[string]*auth.Account{},
		companies:    map[int64]*Company{},
		applications: map[int64]*Application{},
		followups:    map[int64]*FollowUp{},
		now:          time.Now,
	}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *MemDB) GetAccountByEmail(_ context.Context, email string) (*auth.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.accounts[email]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) CreateAccount(_ context.Context, email, passwordHash string, active bool) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[email]; ok {
		return nil, fmt.Errorf("create account: %w", auth.ErrConflict)
	}
	a := &auth.Account{ID: m.nextID(), Email: email, PasswordHash: passwordHash, Active: active, CreatedAt: m.now().UTC()}
	m.accounts[email] = a
	cp := *a
	return &cp, nil
}

func (m *MemDB) UpdatePasswordHash(_ context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ID == id {
			a.PasswordHash = passwordHash
			return nil
		}
	}
	return errNotFound
}

func (m *MemDB) SetAccountActive(_ context.Context, email string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[email]
	if !ok {
		return errNotFound
	}
	a.Active = active
	return nil
}

func (m *MemDB) CreateCompany(_ context.Context, ownerID int64, name string, website *string) (*Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.companies {
		if c.OwnerID == ownerID && c.Name == name {
			return nil, errCompanyExists
		}
	}
	c := &Company{ID: m.nextID(), OwnerID: ownerID, Name: name, Website: website, CreatedAt: m.now().UTC()}
	m.companies[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *MemDB) ListCompanies(_ context.Context, ownerID int64) ([]*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Company{}
	for _, c := range m.companies {
		if c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemDB) GetCompany(_ context.Context, ownerID, id int64) (*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.companies[id]; ok && c.OwnerID == ownerID {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) DeleteCompany(_ context.Context, ownerID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok || c.OwnerID != ownerID {
		return errNotFound
	}
	for appID, a := range m.applications {
		if a.CompanyID == id {
			m.deleteApplicationLocked(appID)
		}
	}
	delete(m.companies, id)
	return nil
}

func (m *MemDB) CreateApplication(_ context.Context, a *Application) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.companies[a.CompanyID]; !ok || c.OwnerID != a.OwnerID {
		return nil, errNotFound
	}
	stored := *a
	stored.ID = m.nextID()
	stored.CreatedAt = m.now().UTC()
	m.applications[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

func (m *MemDB) ListApplications(_ context.Context, ownerID int64, f ApplicationFilter) ([]*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Application{}
	for _, a := range m.applications {
		if a.OwnerID != ownerID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.CompanyID != 0 && a.CompanyID != f.CompanyID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sortApplications(out, f.OrderBy, f.Desc)

	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Offset >= len(out) {
		return []*Application{}, nil
	}
	out = out[f.Offset:]
	if f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// sortApplications orders like the SQL stores: by column then id, with
// null applied_at sorting first ascending.
func sortApplications(apps []*Application, orderBy string, desc bool) {
	compare := func(a, b *Application) int {
		switch orderBy {
		case "position":
			return strings.Compare(a.Position, b.Position)
		case "status":
			return strings.Compare(string(a.Status), string(b.Status))
		case "applied_at":
			switch {
			case a.AppliedAt == nil && b.AppliedAt == nil:
				return 0
			case a.AppliedAt == nil:
				return -1
			case b.AppliedAt == nil:
				return 1
			}
			return a.AppliedAt.Compare(b.AppliedAt.Time)
		}
		return 0
	}
	sort.SliceStable(apps, func(i, j int) bool {
		c := compare(apps[i], apps[j])
		if c == 0 {
			c = cmp.Compare(apps[i].ID, apps[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func (m *MemDB) GetApplication(_ context.Context, ownerID, id int64) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.applications[id]; ok && a.OwnerID == ownerID {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) UpdateApplication(_ context.Context, ownerID, id int64, p ApplicationPatch) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applications[id]
	if !ok || a.OwnerID != ownerID {
		return nil, errNotFound
	}
	if p.CompanyID != nil {
		if c, ok := m.companies[*p.CompanyID]; !ok || c.OwnerID != ownerID {
			return nil, errNotFound
		}
	}
	p.apply(a)
	cp := *a
	return &cp, nil
}

func (m *MemDB) DeleteApplication(_ context.Context, ownerID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applications[id]
	if !ok || a.OwnerID != ownerID {
		return errNotFound
	}
	m.deleteApplicationLocked(id)
	return nil
}

func (m *MemDB) deleteApplicationLocked(id int64) {
	for fid, f := range m.followups {
		if f.ApplicationID == id {
			delete(m.followups, fid)
		}
	}
	delete(m.applications, id)
}

func (m *MemDB) CountApplicationsByStatus(_ context.Context, ownerID int64) (map[ApplicationStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[ApplicationStatus]int{}
	for _, a := range m.applications {
		if a.OwnerID == ownerID {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (m *MemDB) CreateFollowUp(_ context.Context, ownerID, applicationID int64, note string) (*FollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.applications[applicationID]; !ok || a.OwnerID != ownerID {
		return nil, errNotFound
	}
	f := &FollowUp{ID: m.nextID(), OwnerID: ownerID, ApplicationID: applicationID, Note: note, CreatedAt: m.now().UTC()}
	m.followups[f.ID] = f
	cp := *f
	return &cp, nil
}

func (m *MemDB) ListFollowUps(_ context.Context, ownerID, applicationID int64) ([]*FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*FollowUp{}
	for _, f := range m.followups {
		if f.OwnerID == ownerID && f.ApplicationID == applicationID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemDB) RecentFollowUps(_ context.Context, ownerID int64, limit int) ([]*FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*FollowUp{}
	for _, f := range m.followups {
		if f.OwnerID == ownerID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemDB) DeleteFollowUp(_ context.Context, ownerID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.followups[id]
	if !ok || f.OwnerID != ownerID {
		return errNotFound
	}
	delete(m.followups, id)
	return nil
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }
