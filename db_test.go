package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/jobtracker/internal/auth"
)

// testClock is a settable clock shared by store and handler tests.
type testClock struct{ t time.Time }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type storeFactory func(t *testing.T, clock *testClock) DB

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *testClock) DB {
			m := NewMemoryDB()
			m.now = clock.Now
			return m
		},
		"sqlite": func(t *testing.T, clock *testClock) DB {
			s, err := NewSQLiteDB(":memory:")
			require.NoError(t, err)
			s.now = clock.Now
			t.Cleanup(func() { _ = s.close() })
			return s
		},
	}
}

// forEachStore runs fn against every store that needs no external service.
func forEachStore(t *testing.T, fn func(t *testing.T, db DB, clock *testClock)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			clock := newTestClock()
			fn(t, factory(t, clock), clock)
		})
	}
}

func mustAccount(t *testing.T, db DB, email string) *auth.Account {
	t.Helper()
	acc, err := db.CreateAccount(context.Background(), email, "hash-"+email, true)
	require.NoError(t, err)
	return acc
}

func mustCompany(t *testing.T, db DB, ownerID int64, name string) *Company {
	t.Helper()
	c, err := db.CreateCompany(context.Background(), ownerID, name, nil)
	require.NoError(t, err)
	return c
}

func mustApplication(t *testing.T, db DB, a Application) *Application {
	t.Helper()
	if a.Status == "" {
		a.Status = StatusApplied
	}
	out, err := db.CreateApplication(context.Background(), &a)
	require.NoError(t, err)
	return out
}

func datePtr(s string) *Date {
	d, err := parseDate(s)
	if err != nil {
		panic(err)
	}
	return &d
}

func applicationIDs(apps []*Application) []int64 {
	ids := make([]int64, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestStore_Accounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, db DB, clock *testClock) {
		ctx := context.Background()

		missing, err := db.GetAccountByEmail(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, missing)

		acc, err := db.CreateAccount(ctx, "a@example.com", "h1", true)
		require.NoError(t, err)
		assert.NotZero(t, acc.ID)
		assert.True(t, acc.CreatedAt.Equal(clock.Now()))

		_, err = db.CreateAccount(ctx, "a@example.com", "h2", true)
		require.ErrorIs(t, err, auth.ErrConflict)

		require.NoError(t, db.UpdatePasswordHash(ctx, acc.ID, "h3"))
		require.ErrorIs(t, db.UpdatePasswordHash(ctx, acc.ID+100, "h3"), errNotFound)

		require.NoError(t, db.SetAccountActive(ctx, "a@example.com", false))
		require.ErrorIs(t, db.SetAccountActive(ctx, "b@example.com", false), errNotFound)

		got, err := db.GetAccountByEmail(ctx, "a@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, acc.ID, got.ID)
		assert.Equal(t, "h3", got.PasswordHash)
		assert.False(t, got.Active)
		assert.True(t, got.CreatedAt.Equal(clock.Now()))
	})
}

func TestStore_Companies(t *testing.T) {
	forEachStore(t, func(t *testing.T, db DB, clock *testClock) {
		ctx := context.Background()
		alice := mustAccount(t, db, "alice@example.com")
		bob := mustAccount(t, db, "bob@example.com")

		site := "https://acme.example"
		acme, err := db.CreateCompany(ctx, alice.ID, "Acme", &site)
		require.NoError(t, err)
		require.NotNil(t, acme.Website)
		assert.Equal(t, site, *acme.Website)

		_, err = db.CreateCompany(ctx, alice.ID, "Acme", nil)
		require.ErrorIs(t, err, errCompanyExists)

		// names are unique per owner only
		_, err = db.CreateCompany(ctx, bob.ID, "Acme", nil)
		require.NoError(t, err)

		globex := mustCompany(t, db, alice.ID, "Globex")

		list, err := db.ListCompanies(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, globex.ID, list[0].ID)
		assert.Equal(t, acme.ID, list[1].ID)
		assert.Nil(t, list[0].Website)

		got, err := db.GetCompany(ctx, alice.ID, acme.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Acme", got.Name)

		other, err := db.GetCompany(ctx, bob.ID, acme.ID)
		require.NoError(t, err)
		assert.Nil(t, other)

		require.ErrorIs(t, db.DeleteCompany(ctx, bob.ID, acme.ID), errNotFound)
		require.NoError(t, db.DeleteCompany(ctx, alice.ID, acme.ID))
		require.ErrorIs(t, db.DeleteCompany(ctx, alice.ID, acme.ID), errNotFound)
	})
}

func TestStore_DeleteCompanyCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, db DB, clock *testClock) {
		ctx := context.Background()
		alice := mustAccount(t, db, "alice@example.com")
		acme := mustCompany(t, db, alice.ID, "Acme")
		globex := mustCompany(t, db, alice.ID, "Globex")

		doomed := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: acme.ID, Position: "SRE"})
		kept := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: globex.ID, Position: "SWE"})
		_, err := db.CreateFollowUp(ctx, alice.ID, doomed.ID, "ping")
		require.NoError(t, err)
		_, err = db.CreateFollowUp(ctx, alice.ID, kept.ID, "pong")
		require.NoError(t, err)

		require.NoError(t, db.DeleteCompany(ctx, alice.ID, acme.ID))

		gone, err := db.GetApplication(ctx, alice.ID, doomed.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)

		recent, err := db.RecentFollowUps(ctx, alice.ID, 10)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "pong", recent[0].Note)
	})
}

func TestStore_ApplicationOwnership(t *testing.T) {
	forEachStore(t, func(t *testing.T, db DB, clock *testClock) {
		ctx := context.Background()
		alice := mustAccount(t, db, "alice@example.com")
		bob := mustAccount(t, db, "bob@example.com")
		acme := mustCompany(t, db, alice.ID, "Acme")
		bobCo := mustCompany(t, db, bob.ID, "Initech")

		_, err := db.CreateApplication(ctx, &Application{OwnerID: alice.ID, CompanyID: bobCo.ID, Position: "SRE", Status: StatusApplied})
		require.ErrorIs(t, err, errNotFound)

		app := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: acme.ID, Position: "SRE", AppliedAt: datePtr("2024-02-20")})
		require.NotNil(t, app.AppliedAt)
		assert.Equal(t, "2024-02-20", app.AppliedAt.String())

		got, err := db.GetApplication(ctx, bob.ID, app.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		_, err = db.UpdateApplication(ctx, bob.ID, app.ID, ApplicationPatch{Status: ptr(StatusOffer)})
		require.ErrorIs(t, err, errNotFound)

		// moving to another owner's company is refused
		_, err = db.UpdateApplication(ctx, alice.ID, app.ID, ApplicationPatch{CompanyID: &bobCo.ID})
		require.ErrorIs(t, err, errNotFound)

		require.ErrorIs(t, db.DeleteApplication(ctx, bob.ID, app.ID), errNotFound)

		_, err = db.CreateFollowUp(ctx, bob.ID, app.ID, "not mine")
		require.ErrorIs(t, err, errNotFound)
	})
}

func ptr[T any](v T) *T { return &v }

func TestStore_UpdateApplication(t *testing.T) {
	forEachStore(t, func(t *testing.T, db DB, clock *testClock) {
		ctx := context.Background()
		alice := mustAccount(t, db, "alice@example.com")
		acme := mustCompany(t, db, alice.ID, "Acme")
		globex := mustCompany(t, db, alice.ID, "Globex")
		app := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: acme.ID, Position: "SRE", AppliedAt: datePtr("2024-02-20")})

		updated, err := db.UpdateApplication(ctx, alice.ID, app.ID, ApplicationPatch{
			CompanyID: &globex.ID,
			Position:  ptr("Staff SRE"),
			Status:    ptr(StatusInterview),
		})
		require.NoError(t, err)
		assert.Equal(t, globex.ID, updated.CompanyID)
		assert.Equal(t, "Staff SRE", updated.Position)
		assert.Equal(t, StatusInterview, updated.Status)
		require.NotNil(t, updated.AppliedAt)
		assert.Equal(t, "2024-02-20", updated.AppliedAt.String())
		assert.True(t, updated.CreatedAt.Equal(app.CreatedAt))

		cleared, err := db.UpdateApplication(ctx, alice.ID, app.ID, ApplicationPatch{ClearAppliedAt: true})
		require.NoError(t, err)
		assert.Nil(t, cleared.AppliedAt)

		got, err := db.GetApplication(ctx, alice.ID, app.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Nil(t, got.AppliedAt)
		assert.Equal(t, "Staff SRE", got.Position)
	})
}

func TestStore_ListApplications(t *testing.T) {
	forEachStore(t, func(t *testing.T, db DB, clock *testClock) {
		ctx := context.Background()
		alice := mustAccount(t, db, "alice@example.com")
		bob := mustAccount(t, db, "bob@example.com")
		acme := mustCompany(t, db, alice.ID, "Acme")
		globex := mustCompany(t, db, alice.ID, "Globex")
		bobCo := mustCompany(t, db, bob.ID, "Initech")

		a := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: acme.ID, Position: "b-engineer", AppliedAt: datePtr("2024-01-10")})
		b := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: acme.ID, Position: "a-engineer", Status: StatusInterview})
		c := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: globex.ID, Position: "c-engineer", AppliedAt: datePtr("2024-01-05"), Status: StatusOffer})
		d := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: globex.ID, Position: "d-engineer", AppliedAt: datePtr("2024-01-10")})
		mustApplication(t, db, Application{OwnerID: bob.ID, CompanyID: bobCo.ID, Position: "x"})

		cases := []struct {
			name string
			f    ApplicationFilter
			want []int64
		}{
			{"default newest first", ApplicationFilter{OrderBy: "id", Desc: true}, []int64{d.ID, c.ID, b.ID, a.ID}},
			{"id ascending", ApplicationFilter{OrderBy: "id"}, []int64{a.ID, b.ID, c.ID, d.ID}},
			{"applied_at nulls first", ApplicationFilter{OrderBy: "applied_at"}, []int64{b.ID, c.ID, a.ID, d.ID}},
			{"applied_at desc nulls last", ApplicationFilter{OrderBy: "applied_at", Desc: true}, []int64{d.ID, a.ID, c.ID, b.ID}},
			{"position", ApplicationFilter{OrderBy: "position"}, []int64{b.ID, a.ID, c.ID, d.ID}},
			{"status then id", ApplicationFilter{OrderBy: "status"}, []int64{a.ID, d.ID, b.ID, c.ID}},
			{"by status", ApplicationFilter{Status: StatusApplied, OrderBy: "id"}, []int64{a.ID, d.ID}},
			{"by company", ApplicationFilter{CompanyID: globex.ID, OrderBy: "id"}, []int64{c.ID, d.ID}},
			{"limit and offset", ApplicationFilter{OrderBy: "id", Limit: 2, Offset: 1}, []int64{b.ID, c.ID}},
			{"offset past end", ApplicationFilter{OrderBy: "id", Offset: 10}, []int64{}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				got, err := db.ListApplications(ctx, alice.ID, tc.f)
				require.NoError(t, err)
				assert.Equal(t, tc.want, applicationIDs(got))
			})
		}
	})
}

func TestStore_FollowUpsAndCounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, db DB, clock *testClock) {
		ctx := context.Background()
		alice := mustAccount(t, db, "alice@example.com")
		acme := mustCompany(t, db, alice.ID, "Acme")
		first := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: acme.ID, Position: "SRE"})
		second := mustApplication(t, db, Application{OwnerID: alice.ID, CompanyID: acme.ID, Position: "SWE", Status: StatusRejected})

		var notes []*FollowUp
		for i := 0; i < 7; i++ {
			clock.Advance(time.Minute)
			appID := first.ID
			if i%2 == 1 {
				appID = second.ID
			}
			f, err := db.CreateFollowUp(ctx, alice.ID, appID, "note")
			require.NoError(t, err)
			notes = append(notes, f)
		}

		recent, err := db.RecentFollowUps(ctx, alice.ID, recentFollowUps)
		require.NoError(t, err)
		require.Len(t, recent, 5)
		assert.Equal(t, notes[6].ID, recent[0].ID)
		assert.Equal(t, notes[2].ID, recent[4].ID)
		assert.True(t, recent[0].CreatedAt.Equal(clock.Now()))

		forFirst, err := db.ListFollowUps(ctx, alice.ID, first.ID)
		require.NoError(t, err)
		require.Len(t, forFirst, 4)
		assert.Equal(t, notes[6].ID, forFirst[0].ID)

		require.NoError(t, db.DeleteFollowUp(ctx, alice.ID, notes[6].ID))
		require.ErrorIs(t, db.DeleteFollowUp(ctx, alice.ID, notes[6].ID), errNotFound)

		require.NoError(t, db.DeleteApplication(ctx, alice.ID, second.ID))
		forSecond, err := db.ListFollowUps(ctx, alice.ID, second.ID)
		require.NoError(t, err)
		assert.Empty(t, forSecond)

		counts, err := db.CountApplicationsByStatus(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, map[ApplicationStatus]int{StatusApplied: 1}, counts)
	})
}

func TestSortApplications_Stable(t *testing.T) {
	apps := []*Application{
		{ID: 3, Position: "x"},
		{ID: 1, Position: "x"},
		{ID: 2, Position: "a"},
	}
	sortApplications(apps, "position", true)
	assert.Equal(t, []int64{3, 1, 2}, applicationIDs(apps))
}
