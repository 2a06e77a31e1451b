package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/example/jobtracker/internal/auth"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name        string
	placeholder squirrel.PlaceholderFormat
	// isUniqueViolation reports whether err came from a UNIQUE constraint.
	isUniqueViolation func(error) bool
	// timeValue encodes a timestamp for binding.
	timeValue func(time.Time) interface{}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqlStore implements DB on top of database/sql for SQLite and Postgres.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	return &sqlStore{
		db:      db,
		dialect: d,
		builder: squirrel.StatementBuilder.PlaceholderFormat(d.placeholder),
		now:     time.Now,
	}
}

var (
	accountColumns     = []string{"id", "email", "hashed_password", "is_active", "created_at"}
	companyColumns     = []string{"id", "owner_id", "name", "website", "created_at"}
	applicationColumns = []string{"id", "owner_id", "company_id", "position", "status", "applied_at", "created_at"}
	followUpColumns    = []string{"id", "owner_id", "application_id", "note", "created_at"}
)

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *sqlStore) exec(ctx context.Context, q querier, b squirrel.Sqlizer) (int64, error) {
	stmt, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sql: %w", err)
	}
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *sqlStore) insertID(ctx context.Context, q querier, b squirrel.InsertBuilder) (int64, error) {
	stmt, args, err := b.Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sql: %w", err)
	}
	var id int64
	if err := q.QueryRowContext(ctx, stmt, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Account operations

func (s *sqlStore) GetAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	stmt, args, err := s.builder.Select(accountColumns...).
		From("users").
		Where(squirrel.Eq{"email": email}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	var a auth.Account
	row := s.db.QueryRowContext(ctx, stmt, args...)
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Active, dbTime{&a.CreatedAt}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func (s *sqlStore) CreateAccount(ctx context.Context, email, passwordHash string, active bool) (*auth.Account, error) {
	created := s.now().UTC()
	id, err := s.insertID(ctx, s.db, s.builder.Insert("users").
		Columns("email", "hashed_password", "is_active", "created_at").
		Values(email, passwordHash, active, s.dialect.timeValue(created)))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return nil, fmt.Errorf("insert account: %w", auth.ErrConflict)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return &auth.Account{ID: id, Email: email, PasswordHash: passwordHash, Active: active, CreatedAt: created}, nil
}

func (s *sqlStore) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	n, err := s.exec(ctx, s.db, s.builder.Update("users").
		Set("hashed_password", passwordHash).
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if n == 0 {
		return errNotFound
	}
	return nil
}

func (s *sqlStore) SetAccountActive(ctx context.Context, email string, active bool) error {
	n, err := s.exec(ctx, s.db, s.builder.Update("users").
		Set("is_active", active).
		Where(squirrel.Eq{"email": email}))
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	if n == 0 {
		return errNotFound
	}
	return nil
}

// Company operations

func (s *sqlStore) CreateCompany(ctx context.Context, ownerID int64, name string, website *string) (*Company, error) {
	created := s.now().UTC()
	id, err := s.insertID(ctx, s.db, s.builder.Insert("companies").
		Columns("owner_id", "name", "website", "created_at").
		Values(ownerID, name, website, s.dialect.timeValue(created)))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return nil, errCompanyExists
		}
		return nil, fmt.Errorf("insert company: %w", err)
	}
	return &Company{ID: id, OwnerID: ownerID, Name: name, Website: website, CreatedAt: created}, nil
}

func (s *sqlStore) ListCompanies(ctx context.Context, ownerID int64) ([]*Company, error) {
	stmt, args, err := s.builder.Select(companyColumns...).
		From("companies").
		Where(squirrel.Eq{"owner_id": ownerID}).
		OrderBy("id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list companies sql: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	defer rows.Close()

	out := []*Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return out, nil
}

func (s *sqlStore) GetCompany(ctx context.Context, ownerID, id int64) (*Company, error) {
	stmt, args, err := s.builder.Select(companyColumns...).
		From("companies").
		Where(squirrel.Eq{"id": id, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select company sql: %w", err)
	}
	c, err := scanCompany(s.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *sqlStore) DeleteCompany(ctx context.Context, ownerID, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, s.builder.Delete("followups").
			Where(squirrel.Eq{"owner_id": ownerID}).
			Where("application_id IN (SELECT id FROM applications WHERE company_id = ?)", id)); err != nil {
			return fmt.Errorf("delete company followups: %w", err)
		}
		if _, err := s.exec(ctx, tx, s.builder.Delete("applications").
			Where(squirrel.Eq{"company_id": id, "owner_id": ownerID})); err != nil {
			return fmt.Errorf("delete company applications: %w", err)
		}
		n, err := s.exec(ctx, tx, s.builder.Delete("companies").
			Where(squirrel.Eq{"id": id, "owner_id": ownerID}))
		if err != nil {
			return fmt.Errorf("delete company: %w", err)
		}
		if n == 0 {
			return errNotFound
		}
		return nil
	})
}

// Application operations

func (s *sqlStore) ownsRow(ctx context.Context, q querier, table string, ownerID, id int64) (bool, error) {
	stmt, args, err := s.builder.Select("1").
		From(table).
		Where(squirrel.Eq{"id": id, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build ownership sql: %w", err)
	}
	var one int
	if err := q.QueryRowContext(ctx, stmt, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check %s ownership: %w", table, err)
	}
	return true, nil
}

func (s *sqlStore) CreateApplication(ctx context.Context, a *Application) (*Application, error) {
	out := *a
	out.CreatedAt = s.now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := s.ownsRow(ctx, tx, "companies", a.OwnerID, a.CompanyID)
		if err != nil {
			return err
		}
		if !ok {
			return errNotFound
		}
		id, err := s.insertID(ctx, tx, s.builder.Insert("applications").
			Columns("owner_id", "company_id", "position", "status", "applied_at", "created_at").
			Values(a.OwnerID, a.CompanyID, a.Position, string(a.Status), dateValue(a.AppliedAt), s.dialect.timeValue(out.CreatedAt)))
		if err != nil {
			return fmt.Errorf("insert application: %w", err)
		}
		out.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *sqlStore) ListApplications(ctx context.Context, ownerID int64, f ApplicationFilter) ([]*Application, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	q := s.builder.Select(applicationColumns...).
		From("applications").
		Where(squirrel.Eq{"owner_id": ownerID})
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(f.Status)})
	}
	if f.CompanyID != 0 {
		q = q.Where(squirrel.Eq{"company_id": f.CompanyID})
	}
	stmt, args, err := q.OrderBy(applicationOrder(f.OrderBy, f.Desc)...).
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list applications sql: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()

	out := []*Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return out, nil
}

// applicationOrder builds the ORDER BY terms. Unknown columns fall back to
// id; ties are broken by id in the same direction.
func applicationOrder(column string, desc bool) []string {
	if !applicationOrderColumns[column] {
		column = "id"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	term := column + " " + dir
	if column == "applied_at" {
		if desc {
			term += " NULLS LAST"
		} else {
			term += " NULLS FIRST"
		}
	}
	if column == "id" {
		return []string{term}
	}
	return []string{term, "id " + dir}
}

func (s *sqlStore) GetApplication(ctx context.Context, ownerID, id int64) (*Application, error) {
	return s.getApplication(ctx, s.db, ownerID, id)
}

func (s *sqlStore) getApplication(ctx context.Context, q querier, ownerID, id int64) (*Application, error) {
	stmt, args, err := s.builder.Select(applicationColumns...).
		From("applications").
		Where(squirrel.Eq{"id": id, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select application sql: %w", err)
	}
	a, err := scanApplication(q.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *sqlStore) UpdateApplication(ctx context.Context, ownerID, id int64, p ApplicationPatch) (*Application, error) {
	var out *Application
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if p.CompanyID != nil {
			ok, err := s.ownsRow(ctx, tx, "companies", ownerID, *p.CompanyID)
			if err != nil {
				return err
			}
			if !ok {
				return errNotFound
			}
		}

		set := map[string]interface{}{}
		if p.CompanyID != nil {
			set["company_id"] = *p.CompanyID
		}
		if p.Position != nil {
			set["position"] = *p.Position
		}
		if p.Status != nil {
			set["status"] = string(*p.Status)
		}
		if p.AppliedAt != nil {
			set["applied_at"] = dateValue(p.AppliedAt)
		}
		if p.ClearAppliedAt {
			set["applied_at"] = nil
		}
		if len(set) > 0 {
			n, err := s.exec(ctx, tx, s.builder.Update("applications").
				SetMap(set).
				Where(squirrel.Eq{"id": id, "owner_id": ownerID}))
			if err != nil {
				return fmt.Errorf("update application: %w", err)
			}
			if n == 0 {
				return errNotFound
			}
		}

		a, err := s.getApplication(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		if a == nil {
			return errNotFound
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) DeleteApplication(ctx context.Context, ownerID, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, s.builder.Delete("followups").
			Where(squirrel.Eq{"application_id": id, "owner_id": ownerID})); err != nil {
			return fmt.Errorf("delete application followups: %w", err)
		}
		n, err := s.exec(ctx, tx, s.builder.Delete("applications").
			Where(squirrel.Eq{"id": id, "owner_id": ownerID}))
		if err != nil {
			return fmt.Errorf("delete application: %w", err)
		}
		if n == 0 {
			return errNotFound
		}
		return nil
	})
}

func (s *sqlStore) CountApplicationsByStatus(ctx context.Context, ownerID int64) (map[ApplicationStatus]int, error) {
	stmt, args, err := s.builder.Select("status", "COUNT(*)").
		From("applications").
		Where(squirrel.Eq{"owner_id": ownerID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count applications sql: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("count applications: %w", err)
	}
	defer rows.Close()

	counts := map[ApplicationStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[ApplicationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// Follow-up operations

func (s *sqlStore) CreateFollowUp(ctx context.Context, ownerID, applicationID int64, note string) (*FollowUp, error) {
	f := &FollowUp{OwnerID: ownerID, ApplicationID: applicationID, Note: note, CreatedAt: s.now().UTC()}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := s.ownsRow(ctx, tx, "applications", ownerID, applicationID)
		if err != nil {
			return err
		}
		if !ok {
			return errNotFound
		}
		id, err := s.insertID(ctx, tx, s.builder.Insert("followups").
			Columns("owner_id", "application_id", "note", "created_at").
			Values(ownerID, applicationID, note, s.dialect.timeValue(f.CreatedAt)))
		if err != nil {
			return fmt.Errorf("insert followup: %w", err)
		}
		f.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *sqlStore) ListFollowUps(ctx context.Context, ownerID, applicationID int64) ([]*FollowUp, error) {
	return s.queryFollowUps(ctx, s.builder.Select(followUpColumns...).
		From("followups").
		Where(squirrel.Eq{"owner_id": ownerID, "application_id": applicationID}).
		OrderBy("id DESC"))
}

func (s *sqlStore) RecentFollowUps(ctx context.Context, ownerID int64, limit int) ([]*FollowUp, error) {
	q := s.builder.Select(followUpColumns...).
		From("followups").
		Where(squirrel.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.queryFollowUps(ctx, q)
}

func (s *sqlStore) queryFollowUps(ctx context.Context, b squirrel.SelectBuilder) ([]*FollowUp, error) {
	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list followups sql: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query followups: %w", err)
	}
	defer rows.Close()

	out := []*FollowUp{}
	for rows.Next() {
		var f FollowUp
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.ApplicationID, &f.Note, dbTime{&f.CreatedAt}); err != nil {
			return nil, fmt.Errorf("scan followup: %w", err)
		}
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate followups: %w", err)
	}
	return out, nil
}

func (s *sqlStore) DeleteFollowUp(ctx context.Context, ownerID, id int64) error {
	n, err := s.exec(ctx, s.db, s.builder.Delete("followups").
		Where(squirrel.Eq{"id": id, "owner_id": ownerID}))
	if err != nil {
		return fmt.Errorf("delete followup: %w", err)
	}
	if n == 0 {
		return errNotFound
	}
	return nil
}

// lifecycle helpers
func (s *sqlStore) close() error { return s.db.Close() }
func (s *sqlStore) ping() bool   { return s.db.Ping() == nil }

// Scanning

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCompany(r rowScanner) (*Company, error) {
	var (
		c       Company
		website sql.NullString
	)
	if err := r.Scan(&c.ID, &c.OwnerID, &c.Name, &website, dbTime{&c.CreatedAt}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan company: %w", err)
	}
	if website.Valid {
		c.Website = &website.String
	}
	return &c, nil
}

func scanApplication(r rowScanner) (*Application, error) {
	var (
		a       Application
		status  string
		applied sql.Null[Date]
	)
	if err := r.Scan(&a.ID, &a.OwnerID, &a.CompanyID, &a.Position, &status, &applied, dbTime{&a.CreatedAt}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan application: %w", err)
	}
	a.Status = ApplicationStatus(status)
	if applied.Valid {
		d := applied.V
		a.AppliedAt = &d
	}
	return &a, nil
}

func dateValue(d *Date) interface{} {
	if d == nil {
		return nil
	}
	return *d
}

// dbTime scans timestamps stored either natively or as RFC 3339 text.
type dbTime struct {
	t *time.Time
}

var dbTimeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"}

func (d dbTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d.t = time.Time{}
		return nil
	case time.Time:
		*d.t = v.UTC()
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
}

func (d dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*d.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
