package main

import (
	"database/sql"
	"errors"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: squirrel.Dollar,
	isUniqueViolation: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
	},
	timeValue: func(t time.Time) interface{} {
		return t.UTC()
	},
}

type PostgresDB struct {
	*sqlStore
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{sqlStore: newSQLStore(d, postgresDialect), dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

// newPostgresWithDB wraps an existing handle, for tests.
func newPostgresWithDB(d *sql.DB) *PostgresDB {
	return &PostgresDB{sqlStore: newSQLStore(d, postgresDialect)}
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	if err := p.db.Ping(); err != nil {
		return err
	}
	return nil
}
