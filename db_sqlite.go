package main

import (
	"database/sql"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Timestamps are stored as fixed-width UTC text so they sort lexically.
var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: squirrel.Question,
	isUniqueViolation: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
	timeValue: func(t time.Time) interface{} {
		return t.UTC().Format(sqliteTimeLayout)
	},
}

// SQLite DB
type SQLiteDB struct {
	*sqlStore
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases and PRAGMAs stable.
	d.SetMaxOpenConns(1)
	s := &SQLiteDB{sqlStore: newSQLStore(d, sqliteDialect), path: path}
	if err := s.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT NOT NULL UNIQUE, hashed_password TEXT NOT NULL, is_active INTEGER NOT NULL DEFAULT 1, created_at TEXT NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS companies (id INTEGER PRIMARY KEY AUTOINCREMENT, owner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE, name TEXT NOT NULL, website TEXT, created_at TEXT NOT NULL, UNIQUE (owner_id, name));`,
		`CREATE TABLE IF NOT EXISTS applications (id INTEGER PRIMARY KEY AUTOINCREMENT, owner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE, company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE, position TEXT NOT NULL, status TEXT NOT NULL DEFAULT 'applied', applied_at TEXT, created_at TEXT NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS followups (id INTEGER PRIMARY KEY AUTOINCREMENT, owner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE, application_id INTEGER NOT NULL REFERENCES applications(id) ON DELETE CASCADE, note TEXT NOT NULL, created_at TEXT NOT NULL);`,
		`CREATE INDEX IF NOT EXISTS idx_applications_owner ON applications(owner_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_followups_owner ON followups(owner_id, created_at);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}
