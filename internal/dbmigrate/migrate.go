package dbmigrate

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// open connects to dbURL and prepares a migrator over migrationsDir. The
// returned close func releases both.
func open(migrationsDir, dbURL string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, func() { _, _ = m.Close() }, nil
}

// Apply runs every pending up migration. An up-to-date schema is not an error.
func Apply(migrationsDir, dbURL string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	m, closeFn, err := open(migrationsDir, dbURL)
	if err != nil {
		return err
	}
	defer closeFn()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d). Manual intervention required", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("database is up to date", zap.Uint("version", version))
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	if newVersion != version {
		log.Info("migrated database", zap.Uint("from", version), zap.Uint("to", newVersion))
	}
	return nil
}

// Steps migrates n steps up (n > 0) or down (n < 0). n == 0 migrates all
// the way in the given direction.
func Steps(migrationsDir, dbURL string, up bool, n int) error {
	m, closeFn, err := open(migrationsDir, dbURL)
	if err != nil {
		return err
	}
	defer closeFn()

	switch {
	case n > 0:
		if !up {
			n = -n
		}
		err = m.Steps(n)
	case up:
		err = m.Up()
	default:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Version returns the current schema version and dirty flag. A database
// with no migrations applied reports version 0.
func Version(migrationsDir, dbURL string) (uint, bool, error) {
	m, closeFn, err := open(migrationsDir, dbURL)
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force sets the schema version without running migrations.
func Force(migrationsDir, dbURL string, version int) error {
	m, closeFn, err := open(migrationsDir, dbURL)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("forcing version: %w", err)
	}
	return nil
}
