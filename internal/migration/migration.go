package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const migrationsTable = "splitledger_schema_migrations"

// Result reports the schema version after an upgrade.
type Result struct {
	Version uint
	Applied bool
}

func ledgerSource() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migration: open embedded sql: %w", err)
	}
	return iofs.New(sub, ".")
}

// RunMigrations brings the ledger schema up to the newest embedded version.
// Replicas booting together serialise on the postgres advisory lock the
// driver takes, and all but the first see ErrNoChange.
func RunMigrations(db *sql.DB) (Result, error) {
	if db == nil {
		return Result{}, errors.New("migration: database handle is required")
	}

	src, err := ledgerSource()
	if err != nil {
		return Result{}, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return Result{}, fmt.Errorf("migration: postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return Result{}, fmt.Errorf("migration: %w", err)
	}
	// m.Close would close db, which the gorm pool still owns.

	res := Result{Applied: true}
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return Result{}, fmt.Errorf("migration: up: %w", err)
		}
		res.Applied = false
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Result{}, fmt.Errorf("migration: read version: %w", err)
	}
	if dirty {
		return Result{}, fmt.Errorf("migration: schema version %d is dirty", version)
	}
	res.Version = version
	return res, nil
}
