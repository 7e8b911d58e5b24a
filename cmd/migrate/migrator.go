package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wolfman30/consult-slots/migrations"
)

// migrator is the part of *migrate.Migrate the commands drive.
type migrator interface {
	Up() error
	Steps(n int) error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Close() (error, error)
}

type opener func(databaseURL string) (migrator, error)

// openMigrator applies the embedded reservation schema through the pgx
// database/sql driver.
func openMigrator(databaseURL string) (migrator, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("migrate: DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("migrate: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: ping db: %w", err)
	}
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: db driver: %w", err)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: create migrator: %w", err)
	}
	return m, nil
}
