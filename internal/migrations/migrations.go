// Package migrations embeds the relational schema's SQL files and applies
// them with golang-migrate on worker startup, an auto-apply-on-boot
// pattern safe for concurrent callers across worker processes.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed sql
var files embed.FS

// Apply opens a short-lived database/sql connection over the pgx stdlib
// driver, runs every pending migration in sql/, and closes it. It is safe
// to call from more than one worker process at once: golang-migrate takes a
// Postgres advisory lock for the duration of Up().
func Apply(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrations: open: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrations: postgres driver: %w", err)
	}

	source, err := iofs.New(files, "sql")
	if err != nil {
		return fmt.Errorf("migrations: source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "dtcpipe", driver)
	if err != nil {
		return fmt.Errorf("migrations: instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return source.Close()
}
