package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/foliodesk/backend/internal/db/migrations"
	"github.com/pressly/goose/v3"
)

// gooseUp is swapped in tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// RunMigrations applies the embedded migrations.
func (p *Postgres) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUp(ctx, p.db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
