// Package db opens the sqlite database backing the Device Pairing Record
// table and applies the migrations registered under db/migrations, the
// same goose-driven pattern the fleet uses for its own schema.
package db

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	_ "github.com/dlnacast/engine/db/migrations"
	"github.com/dlnacast/engine/log"
)

//go:embed migrations/*.go
var migrationFiles embed.FS

func init() {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("sqlite3"); err != nil {
		panic(err)
	}
}

// Open opens the sqlite file at path and brings its schema up to date.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}
	if err := goose.UpContext(ctx, conn, "migrations"); err != nil {
		return nil, err
	}
	log.Info(ctx, "database ready", "path", path)
	return conn, nil
}
