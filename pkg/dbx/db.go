// Package dbx is the database access layer: a thin wrapper over database/sql
// plus one narrow repository per persisted entity (spec.md §6, design note §9).
package dbx

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/rs/zerolog/log"
)

// DB wraps the shared connection pool. All repositories take a *DB rather
// than reaching for a package-level global, so tests can swap in a
// sqlmock-free in-memory repository instead.
type DB struct {
	conn *sql.DB
}

// Open opens and pings a Postgres connection pool, mirroring the teacher's
// pkg/database/connection.go pool tuning.
func Open(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().Msg("database connection established")
	return &DB{conn: conn}, nil
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// IsHealthy pings the database.
func (d *DB) IsHealthy() error {
	if d == nil || d.conn == nil {
		return fmt.Errorf("database not initialized")
	}
	return d.conn.Ping()
}
