// Package postgres owns the database handle and schema bootstrap.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"stitchd/internal/platform/config"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg config.Postgres) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                  BIGSERIAL PRIMARY KEY,
		mcid                TEXT[] NOT NULL DEFAULT '{}',
		domain_userid       TEXT[] NOT NULL DEFAULT '{}',
		network_userid      TEXT[] NOT NULL DEFAULT '{}',
		user_fingerprint    TEXT[] NOT NULL DEFAULT '{}',
		sso_guid            TEXT[] NOT NULL DEFAULT '{}',
		gr_master_person_id TEXT[] NOT NULL DEFAULT '{}',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_mcid ON users USING GIN (mcid)`,
	`CREATE INDEX IF NOT EXISTS idx_users_domain_userid ON users USING GIN (domain_userid)`,
	`CREATE INDEX IF NOT EXISTS idx_users_network_userid ON users USING GIN (network_userid)`,
	`CREATE INDEX IF NOT EXISTS idx_users_user_fingerprint ON users USING GIN (user_fingerprint)`,
	`CREATE INDEX IF NOT EXISTS idx_users_sso_guid ON users USING GIN (sso_guid)`,
	`CREATE INDEX IF NOT EXISTS idx_users_gr_master_person_id ON users USING GIN (gr_master_person_id)`,
	`CREATE TABLE IF NOT EXISTS events (
		id          UUID PRIMARY KEY,
		uri         TEXT NOT NULL,
		useragent   TEXT NOT NULL DEFAULT '',
		user_id     BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		occurred_at TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_user_id ON events (user_id)`,
	`CREATE TABLE IF NOT EXISTS scores (
		uri        TEXT PRIMARY KEY,
		unaware    INTEGER NOT NULL DEFAULT 0,
		curious    INTEGER NOT NULL DEFAULT 0,
		follower   INTEGER NOT NULL DEFAULT 0,
		guide      INTEGER NOT NULL DEFAULT 0,
		confidence INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate applies the schema idempotently. Statements run one at a time
// so a failure names the statement that broke.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
