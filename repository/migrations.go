package repository

import (
	"context"
	"errors"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS pending_requests (
		kind        SMALLINT NOT NULL,
		address     TEXT     NOT NULL,
		created_at  BIGINT   NOT NULL,
		claimed     BOOLEAN  NOT NULL DEFAULT FALSE,
		claimed_at  BIGINT   NOT NULL DEFAULT 0,
		payload     BYTEA    NOT NULL,
		PRIMARY KEY (kind, address)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		ticket_id TEXT PRIMARY KEY,
		holder    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reservations_holder_idx ON reservations (holder)`,
	`CREATE TABLE IF NOT EXISTS challenges (
		ticket_id TEXT   PRIMARY KEY,
		event_id  TEXT   NOT NULL,
		token     TEXT   NOT NULL,
		issued_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS redemptions (
		ticket_id   TEXT   PRIMARY KEY,
		event_id    TEXT   NOT NULL,
		redeemed_at BIGINT NOT NULL
	)`,
}

// RunMigration creates tables if they do not exist.
func (db DataBase) RunMigration(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := db.inner.ExecContext(ctx, m); err != nil {
			return errors.Join(ErrMigrationFailed, err)
		}
	}
	return nil
}
