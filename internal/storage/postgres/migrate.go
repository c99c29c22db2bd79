package postgres

import (
	"context"
	"fmt"
)

// Migrate creates the task and account tables when they do not exist.
func Migrate(ctx context.Context, db DB, cfg Config) error {
	tasks, err := tableName(cfg.TaskTable, defaultTaskTable)
	if err != nil {
		return err
	}
	accounts, err := tableName(cfg.AccountTable, defaultAccountTable)
	if err != nil {
		return err
	}
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id              TEXT PRIMARY KEY,
	target_name     TEXT NOT NULL,
	task_type       TEXT NOT NULL,
	needs_login     BOOLEAN NOT NULL DEFAULT TRUE,
	status          TEXT NOT NULL,
	submit_time     TIMESTAMPTZ NOT NULL,
	start_time      TIMESTAMPTZ,
	end_time        TIMESTAMPTZ,
	modify_time     TIMESTAMPTZ NOT NULL,
	result          TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	next_page_token TEXT NOT NULL DEFAULT '',
	version         BIGINT NOT NULL DEFAULT 0
)`, tasks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_idx ON %s (status, needs_login, id)`, tasks, tasks),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id                TEXT PRIMARY KEY,
	username          TEXT NOT NULL UNIQUE,
	credential        TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	status_changed_at TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
)`, accounts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_idx ON %s (status, status_changed_at)`, accounts, accounts),
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
