package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

// sentinelTable is the table whose presence marks the schema as migrated.
const sentinelTable = "public.wopi_files"

var steps = []migrationStep{
	{
		Name: "create_table_wopi_files",
		SQL: `CREATE TABLE IF NOT EXISTS wopi_files (
  id             UUID        PRIMARY KEY,
  owner_id       TEXT        NOT NULL,
  container      TEXT        NOT NULL,
  base_file_name TEXT        NOT NULL,
  size           BIGINT      NOT NULL CHECK (size >= 0),
  version        INTEGER     NOT NULL DEFAULT 1,
  user_info      TEXT        NOT NULL DEFAULT '',
  lock_value     TEXT        NULL,
  lock_expires   TIMESTAMPTZ NULL,
  revision       BIGINT      NOT NULL DEFAULT 1,
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT wopi_files_lock_pair CHECK ((lock_value IS NULL) = (lock_expires IS NULL))
);`,
	},
	{
		Name: "create_index_wopi_files_owner_created",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_wopi_files_owner_created ON wopi_files (owner_id, created_at DESC);`,
	},
	{
		Name: "create_index_wopi_files_container",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_wopi_files_container ON wopi_files (container);`,
	},
}

// EnsureMigrated checks if the 'wopi_files' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, log *slog.Logger, dbHost string) error {
	start := time.Now()
	log = log.With(slog.String("component", "database"), slog.String("db_host", dbHost))

	log.InfoContext(ctx, "db_migration_check", slog.String("status", "starting"))

	var exists bool
	query := "SELECT to_regclass('" + sentinelTable + "') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		log.ErrorContext(ctx, "db_migration_failed",
			slog.String("status", "error"),
			slog.String("error_message", fmt.Sprintf("failed to check sentinel table: %v", err)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.InfoContext(ctx, "db_migration_skip",
			slog.String("status", "success"),
			slog.String("reason", "schema already exists"),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	log.InfoContext(ctx, "db_migration_start", slog.String("status", "in_progress"))

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.ErrorContext(ctx, "db_migration_failed",
				slog.String("status", "error"),
				slog.String("migration_step", step.Name),
				slog.String("error_message", err.Error()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.InfoContext(ctx, "db_migration_step",
			slog.String("status", "success"),
			slog.String("migration_step", step.Name),
			slog.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
		)
	}

	log.InfoContext(ctx, "db_migration_success",
		slog.String("status", "success"),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}
