package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

type migration struct {
	version     int
	description string
	apply       func(ctx context.Context, tx *sql.Tx) error
}

// migrations are applied in order after schemaSQL. Append only.
var migrations = []migration{
	{
		version:     1,
		description: "base schema",
		apply:       func(context.Context, *sql.Tx) error { return nil },
	},
	{
		version:     2,
		description: "index records by supplier and code",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx,
				"CREATE INDEX IF NOT EXISTS idx_records_supplier ON records(supplier)",
				"CREATE INDEX IF NOT EXISTS idx_records_code ON records(code)",
			)
		},
	},
	{
		version:     3,
		description: "record output path of runs",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			return addColumn(ctx, tx, "runs", "output", "TEXT")
		},
	},
	{
		version:     4,
		description: "fingerprint the layout documents were extracted with",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			return addColumn(ctx, tx, "documents", "layout_hash", "TEXT")
		},
	},
}

// Migrate brings the schema_version table up to the last migration. Each
// migration runs in its own transaction together with its version row.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		slog.Info("store: applying migration", "version", m.version, "description", m.description)

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, description) VALUES (?, ?)",
				m.version, m.description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// addColumn adds a column unless the table already has it; fresh databases
// get every column from schemaSQL.
func addColumn(ctx context.Context, tx *sql.Tx, table, column, decl string) error {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}
