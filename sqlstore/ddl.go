package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mickamy/auditrail/internal/ident"
)

// EnsureTable creates the audit table if it does not exist. Entries are
// append-only and carry no foreign key to the mutated resource, which may
// outlive it.
func EnsureTable(ctx context.Context, db *sql.DB, table string) error {
	name := ident.QuoteName(table)
	if name == "" {
		return fmt.Errorf("sqlstore: invalid audit table identifier %q", table)
	}
	columns := []string{
		"id BIGSERIAL PRIMARY KEY",
		"actor_id TEXT NOT NULL",
		"resource TEXT NOT NULL",
		"resource_id TEXT NOT NULL",
		"changeset JSONB NOT NULL",
		"change_type TEXT NOT NULL",
		"inserted_at TIMESTAMPTZ NOT NULL",
	}

	ddl := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        %s
    );
    `, name, strings.Join(columns, ",\n\t"))

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlstore: create audit table: %w", err)
	}

	parts := ident.SplitQualified(table)
	indexName := fmt.Sprintf("idx_%s_resource", parts[len(parts)-1])
	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (resource, resource_id);`, ident.Quote(indexName), name)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlstore: create audit index: %w", err)
	}
	return nil
}
