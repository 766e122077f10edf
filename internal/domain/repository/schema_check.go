package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"nycquery_service/internal/domain/catalog"
)

// SchemaChecker compares the catalog with the live database schema.
type SchemaChecker struct {
	db  *sqlx.DB
	cat *catalog.Catalog
}

func NewSchemaChecker(db *sqlx.DB, cat *catalog.Catalog) *SchemaChecker {
	return &SchemaChecker{db: db, cat: cat}
}

type columnRef struct {
	Table  string `db:"table_name"`
	Column string `db:"column_name"`
}

// MissingColumns lists "table.column" entries of the catalog that the
// database does not have.
func (c *SchemaChecker) MissingColumns(ctx context.Context) ([]string, error) {
	const query = `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		AND table_name = ANY($1)`

	var refs []columnRef
	if err := c.db.SelectContext(ctx, &refs, query, pq.Array(c.cat.TableNames())); err != nil {
		return nil, fmt.Errorf("failed to read information_schema: %w", err)
	}

	present := make(map[string]bool, len(refs))
	for _, r := range refs {
		present[r.Table+"."+r.Column] = true
	}

	var missing []string
	for _, name := range c.cat.TableNames() {
		t, _ := c.cat.Table(name)
		for _, col := range t.Columns() {
			if key := name + "." + col.Name; !present[key] {
				missing = append(missing, key)
			}
		}
	}
	sort.Strings(missing)
	return missing, nil
}
