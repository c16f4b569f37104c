package manytomorph

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Dialect holds the per-driver differences the relation cares about.
type Dialect struct {
	DriverName      string
	Placeholder     sq.PlaceholderFormat
	QueryListTables string
}

var Dialects = &struct {
	MySQL      *Dialect
	PostgreSQL *Dialect
	SQLite3    *Dialect
}{
	MySQL: &Dialect{
		DriverName:      "mysql",
		Placeholder:     sq.Question,
		QueryListTables: "SHOW TABLES",
	},

	PostgreSQL: &Dialect{
		DriverName:      "postgres",
		Placeholder:     sq.Dollar,
		QueryListTables: "SELECT tablename FROM pg_tables WHERE schemaname = 'public'",
	},

	SQLite3: &Dialect{
		DriverName:      "sqlite3",
		Placeholder:     sq.Question,
		QueryListTables: "SELECT name FROM sqlite_schema WHERE type='table'",
	},
}

// DialectFor maps a database/sql driver name to its dialect. Unknown drivers
// get "?" placeholders.
func DialectFor(driver string) *Dialect {
	switch driver {
	case "postgres", "pgx", "postgresql":
		return Dialects.PostgreSQL
	case "mysql":
		return Dialects.MySQL
	case "sqlite3", "sqlite":
		return Dialects.SQLite3
	default:
		return &Dialect{DriverName: driver, Placeholder: sq.Question}
	}
}

// ListTables returns the tables visible on q.
func (d *Dialect) ListTables(ctx context.Context, q Queryer) ([]string, error) {
	if d.QueryListTables == "" {
		return nil, fmt.Errorf("%w: dialect %s cannot list tables", ErrInvalidConfig, d.DriverName)
	}
	rows, err := q.QueryContext(ctx, d.QueryListTables)
	if err != nil {
		return nil, WrapQueryError("SELECT", d.QueryListTables, nil, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

// VerifyTables checks every table the relation touches exists in the database.
func VerifyTables(ctx context.Context, q Queryer, d *Dialect, tables ...string) error {
	present, err := d.ListTables(ctx, q)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(present))
	for _, t := range present {
		seen[t] = struct{}{}
	}
	for _, t := range tables {
		if _, ok := seen[t]; !ok {
			return fmt.Errorf("%w: table %s not found in database, database is out of sync", ErrInvalidConfig, t)
		}
	}
	return nil
}
