package manytomorph

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/rezakhademix/manytomorph/internal/logging"
)

// executor runs squirrel builders against the configured storage. A
// statement runs on tx, else the database the resolver routes its kind to,
// else the relation's own db, else GlobalDB.
type executor struct {
	tx       *sql.Tx
	resolver *DBResolver
	db       Queryer
	dialect  *Dialect
}

func (e *executor) queryerFor(kind string) (Queryer, error) {
	if e.tx != nil {
		return e.tx, nil
	}
	if e.resolver != nil {
		if db := e.resolver.For(kind); db != nil {
			return db, nil
		}
	}
	return e.fallback()
}

func (e *executor) fallback() (Queryer, error) {
	if e.db != nil {
		return e.db, nil
	}
	if GlobalDB != nil {
		return GlobalDB, nil
	}
	return nil, ErrNoQueryer
}

func (e *executor) render(b sq.Sqlizer) (string, []any, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, err
	}
	if e.dialect != nil && e.dialect.Placeholder != nil {
		query, err = e.dialect.Placeholder.ReplacePlaceholders(query)
		if err != nil {
			return "", nil, err
		}
	}
	return query, args, nil
}

// query runs a select and returns the open rows; callers close them.
func (e *executor) query(ctx context.Context, kind string, b sq.Sqlizer) (*sql.Rows, error) {
	q, err := e.queryerFor(kind)
	if err != nil {
		return nil, err
	}
	query, args, err := e.render(b)
	if err != nil {
		return nil, err
	}

	queriesTotal.WithLabelValues(kind).Inc()
	logging.Ctx(ctx).Debug().Str("kind", kind).Str("query", query).Int("args", len(args)).Msg("query")

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	return rows, nil
}

// exec runs a write and returns the rows affected.
func (e *executor) exec(ctx context.Context, kind string, b sq.Sqlizer) (int64, error) {
	q, err := e.queryerFor(kind)
	if err != nil {
		return 0, err
	}
	query, args, err := e.render(b)
	if err != nil {
		return 0, err
	}

	queriesTotal.WithLabelValues(kind).Inc()
	logging.Ctx(ctx).Debug().Str("kind", kind).Str("query", query).Int("args", len(args)).Msg("exec")

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, WrapQueryError(operationOf(query), query, args, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func operationOf(query string) string {
	op, _, _ := strings.Cut(strings.TrimSpace(query), " ")
	return strings.ToUpper(op)
}
