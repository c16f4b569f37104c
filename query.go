package manytomorph

import (
	sq "github.com/Masterminds/squirrel"
)

// Query is the table-scoped select handed to constrain callbacks. It wraps a
// squirrel SelectBuilder; predicates use "?" placeholders regardless of the
// driver.
type Query struct {
	table   string
	builder sq.SelectBuilder
}

func newQuery(table string) *Query {
	return &Query{
		table:   table,
		builder: sq.Select(table + ".*").From(table),
	}
}

// Table returns the table the query selects from.
func (q *Query) Table() string {
	return q.table
}

// Columns replaces the selected columns. The primary key must stay selected
// for the results to be matched back to pivot rows.
func (q *Query) Columns(columns ...string) *Query {
	q.builder = q.builder.RemoveColumns().Columns(columns...)
	return q
}

// Where adds a predicate: a raw SQL fragment with "?" placeholders, or any
// squirrel Sqlizer / map (sq.Eq, sq.Gt, ...).
func (q *Query) Where(pred any, args ...any) *Query {
	q.builder = q.builder.Where(pred, args...)
	return q
}

// WhereIn adds "column IN (values...)".
func (q *Query) WhereIn(column string, values []any) *Query {
	q.builder = q.builder.Where(sq.Eq{column: values})
	return q
}

// OrderBy adds ORDER BY clauses, e.g. "position DESC".
func (q *Query) OrderBy(clauses ...string) *Query {
	q.builder = q.builder.OrderBy(clauses...)
	return q
}

// Limit caps the number of rows read.
func (q *Query) Limit(n uint64) *Query {
	q.builder = q.builder.Limit(n)
	return q
}

// ToSql renders the query with "?" placeholders.
func (q *Query) ToSql() (string, []any, error) {
	return q.builder.ToSql()
}

func (q *Query) whereKeyIn(column string, keys []any) *Query {
	return q.WhereIn(q.table+"."+column, keys)
}
