package manytomorph

import (
	"context"
	"fmt"
	"maps"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"
	"github.com/spf13/cast"
)

// PivotRecord is one row of the pivot table. Attributes holds every selected
// column, identity columns included.
type PivotRecord struct {
	Table      string
	ForeignKey any
	MorphType  string
	MorphKey   any
	Attributes map[string]any

	columns   []string
	createdAt string
	updatedAt string
}

// Columns returns the pivot columns in select order.
func (p *PivotRecord) Columns() []string {
	return p.columns
}

// Get returns the raw value of column.
func (p *PivotRecord) Get(column string) (any, bool) {
	v, ok := p.Attributes[column]
	return v, ok
}

// Int64 returns column coerced to int64, zero when absent or not numeric.
func (p *PivotRecord) Int64(column string) int64 {
	return cast.ToInt64(p.Attributes[column])
}

// String returns column coerced to string.
func (p *PivotRecord) String(column string) string {
	return cast.ToString(p.Attributes[column])
}

// Time returns column coerced to time.Time.
func (p *PivotRecord) Time(column string) time.Time {
	t, _ := cast.ToTimeE(p.Attributes[column])
	return t
}

// CreatedAt returns the creation timestamp; zero when timestamps are off.
func (p *PivotRecord) CreatedAt() time.Time {
	if p.createdAt == "" {
		return time.Time{}
	}
	return p.Time(p.createdAt)
}

// UpdatedAt returns the update timestamp; zero when timestamps are off.
func (p *PivotRecord) UpdatedAt() time.Time {
	if p.updatedAt == "" {
		return time.Time{}
	}
	return p.Time(p.updatedAt)
}

// pivotQuery is the scoped CRUD surface over the pivot table.
type pivotQuery struct {
	exec            *executor
	table           string
	foreignPivotKey string
	morphType       string
	morphKey        string
	orderBy         []string
	timestamps      bool
	createdAt       string
	updatedAt       string
	clock           clock.Clock
}

func (q *pivotQuery) identity(parentKey any, morphType string, morphKey any) sq.Eq {
	return sq.Eq{
		q.foreignPivotKey: parentKey,
		q.morphType:       morphType,
		q.morphKey:        morphKey,
	}
}

func (q *pivotQuery) insert(ctx context.Context, parentKey any, morphType string, morphKey any, extra map[string]any) error {
	values := make(map[string]any, len(extra)+5)
	for col, v := range extra {
		if err := ValidateColumnName(col); err != nil {
			return err
		}
		values[col] = v
	}
	// identity columns win over caller supplied values
	maps.Copy(values, q.identity(parentKey, morphType, morphKey))

	if q.timestamps {
		now := q.clock.Now()
		values[q.createdAt] = now
		values[q.updatedAt] = now
	}

	_, err := q.exec.exec(ctx, kindPivotInsert, sq.Insert(q.table).SetMap(values))
	return err
}

func (q *pivotQuery) update(ctx context.Context, parentKey any, morphType string, morphKey any, patch map[string]any) (int64, error) {
	values := make(map[string]any, len(patch)+1)
	for col, v := range patch {
		if err := ValidateColumnName(col); err != nil {
			return 0, err
		}
		values[col] = v
	}
	if q.timestamps {
		values[q.updatedAt] = q.clock.Now()
	}
	if len(values) == 0 {
		return 0, nil
	}

	b := sq.Update(q.table).SetMap(values).Where(q.identity(parentKey, morphType, morphKey))
	return q.exec.exec(ctx, kindPivotUpdate, b)
}

func (q *pivotQuery) delete(ctx context.Context, parentKey any, morphType string, morphKey any) (int64, error) {
	b := sq.Delete(q.table).Where(q.identity(parentKey, morphType, morphKey))
	return q.exec.exec(ctx, kindPivotDelete, b)
}

func (q *pivotQuery) deleteAll(ctx context.Context, parentKey any) (int64, error) {
	b := sq.Delete(q.table).Where(sq.Eq{q.foreignPivotKey: parentKey})
	return q.exec.exec(ctx, kindPivotDelete, b)
}

// selectByParent returns the pivot rows of the given parents, ordered only by
// the configured pivot order clauses.
func (q *pivotQuery) selectByParent(ctx context.Context, parentKeys ...any) ([]*PivotRecord, error) {
	rows, err := q.exec.query(ctx, kindPivotSelect, q.selectBuilder(parentKeys))
	if err != nil {
		return nil, err
	}
	records, columns, err := scanMaps(rows)
	if err != nil {
		return nil, err
	}

	out := make([]*PivotRecord, 0, len(records))
	for _, attrs := range records {
		p := &PivotRecord{
			Table:      q.table,
			ForeignKey: attrs[q.foreignPivotKey],
			MorphType:  cast.ToString(attrs[q.morphType]),
			MorphKey:   attrs[q.morphKey],
			Attributes: attrs,
			columns:    columns,
		}
		if q.timestamps {
			p.createdAt = q.createdAt
			p.updatedAt = q.updatedAt
		}
		out = append(out, p)
	}
	return out, nil
}

func (q *pivotQuery) validate() error {
	for _, name := range []string{q.table, q.foreignPivotKey, q.morphType, q.morphKey} {
		if err := ValidateColumnName(name); err != nil {
			return err
		}
	}
	if q.timestamps {
		if err := ValidateColumnName(q.createdAt); err != nil {
			return err
		}
		if err := ValidateColumnName(q.updatedAt); err != nil {
			return err
		}
	}
	if q.foreignPivotKey == q.morphType || q.foreignPivotKey == q.morphKey || q.morphType == q.morphKey {
		return fmt.Errorf("%w: pivot columns must be distinct", ErrInvalidConfig)
	}
	return nil
}

func (q *pivotQuery) selectBuilder(parentKeys []any) sq.SelectBuilder {
	var where sq.Eq
	if len(parentKeys) == 1 {
		where = sq.Eq{q.foreignPivotKey: parentKeys[0]}
	} else {
		where = sq.Eq{q.foreignPivotKey: parentKeys}
	}

	b := sq.Select("*").From(q.table).Where(where)
	if len(q.orderBy) > 0 {
		b = b.OrderBy(q.orderBy...)
	}
	return b
}
