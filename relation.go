package manytomorph

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rezakhademix/manytomorph/internal/logging"
)

// ManyToMorph relates one parent, through a single pivot table, to targets of
// several registered types. Configure it before use; it is not safe to
// reconfigure while a call is running.
type ManyToMorph struct {
	parent     any
	parentInfo *ModelInfo
	registry   *Registry

	tx       *sql.Tx
	resolver *DBResolver
	db       Queryer
	dialect  *Dialect
	clock    clock.Clock

	name            string
	table           string
	foreignPivotKey string
	parentKey       string
	morphType       string
	morphKey        string

	timestamps bool
	createdAt  string
	updatedAt  string
	orderBy    []string

	accessor    string
	collect     CollectionFactory
	using       *ModelInfo
	skipMissing bool

	constraints map[string]func(*Query)
	with        map[string][]string
	withCount   map[string][]string

	// first configuration error, reported by the next call
	err error
}

// MorphWith eager loads nested relations on targets, per morph type:
//
//	rel.MorphWith(map[string][]string{"faq_section": {"Items"}})
func (r *ManyToMorph) MorphWith(relations map[string][]string) *ManyToMorph {
	for morphType, names := range relations {
		r.with[morphType] = append(r.with[morphType], names...)
	}
	return r
}

// MorphWithCount annotates targets with related row counts, per morph type.
func (r *ManyToMorph) MorphWithCount(relations map[string][]string) *ManyToMorph {
	for morphType, names := range relations {
		r.withCount[morphType] = append(r.withCount[morphType], names...)
	}
	return r
}

// Constrain registers a callback that scopes the target query of a morph
// type. Later registrations for the same type replace earlier ones. Pivot
// rows whose target is filtered out are dropped from the result.
func (r *ManyToMorph) Constrain(callbacks map[string]func(*Query)) *ManyToMorph {
	maps.Copy(r.constraints, callbacks)
	return r
}

// As renames the side slot the pivot row is exposed under.
func (r *ManyToMorph) As(accessor string) *ManyToMorph {
	if accessor == "" {
		r.setErr(fmt.Errorf("%w: empty pivot accessor", ErrInvalidConfig))
		return r
	}
	r.accessor = accessor
	return r
}

// CollectUsing sets the factory for result collections.
func (r *ManyToMorph) CollectUsing(factory CollectionFactory) *ManyToMorph {
	if factory == nil {
		factory = NewResults
	}
	r.collect = factory
	return r
}

// WithTimestamps maintains creation and update timestamps on pivot rows.
// Column names default to created_at and updated_at.
func (r *ManyToMorph) WithTimestamps(columns ...string) *ManyToMorph {
	r.timestamps = true
	if len(columns) > 0 && columns[0] != "" {
		r.createdAt = columns[0]
	}
	if len(columns) > 1 && columns[1] != "" {
		r.updatedAt = columns[1]
	}
	for _, col := range []string{r.createdAt, r.updatedAt} {
		if err := ValidateColumnName(col); err != nil {
			r.setErr(err)
		}
	}
	return r
}

// OrderByPivot sorts results by a pivot column. Without it results follow
// the order the pivot rows are read in.
func (r *ManyToMorph) OrderByPivot(column, direction string) *ManyToMorph {
	if err := ValidateColumnName(column); err != nil {
		r.setErr(err)
		return r
	}
	dir := strings.ToUpper(strings.TrimSpace(direction))
	switch dir {
	case "":
		dir = "ASC"
	case "ASC", "DESC":
	default:
		r.setErr(fmt.Errorf("%w: invalid order direction %q", ErrInvalidConfig, direction))
		return r
	}
	r.orderBy = append(r.orderBy, column+" "+dir)
	return r
}

// Using exposes pivot rows as a custom struct: each row is hydrated into a
// fresh value of prototype's type and stored in the accessor slot in place
// of the *PivotRecord. A type with a SetPivotRecord(*PivotRecord) method also
// receives the raw record.
func (r *ManyToMorph) Using(prototype any) *ManyToMorph {
	info, err := ParseModelType(reflect.TypeOf(prototype))
	if err != nil {
		r.setErr(err)
		return r
	}
	r.using = info
	return r
}

// Named sets the relation name parents receive results under in GetEager.
func (r *ManyToMorph) Named(name string) *ManyToMorph {
	if name == "" {
		r.setErr(fmt.Errorf("%w: empty relation name", ErrInvalidConfig))
		return r
	}
	r.name = name
	return r
}

// SkipMissingTargets drops pivot rows whose target no longer exists instead
// of failing with a MissingTargetError.
func (r *ManyToMorph) SkipMissingTargets() *ManyToMorph {
	r.skipMissing = true
	return r
}

// Name returns the relation name used for eager loads.
func (r *ManyToMorph) Name() string { return r.name }

// Table returns the pivot table.
func (r *ManyToMorph) Table() string { return r.table }

// Tables returns the pivot table followed by every registered target table.
func (r *ManyToMorph) Tables() []string {
	tables := []string{r.table}
	for _, mt := range r.registry.Types() {
		tables = append(tables, mt.Info.TableName)
	}
	return tables
}

func (r *ManyToMorph) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *ManyToMorph) executor() *executor {
	return &executor{tx: r.tx, resolver: r.resolver, db: r.db, dialect: r.dialect}
}

func (r *ManyToMorph) pivot() *pivotQuery {
	return &pivotQuery{
		exec:            r.executor(),
		table:           r.table,
		foreignPivotKey: r.foreignPivotKey,
		morphType:       r.morphType,
		morphKey:        r.morphKey,
		orderBy:         r.orderBy,
		timestamps:      r.timestamps,
		createdAt:       r.createdAt,
		updatedAt:       r.updatedAt,
		clock:           r.clock,
	}
}

func (r *ManyToMorph) morphs() *morphResolver {
	return &morphResolver{
		exec:        r.executor(),
		registry:    r.registry,
		constraints: r.constraints,
		with:        r.with,
		withCount:   r.withCount,
	}
}

func (r *ManyToMorph) parentKeyOf(parent any) any {
	v, _ := r.parentInfo.Attribute(parent, r.parentKey)
	return v
}

// Get returns the targets of the parent in pivot order, each carrying the
// pivot row it was reached through. An unsaved parent yields an empty
// collection without touching storage.
func (r *ManyToMorph) Get(ctx context.Context) (_ Collection, err error) {
	ctx, span := startSpan(ctx, "ManyToMorph.Get",
		attribute.String("relation", r.name),
		attribute.String("table", r.table))
	defer func() { endSpan(span, err) }()

	if r.err != nil {
		return nil, r.err
	}

	key := r.parentKeyOf(r.parent)
	if isTransientKey(key) {
		return r.collect(), nil
	}

	pivots, err := r.pivot().selectByParent(ctx, key)
	if err != nil {
		return nil, err
	}
	dict, err := r.morphs().resolve(ctx, pivots)
	if err != nil {
		return nil, err
	}
	return r.match(ctx, pivots, dict, make(map[any]struct{}))
}

// GetEager loads the relation for many parents with one pivot query and one
// query per morph type overall. Every parent receives a loaded collection,
// empty when it has no pivot rows, through SetRelation or an exported field
// named after the relation.
func (r *ManyToMorph) GetEager(ctx context.Context, parents ...any) (err error) {
	ctx, span := startSpan(ctx, "ManyToMorph.GetEager",
		attribute.String("relation", r.name),
		attribute.Int("parents", len(parents)))
	defer func() { endSpan(span, err) }()

	if r.err != nil {
		return r.err
	}

	keys := newKeySet()
	for _, parent := range parents {
		info, err := modelOf(parent)
		if err != nil {
			return err
		}
		if info.Type != r.parentInfo.Type {
			return fmt.Errorf("%w: expected *%s parent, got %T", ErrInvalidModel, r.parentInfo.Type, parent)
		}
		if !canSetRelation(parent, r.name) {
			return WrapRelationError(r.name, info.Type.String(), ErrRelationNotFound)
		}
		if key := r.parentKeyOf(parent); !isTransientKey(key) {
			keys.add(key)
		}
	}

	var (
		pivots []*PivotRecord
		dict   = MorphDictionary{}
	)
	if keys.len() > 0 {
		if pivots, err = r.pivot().selectByParent(ctx, keys.keys...); err != nil {
			return err
		}
		if dict, err = r.morphs().resolve(ctx, pivots); err != nil {
			return err
		}
	}

	byParent := buildParentDictionary(pivots)
	seen := make(map[any]struct{})
	results := make([]Collection, len(parents))
	for i, parent := range parents {
		var rows []*PivotRecord
		if key := r.parentKeyOf(parent); !isTransientKey(key) {
			rows = byParent.For(key)
		}
		if results[i], err = r.match(ctx, rows, dict, seen); err != nil {
			return err
		}
	}

	// assign only once every parent resolved so a failure leaves no partial state
	for i, parent := range parents {
		setRelation(parent, r.name, results[i])
	}
	return nil
}

// match maps pivot rows to their targets in order. A target reached more
// than once (within seen) is copied so each appearance holds its own pivot.
func (r *ManyToMorph) match(ctx context.Context, pivots []*PivotRecord, dict MorphDictionary, seen map[any]struct{}) (Collection, error) {
	c := r.collect()
	for _, p := range pivots {
		if p.MorphType == "" || absentMorphKey(p.MorphKey) {
			continue
		}
		entity, ok := dict.Lookup(p.MorphType, p.MorphKey)
		if !ok {
			if r.morphs().constrained(p.MorphType) {
				continue
			}
			if r.skipMissing {
				logging.Ctx(ctx).Warn().
					Str("table", r.table).
					Str("morph_type", p.MorphType).
					Str("morph_key", dictionaryKey(p.MorphKey)).
					Msg("skipping pivot row with missing target")
				continue
			}
			return nil, &MissingTargetError{Type: p.MorphType, Key: p.MorphKey}
		}

		if _, dup := seen[entity]; dup {
			entity = cloneEntity(entity)
		}
		seen[entity] = struct{}{}

		if !setSideSlot(entity, r.accessor, r.pivotValue(p)) {
			return nil, fmt.Errorf("%w: %T cannot hold the %q pivot slot", ErrInvalidModel, entity, r.accessor)
		}
		c.Add(entity)
	}
	return c, nil
}

func (r *ManyToMorph) pivotValue(p *PivotRecord) any {
	if r.using == nil {
		return p
	}
	v := reflect.New(r.using.Type)
	fillStruct(v.Interface(), r.using, p.Attributes)
	if s, ok := v.Interface().(interface{ SetPivotRecord(*PivotRecord) }); ok {
		s.SetPivotRecord(p)
	}
	return v.Interface()
}

func canSetRelation(parent any, name string) bool {
	if _, ok := parent.(RelationSetter); ok {
		return true
	}
	_, ok := settableField(parent, name)
	return ok
}
