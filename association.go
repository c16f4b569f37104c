package manytomorph

import (
	"database/sql"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/iancoleman/strcase"
)

// Option configures a ManyToMorph at construction.
type Option func(*ManyToMorph)

// WithTable overrides the pivot table, plural(morphName) by default.
func WithTable(table string) Option {
	return func(r *ManyToMorph) { r.table = table }
}

// WithMorphTypeColumn overrides the pivot column holding the morph type.
func WithMorphTypeColumn(column string) Option {
	return func(r *ManyToMorph) { r.morphType = column }
}

// WithMorphKeyColumn overrides the pivot column holding the target key.
func WithMorphKeyColumn(column string) Option {
	return func(r *ManyToMorph) { r.morphKey = column }
}

// WithForeignPivotKey overrides the pivot column pointing at the parent.
func WithForeignPivotKey(column string) Option {
	return func(r *ManyToMorph) { r.foreignPivotKey = column }
}

// WithParentKey overrides the parent column the pivot points at.
func WithParentKey(column string) Option {
	return func(r *ManyToMorph) { r.parentKey = column }
}

// WithName overrides the relation name used for eager loads.
func WithName(name string) Option {
	return func(r *ManyToMorph) { r.name = name }
}

// WithAccessor overrides the pivot side slot name.
func WithAccessor(accessor string) Option {
	return func(r *ManyToMorph) { r.accessor = accessor }
}

// WithPivotTimestamps enables pivot timestamps, see WithTimestamps.
func WithPivotTimestamps(columns ...string) Option {
	return func(r *ManyToMorph) { r.WithTimestamps(columns...) }
}

// WithRegistry resolves morph types against reg instead of DefaultRegistry.
func WithRegistry(reg *Registry) Option {
	return func(r *ManyToMorph) { r.registry = reg }
}

// WithDB runs queries against q.
func WithDB(q Queryer) Option {
	return func(r *ManyToMorph) {
		if db, ok := q.(*sql.DB); ok && db == nil {
			return
		}
		r.db = q
	}
}

// WithDBResolver routes reads to replicas and writes to the primary.
func WithDBResolver(resolver *DBResolver) Option {
	return func(r *ManyToMorph) { r.resolver = resolver }
}

// WithDialect sets the placeholder format, "?" by default.
func WithDialect(d *Dialect) Option {
	return func(r *ManyToMorph) { r.dialect = d }
}

// WithClock sets the clock used for pivot timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *ManyToMorph) { r.clock = c }
}

// WithCollection sets the factory for result collections.
func WithCollection(factory CollectionFactory) Option {
	return func(r *ManyToMorph) { r.CollectUsing(factory) }
}

// WithMorphWith is MorphWith at construction.
func WithMorphWith(relations map[string][]string) Option {
	return func(r *ManyToMorph) { r.MorphWith(relations) }
}

// WithMorphWithCount is MorphWithCount at construction.
func WithMorphWithCount(relations map[string][]string) Option {
	return func(r *ManyToMorph) { r.MorphWithCount(relations) }
}

// WithConstraints is Constrain at construction.
func WithConstraints(callbacks map[string]func(*Query)) Option {
	return func(r *ManyToMorph) { r.Constrain(callbacks) }
}

// WithSkipMissingTargets is SkipMissingTargets at construction.
func WithSkipMissingTargets() Option {
	return func(r *ManyToMorph) { r.SkipMissingTargets() }
}

// NewManyToMorph builds the relation from parent to the targets linked
// through the pivot named after morphName. For a *Page parent and
// "page_component":
//
//	table              page_components
//	morph type column  page_component_type
//	morph key column   page_component_id
//	foreign pivot key  page_id
//	relation name      PageComponents
func NewManyToMorph(parent any, morphName string, opts ...Option) (*ManyToMorph, error) {
	info, err := modelOf(parent)
	if err != nil {
		return nil, err
	}
	if morphName == "" {
		return nil, fmt.Errorf("%w: empty morph name", ErrInvalidConfig)
	}

	r := &ManyToMorph{
		parent:      parent,
		parentInfo:  info,
		registry:    DefaultRegistry,
		clock:       clock.New(),
		table:       inflector.Plural(morphName),
		morphType:   morphName + "_type",
		morphKey:    morphName + "_id",
		parentKey:   info.PrimaryKey,
		createdAt:   "created_at",
		updatedAt:   "updated_at",
		accessor:    DefaultAccessor,
		collect:     NewResults,
		constraints: make(map[string]func(*Query)),
		with:        make(map[string][]string),
		withCount:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.foreignPivotKey == "" {
		r.foreignPivotKey = inflector.Singular(info.TableName) + "_" + r.parentKey
	}
	if r.name == "" {
		r.name = strcase.ToCamel(r.table)
	}

	if r.err != nil {
		return nil, r.err
	}
	if err := r.pivot().validate(); err != nil {
		return nil, err
	}
	if _, ok := info.Columns[r.parentKey]; !ok {
		return nil, fmt.Errorf("%w: parent %s has no column %s", ErrInvalidConfig, info.Type, r.parentKey)
	}
	if r.registry == nil {
		return nil, fmt.Errorf("%w: nil registry", ErrInvalidConfig)
	}
	if r.accessor == "" {
		return nil, fmt.Errorf("%w: empty pivot accessor", ErrInvalidConfig)
	}
	return r, nil
}

// MustManyToMorph is NewManyToMorph that panics on configuration errors, for
// relation methods on models:
//
//	func (p *Page) Components() *manytomorph.ManyToMorph {
//		return manytomorph.MustManyToMorph(p, "page_component")
//	}
func MustManyToMorph(parent any, morphName string, opts ...Option) *ManyToMorph {
	r, err := NewManyToMorph(parent, morphName, opts...)
	if err != nil {
		panic(err)
	}
	return r
}
