package manytomorph

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/iancoleman/strcase"
	"github.com/spf13/cast"
)

// RelationType defines the type of relationship a target declares.
type RelationType string

const (
	// RelationHasOne represents a one-to-one relationship where the target
	// owns a single related record.
	RelationHasOne RelationType = "HasOne"

	// RelationHasMany represents a one-to-many relationship where the target
	// owns multiple related records.
	RelationHasMany RelationType = "HasMany"

	// RelationBelongsTo represents an inverse relationship where the target
	// references a parent record.
	RelationBelongsTo RelationType = "BelongsTo"
)

// HasOne defines a HasOne relation.
type HasOne[T any] struct {
	ForeignKey string
	LocalKey   string
	Table      string
}

// HasMany defines a HasMany relation.
type HasMany[T any] struct {
	ForeignKey string
	LocalKey   string
	Table      string
}

// BelongsTo defines a BelongsTo relation.
type BelongsTo[T any] struct {
	ForeignKey string
	OwnerKey   string
	Table      string
}

// Relation is implemented by the descriptors above. Targets return one from
// a method named after the relation, optionally suffixed with "Relation":
//
//	func (FaqSection) ItemsRelation() manytomorph.HasMany[FaqSectionItem] {
//		return manytomorph.HasMany[FaqSectionItem]{ForeignKey: "faq_section_id"}
//	}
type Relation interface {
	RelationType() RelationType
	NewRelated() any
	GetOverrideTable() string
}

func (HasOne[T]) RelationType() RelationType    { return RelationHasOne }
func (HasOne[T]) NewRelated() any               { return new(T) }
func (r HasOne[T]) GetOverrideTable() string    { return r.Table }
func (HasMany[T]) RelationType() RelationType   { return RelationHasMany }
func (HasMany[T]) NewRelated() any              { return new(T) }
func (r HasMany[T]) GetOverrideTable() string   { return r.Table }
func (BelongsTo[T]) RelationType() RelationType { return RelationBelongsTo }
func (BelongsTo[T]) NewRelated() any            { return new(T) }
func (r BelongsTo[T]) GetOverrideTable() string { return r.Table }

// resolvedRelation is a descriptor with its keys filled in.
type resolvedRelation struct {
	name        string
	kind        RelationType
	related     *ModelInfo
	table       string
	foreignKey  string
	localKey    string
	ownerKey    string
	ownerFields *ModelInfo
}

// relationDescriptor finds the descriptor method for name on model and fills
// in zorm's key defaults.
func relationDescriptor(info *ModelInfo, name string) (*resolvedRelation, error) {
	ptrType := reflect.PointerTo(info.Type)
	method, ok := ptrType.MethodByName(name)
	if !ok {
		method, ok = ptrType.MethodByName(name + "Relation")
	}
	if !ok || method.Type.NumIn() != 1 || method.Type.NumOut() == 0 {
		return nil, WrapRelationError(name, info.Type.String(), ErrRelationNotFound)
	}

	out := method.Func.Call([]reflect.Value{reflect.New(info.Type)})
	rel, ok := out[0].Interface().(Relation)
	if !ok {
		return nil, WrapRelationError(name, info.Type.String(),
			fmt.Errorf("%w: %s does not return a relation", ErrInvalidConfig, method.Name))
	}

	related, err := ParseModelType(reflect.TypeOf(rel.NewRelated()))
	if err != nil {
		return nil, err
	}

	r := &resolvedRelation{
		name:        name,
		kind:        rel.RelationType(),
		related:     related,
		table:       related.TableName,
		ownerFields: info,
	}
	if t := rel.GetOverrideTable(); t != "" {
		r.table = t
	}

	cfg := reflect.ValueOf(rel)
	switch r.kind {
	case RelationHasMany, RelationHasOne:
		r.foreignKey = cfg.FieldByName("ForeignKey").String()
		if r.foreignKey == "" {
			r.foreignKey = strcase.ToSnake(info.Type.Name()) + "_id"
		}
		r.localKey = cfg.FieldByName("LocalKey").String()
		if r.localKey == "" {
			r.localKey = info.PrimaryKey
		}
	case RelationBelongsTo:
		r.foreignKey = cfg.FieldByName("ForeignKey").String()
		if r.foreignKey == "" {
			r.foreignKey = strcase.ToSnake(name) + "_id"
		}
		r.ownerKey = cfg.FieldByName("OwnerKey").String()
		if r.ownerKey == "" {
			r.ownerKey = related.PrimaryKey
		}
	}

	for _, col := range []string{r.table, r.foreignKey, r.localKey, r.ownerKey} {
		if col == "" {
			continue
		}
		if err := ValidateColumnName(col); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type relationGroup struct {
	cols string
	subs []string
}

// groupRelations splits "A", "A.B", "A:id,name" paths by their root, keeping
// first-seen order.
func groupRelations(relations []string) ([]string, map[string]*relationGroup) {
	var order []string
	groups := make(map[string]*relationGroup)

	for _, relation := range relations {
		path, cols, _ := strings.Cut(relation, ":")
		root, sub, nested := strings.Cut(path, ".")

		g, ok := groups[root]
		if !ok {
			g = &relationGroup{}
			groups[root] = g
			order = append(order, root)
		}
		if nested {
			// "A.B:cols" hands "B:cols" down to A's loader
			if cols != "" {
				sub += ":" + cols
			}
			g.subs = append(g.subs, sub)
		} else if cols != "" {
			g.cols = cols
		}
	}
	return order, groups
}

// loadNested eager loads relations declared by the targets in results, which
// all share info's type. One query per relation path.
func loadNested(ctx context.Context, exec *executor, results []any, info *ModelInfo, relations []string) error {
	if len(results) == 0 || len(relations) == 0 {
		return nil
	}

	order, groups := groupRelations(relations)
	for _, name := range order {
		rel, err := relationDescriptor(info, name)
		if err != nil {
			return err
		}
		group := groups[name]

		switch rel.kind {
		case RelationHasMany, RelationHasOne:
			err = loadHasMany(ctx, exec, results, rel, group)
		case RelationBelongsTo:
			err = loadBelongsTo(ctx, exec, results, rel, group)
		}
		if err != nil {
			return WrapRelationError(name, info.Type.String(), err)
		}
	}
	return nil
}

func loadHasMany(ctx context.Context, exec *executor, results []any, rel *resolvedRelation, group *relationGroup) error {
	ids := newKeySet()
	for _, res := range results {
		if id, ok := rel.ownerFields.Attribute(res, rel.localKey); ok && !isTransientKey(id) {
			ids.add(id)
		}
	}

	related, err := loadRelationQuery(ctx, exec, rel, rel.foreignKey, ids.keys, group.cols)
	if err != nil {
		return err
	}
	if len(group.subs) > 0 && len(related) > 0 {
		if err := loadNested(ctx, exec, related, rel.related, group.subs); err != nil {
			return err
		}
	}

	if _, ok := rel.related.Columns[rel.foreignKey]; !ok {
		return fmt.Errorf("%w: foreign key column %s not found in related model", ErrInvalidConfig, rel.foreignKey)
	}
	children := make(map[string][]any)
	for _, child := range related {
		fk, _ := rel.related.Attribute(child, rel.foreignKey)
		k := dictionaryKey(fk)
		children[k] = append(children[k], child)
	}

	for _, parent := range results {
		id, _ := rel.ownerFields.Attribute(parent, rel.localKey)
		assignRelated(parent, rel, children[dictionaryKey(id)])
	}
	return nil
}

func loadBelongsTo(ctx context.Context, exec *executor, results []any, rel *resolvedRelation, group *relationGroup) error {
	fks := newKeySet()
	for _, res := range results {
		if fk, ok := rel.ownerFields.Attribute(res, rel.foreignKey); ok && !isTransientKey(fk) {
			fks.add(fk)
		}
	}

	related, err := loadRelationQuery(ctx, exec, rel, rel.ownerKey, fks.keys, group.cols)
	if err != nil {
		return err
	}
	if len(group.subs) > 0 && len(related) > 0 {
		if err := loadNested(ctx, exec, related, rel.related, group.subs); err != nil {
			return err
		}
	}

	owners := make(map[string]any, len(related))
	for _, owner := range related {
		k, _ := rel.related.Attribute(owner, rel.ownerKey)
		owners[dictionaryKey(k)] = owner
	}

	for _, child := range results {
		fk, _ := rel.ownerFields.Attribute(child, rel.foreignKey)
		var items []any
		if owner, ok := owners[dictionaryKey(fk)]; ok && !isTransientKey(fk) {
			items = []any{owner}
		}
		assignRelated(child, rel, items)
	}
	return nil
}

// loadRelationQuery executes a SELECT * FROM table WHERE key IN (ids).
func loadRelationQuery(ctx context.Context, exec *executor, rel *resolvedRelation, key string, ids []any, cols string) ([]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := newQuery(rel.table)
	if cols != "" {
		q.Columns(strings.Split(cols, ",")...)
	}
	q.whereKeyIn(key, ids)

	rows, err := exec.query(ctx, kindNestedSelect, q.builder)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows, rel.related)
}

// assignRelated stores items on entity: in the relation's struct field when it
// has one, and in its relation slots when it embeds Slots.
func assignRelated(entity any, rel *resolvedRelation, items []any) {
	c := NewResults()
	for _, item := range items {
		c.Add(item)
	}
	if s, ok := entity.(RelationSetter); ok {
		s.SetRelation(rel.name, c)
	}

	field, ok := settableField(entity, rel.name)
	if !ok {
		return
	}
	if field.Kind() == reflect.Slice {
		elemType := field.Type().Elem()
		slice := reflect.MakeSlice(field.Type(), 0, len(items))
		for _, item := range items {
			iv := reflect.ValueOf(item)
			if elemType.Kind() == reflect.Pointer {
				slice = reflect.Append(slice, iv)
			} else {
				slice = reflect.Append(slice, iv.Elem())
			}
		}
		field.Set(slice)
		return
	}
	if len(items) == 0 {
		return
	}
	iv := reflect.ValueOf(items[0])
	switch {
	case iv.Type().AssignableTo(field.Type()):
		field.Set(iv)
	case iv.Elem().Type().AssignableTo(field.Type()):
		field.Set(iv.Elem())
	}
}

// loadCounts annotates each target in results with the number of related
// rows per relation: a "<Relation>Count" field when present and a
// "<relation>_count" side slot. One grouped COUNT query per relation.
func loadCounts(ctx context.Context, exec *executor, results []any, info *ModelInfo, relations []string) error {
	if len(results) == 0 {
		return nil
	}
	for _, name := range relations {
		rel, err := relationDescriptor(info, name)
		if err != nil {
			return err
		}

		// the key on the target side and the column it matches in the related table
		ownKey, relatedKey := rel.localKey, rel.foreignKey
		if rel.kind == RelationBelongsTo {
			ownKey, relatedKey = rel.foreignKey, rel.ownerKey
		}

		ids := newKeySet()
		for _, res := range results {
			if id, ok := info.Attribute(res, ownKey); ok && !isTransientKey(id) {
				ids.add(id)
			}
		}

		counts := make(map[string]int64)
		if ids.len() > 0 {
			b := sq.Select(relatedKey, "COUNT(*) AS aggregate").
				From(rel.table).
				Where(sq.Eq{relatedKey: ids.keys}).
				GroupBy(relatedKey)
			rows, err := exec.query(ctx, kindCountSelect, b)
			if err != nil {
				return WrapRelationError(name, info.Type.String(), err)
			}
			records, _, err := scanMaps(rows)
			if err != nil {
				return WrapRelationError(name, info.Type.String(), err)
			}
			for _, rec := range records {
				counts[dictionaryKey(rec[relatedKey])] = cast.ToInt64(rec["aggregate"])
			}
		}

		for _, res := range results {
			id, _ := info.Attribute(res, ownKey)
			n := counts[dictionaryKey(id)]
			if field, ok := settableField(res, name+"Count"); ok {
				assignValue(field, n)
			}
			setSideSlot(res, strcase.ToSnake(name)+"_count", n)
		}
	}
	return nil
}
