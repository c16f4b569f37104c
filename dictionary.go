package manytomorph

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rezakhademix/manytomorph/internal/logging"
)

// MorphDictionary indexes resolved targets by morph type then key. It is built
// per call and never shared.
type MorphDictionary map[string]map[string]any

// Lookup returns the target of morphType with the given key.
func (d MorphDictionary) Lookup(morphType string, key any) (any, bool) {
	byKey, ok := d[morphType]
	if !ok {
		return nil, false
	}
	e, ok := byKey[dictionaryKey(key)]
	return e, ok
}

func (d MorphDictionary) put(morphType string, key any, entity any) {
	byKey, ok := d[morphType]
	if !ok {
		byKey = make(map[string]any)
		d[morphType] = byKey
	}
	byKey[dictionaryKey(key)] = entity
}

// ParentDictionary partitions pivot rows by parent key, in pivot order.
type ParentDictionary map[string][]*PivotRecord

func buildParentDictionary(pivots []*PivotRecord) ParentDictionary {
	d := make(ParentDictionary)
	for _, p := range pivots {
		k := dictionaryKey(p.ForeignKey)
		d[k] = append(d[k], p)
	}
	return d
}

// For returns the pivot rows of the parent with key.
func (d ParentDictionary) For(key any) []*PivotRecord {
	return d[dictionaryKey(key)]
}

// morphResolver turns pivot rows into a MorphDictionary with one target query
// per distinct morph type.
type morphResolver struct {
	exec        *executor
	registry    *Registry
	constraints map[string]func(*Query)
	with        map[string][]string
	withCount   map[string][]string
}

type morphGroup struct {
	morphType *MorphType
	keys      *keySet
}

// group collects the distinct keys of each morph type, both in first-seen
// order. Rows with an empty type or key are ignored.
func (m *morphResolver) group(pivots []*PivotRecord) ([]*morphGroup, error) {
	var order []*morphGroup
	byName := make(map[string]*morphGroup)

	for _, p := range pivots {
		if p.MorphType == "" || absentMorphKey(p.MorphKey) {
			continue
		}
		g, ok := byName[p.MorphType]
		if !ok {
			mt, err := m.registry.Lookup(p.MorphType)
			if err != nil {
				return nil, err
			}
			g = &morphGroup{morphType: mt, keys: newKeySet()}
			byName[p.MorphType] = g
			order = append(order, g)
		}
		g.keys.add(p.MorphKey)
	}
	return order, nil
}

func (m *morphResolver) resolve(ctx context.Context, pivots []*PivotRecord) (_ MorphDictionary, err error) {
	ctx, span := startSpan(ctx, "ManyToMorph.resolve", attribute.Int("pivots", len(pivots)))
	defer func() { endSpan(span, err) }()

	groups, err := m.group(pivots)
	if err != nil {
		return nil, err
	}

	dict := make(MorphDictionary, len(groups))
	for _, g := range groups {
		entities, err := m.resolveType(ctx, g)
		if err != nil {
			return nil, err
		}
		info := g.morphType.Info
		for _, e := range entities {
			dict.put(g.morphType.Name, info.Key(e), e)
		}
	}
	return dict, nil
}

func (m *morphResolver) resolveType(ctx context.Context, g *morphGroup) (_ []any, err error) {
	name := g.morphType.Name
	info := g.morphType.Info

	ctx, span := startSpan(ctx, "ManyToMorph.resolveType",
		attribute.String("morph_type", name),
		attribute.Int("keys", g.keys.len()))
	defer func() { endSpan(span, err) }()

	keys := castKeys(g.keys.keys, info.KeyIsString())
	if len(keys) == 0 {
		return nil, nil
	}

	q := newQuery(info.TableName)
	if constrain, ok := m.constraints[name]; ok && constrain != nil {
		constrain(q)
	}
	q.whereKeyIn(info.PrimaryKey, keys)

	logging.Ctx(ctx).Debug().
		Str("table", info.TableName).
		Str("morph_type", name).
		Int("keys", len(keys)).
		Msg("resolving morph targets")

	batchKeys.Observe(float64(len(keys)))
	rows, err := m.exec.query(ctx, kindTargetSelect, q.builder)
	if err != nil {
		return nil, err
	}
	entities, err := scanEntities(rows, info)
	if err != nil {
		return nil, err
	}

	if err := loadNested(ctx, m.exec, entities, info, m.with[name]); err != nil {
		return nil, err
	}
	if err := loadCounts(ctx, m.exec, entities, info, m.withCount[name]); err != nil {
		return nil, err
	}
	return entities, nil
}

func (m *morphResolver) constrained(morphType string) bool {
	c, ok := m.constraints[morphType]
	return ok && c != nil
}
