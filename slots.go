package manytomorph

import (
	"maps"
	"reflect"

	"github.com/iancoleman/strcase"
)

// DefaultAccessor is the side slot that exposes the pivot row on each target.
const DefaultAccessor = "pivot"

// SideSlotter is implemented by targets that accept non-persisted attributes,
// such as the pivot row a relation resolved them through.
type SideSlotter interface {
	SetSideSlot(name string, value any)
}

// RelationSetter is implemented by parents that accept loaded associations.
type RelationSetter interface {
	SetRelation(name string, c Collection)
}

// Slots is embedded into models to give them side slots and a loaded
// relation registry:
//
//	type HeroSection struct {
//		manytomorph.Slots
//		ID      int
//		Heading string
//	}
type Slots struct {
	side      map[string]any
	relations map[string]Collection
}

// SetSideSlot stores value under name.
func (s *Slots) SetSideSlot(name string, value any) {
	if s.side == nil {
		s.side = make(map[string]any)
	}
	s.side[name] = value
}

// SideSlot returns the value stored under name.
func (s *Slots) SideSlot(name string) (any, bool) {
	v, ok := s.side[name]
	return v, ok
}

// Pivot returns the pivot row stored in the default accessor, or nil.
func (s *Slots) Pivot() *PivotRecord {
	return s.PivotAs(DefaultAccessor)
}

// PivotAs returns the pivot row stored under a renamed accessor, or nil.
func (s *Slots) PivotAs(accessor string) *PivotRecord {
	p, _ := s.side[accessor].(*PivotRecord)
	return p
}

// SetRelation marks the association name as loaded with c.
func (s *Slots) SetRelation(name string, c Collection) {
	if s.relations == nil {
		s.relations = make(map[string]Collection)
	}
	s.relations[name] = c
}

// Relation returns a loaded association; nil when it was never loaded.
func (s *Slots) Relation(name string) Collection {
	return s.relations[name]
}

// RelationLoaded distinguishes "not fetched" from "fetched, empty".
func (s *Slots) RelationLoaded(name string) bool {
	_, ok := s.relations[name]
	return ok
}

func (s *Slots) cloneSlots() {
	s.side = maps.Clone(s.side)
	s.relations = maps.Clone(s.relations)
}

type slotCloner interface {
	cloneSlots()
}

// setSideSlot stores value on entity through SideSlotter, falling back to an
// exported field named after the slot ("pivot" -> Pivot).
func setSideSlot(entity any, name string, value any) bool {
	if s, ok := entity.(SideSlotter); ok {
		s.SetSideSlot(name, value)
		return true
	}
	return setField(entity, strcase.ToCamel(name), value)
}

// setRelation assigns a loaded association through RelationSetter, falling
// back to an exported field holding a Collection or a slice.
func setRelation(entity any, name string, c Collection) bool {
	if s, ok := entity.(RelationSetter); ok {
		s.SetRelation(name, c)
		return true
	}

	field, ok := settableField(entity, name)
	if !ok {
		return false
	}
	if reflect.TypeOf(c).AssignableTo(field.Type()) {
		field.Set(reflect.ValueOf(c))
		return true
	}
	if field.Kind() != reflect.Slice {
		return false
	}
	slice := reflect.MakeSlice(field.Type(), 0, c.Len())
	elemType := field.Type().Elem()
	for _, item := range c.All() {
		iv := reflect.ValueOf(item)
		switch {
		case iv.Type().AssignableTo(elemType):
			slice = reflect.Append(slice, iv)
		case iv.Kind() == reflect.Pointer && iv.Elem().Type().AssignableTo(elemType):
			slice = reflect.Append(slice, iv.Elem())
		}
	}
	field.Set(slice)
	return true
}

func setField(entity any, name string, value any) bool {
	field, ok := settableField(entity, name)
	if !ok {
		return false
	}
	v := reflect.ValueOf(value)
	if !v.IsValid() || !v.Type().AssignableTo(field.Type()) {
		return false
	}
	field.Set(v)
	return true
}

func settableField(entity any, name string) (reflect.Value, bool) {
	val := reflect.ValueOf(entity)
	if val.Kind() != reflect.Pointer || val.IsNil() {
		return reflect.Value{}, false
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	field := val.FieldByName(name)
	if !field.IsValid() || !field.CanSet() {
		return reflect.Value{}, false
	}
	return field, true
}

// cloneEntity returns a shallow copy of a struct pointer with its own slots.
func cloneEntity(entity any) any {
	val := reflect.ValueOf(entity)
	if val.Kind() != reflect.Pointer || val.IsNil() {
		return entity
	}
	cp := reflect.New(val.Elem().Type())
	cp.Elem().Set(val.Elem())
	out := cp.Interface()
	if c, ok := out.(slotCloner); ok {
		c.cloneSlots()
	}
	return out
}
