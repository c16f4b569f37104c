package manytomorph

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// MorphType is a registered target type: the alias stored in the pivot's type
// column and the Go type rows of that alias hydrate into.
type MorphType struct {
	Name string
	Type reflect.Type
	Info *ModelInfo
}

// New returns a fresh zero *T for the type.
func (m *MorphType) New() any {
	return reflect.New(m.Type).Interface()
}

// Registry maps morph type aliases to target types.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*MorphType
	byType map[reflect.Type]*MorphType
}

// DefaultRegistry is used by relations not given a registry of their own.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*MorphType),
		byType: make(map[reflect.Type]*MorphType),
	}
}

// Register binds name to the struct type of prototype. Registering the same
// name twice replaces the previous binding.
func (r *Registry) Register(name string, prototype any) error {
	if name == "" {
		return fmt.Errorf("%w: empty morph type name", ErrInvalidConfig)
	}
	info, err := ParseModelType(reflect.TypeOf(prototype))
	if err != nil {
		return err
	}
	if err := ValidateColumnName(info.TableName); err != nil {
		return err
	}
	if _, ok := info.keyField(); !ok {
		return fmt.Errorf("%w: %s has no field for primary key %q", ErrInvalidModel, info.Type, info.PrimaryKey)
	}

	mt := &MorphType{Name: name, Type: info.Type, Info: info}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, rebind := r.byName[name]
	r.byName[name] = mt
	r.byType[info.Type] = mt
	if rebind && prev.Type != info.Type && r.byType[prev.Type] == prev {
		delete(r.byType, prev.Type)
		// another alias of the old type keeps it resolvable
		for _, other := range r.byName {
			if other.Type == prev.Type {
				r.byType[prev.Type] = other
				break
			}
		}
	}
	return nil
}

// Register binds name to T on r.
func Register[T any](r *Registry, name string) error {
	var t T
	return r.Register(name, &t)
}

// RegisterMorph binds name to T on DefaultRegistry.
func RegisterMorph[T any](name string) error {
	return Register[T](DefaultRegistry, name)
}

// Lookup returns the target type registered under name.
func (r *Registry) Lookup(name string) (*MorphType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mt, ok := r.byName[name]
	if !ok {
		return nil, &UnknownMorphTypeError{Type: name}
	}
	return mt, nil
}

// NameOf returns the alias stored for entity: its MorphClass() when it has
// one, otherwise the alias its Go type was registered under.
func (r *Registry) NameOf(entity any) (string, error) {
	if mc, ok := entity.(interface{ MorphClass() string }); ok {
		return mc.MorphClass(), nil
	}
	typ := reflect.TypeOf(entity)
	if typ == nil {
		return "", ErrNilPointer
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	mt, ok := r.byType[typ]
	if !ok {
		return "", fmt.Errorf("%w: %s is not registered", ErrUnknownMorphType, typ)
	}
	return mt.Name, nil
}

// Types returns every registered morph type ordered by alias.
func (r *Registry) Types() []*MorphType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MorphType, 0, len(r.byName))
	for _, mt := range r.byName {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
