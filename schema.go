package manytomorph

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
	"github.com/spf13/cast"
)

// ModelInfo holds the reflection data for a model struct.
type ModelInfo struct {
	Type       reflect.Type
	TableName  string
	PrimaryKey string
	Fields     map[string]*FieldInfo // StructFieldName -> FieldInfo
	Columns    map[string]*FieldInfo // DBColumnName -> FieldInfo
}

// FieldInfo holds data about a single field in the model.
type FieldInfo struct {
	Name      string // Struct field name
	Column    string // DB column name
	IsPrimary bool
	FieldType reflect.Type
	Index     []int // Index path, including embedded structs
}

var (
	modelCache = make(map[reflect.Type]*ModelInfo)
	cacheMu    sync.RWMutex

	inflector = pluralize.NewClient()

	slotsType = reflect.TypeOf(Slots{})
	timeType  = reflect.TypeOf(time.Time{})
)

// ParseModel inspects the struct T and returns its metadata.
func ParseModel[T any]() (*ModelInfo, error) {
	var t T
	return ParseModelType(reflect.TypeOf(t))
}

// ParseModelType inspects the type and returns its metadata. Pointer types are
// dereferenced; anything that is not a struct yields ErrInvalidModel.
func ParseModelType(typ reflect.Type) (*ModelInfo, error) {
	if typ == nil {
		return nil, ErrInvalidModel
	}
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrInvalidModel, typ)
	}

	cacheMu.RLock()
	if info, ok := modelCache[typ]; ok {
		cacheMu.RUnlock()
		return info, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double check locking
	if info, ok := modelCache[typ]; ok {
		return info, nil
	}

	info := &ModelInfo{
		Type:    typ,
		Fields:  make(map[string]*FieldInfo),
		Columns: make(map[string]*FieldInfo),
	}

	ptrVal := reflect.New(typ)
	if tableNamer, ok := ptrVal.Interface().(interface{ TableName() string }); ok {
		info.TableName = tableNamer.TableName()
	} else {
		info.TableName = inflector.Plural(strcase.ToSnake(typ.Name()))
	}

	if primaryKeyer, ok := ptrVal.Interface().(interface{ PrimaryKey() string }); ok {
		info.PrimaryKey = primaryKeyer.PrimaryKey()
	} else {
		info.PrimaryKey = "id"
	}

	parseFields(info, typ, nil)

	modelCache[typ] = info
	return info, nil
}

func parseFields(info *ModelInfo, typ reflect.Type, parent []int) {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		index := append(append([]int{}, parent...), i)

		if field.Anonymous && field.Type == slotsType {
			continue
		}

		// Flatten embedded structs
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			parseFields(info, field.Type, index)
			continue
		}

		if field.PkgPath != "" {
			continue
		}

		tag := field.Tag.Get("morph")
		if tag == "-" {
			continue
		}

		dbCol := strcase.ToSnake(field.Name)
		isPrimary := false

		if tag != "" {
			for _, part := range strings.Split(tag, ";") {
				kv := strings.SplitN(part, ":", 2)
				key := strings.TrimSpace(kv[0])
				val := ""
				if len(kv) > 1 {
					val = strings.TrimSpace(kv[1])
				}

				switch key {
				case "column":
					dbCol = val
				case "primary", "primaryKey":
					isPrimary = true
				}
			}
		}

		if field.Name == "ID" {
			isPrimary = true
		}
		if isPrimary {
			info.PrimaryKey = dbCol
		}

		fInfo := &FieldInfo{
			Name:      field.Name,
			Column:    dbCol,
			IsPrimary: isPrimary,
			FieldType: field.Type,
			Index:     index,
		}

		info.Fields[field.Name] = fInfo
		info.Columns[dbCol] = fInfo
	}
}

// keyField returns the field holding the primary key.
func (info *ModelInfo) keyField() (*FieldInfo, bool) {
	f, ok := info.Columns[info.PrimaryKey]
	return f, ok
}

// KeyIsString reports whether the primary key is declared as a string.
func (info *ModelInfo) KeyIsString() bool {
	f, ok := info.keyField()
	if !ok {
		return false
	}
	t := f.FieldType
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.String
}

// ForeignKey is the conventional column other tables use to point at this model,
// e.g. "page_id" for the "pages" table.
func (info *ModelInfo) ForeignKey() string {
	return inflector.Singular(info.TableName) + "_" + info.PrimaryKey
}

// Attribute returns the value stored in the field mapped to column.
func (info *ModelInfo) Attribute(entity any, column string) (any, bool) {
	f, ok := info.Columns[column]
	if !ok {
		return nil, false
	}
	val := reflect.ValueOf(entity)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, false
		}
		val = val.Elem()
	}
	fv := val.FieldByIndex(f.Index)
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil, true
		}
		return fv.Elem().Interface(), true
	}
	return fv.Interface(), true
}

// Key returns the primary key value of entity.
func (info *ModelInfo) Key(entity any) any {
	v, _ := info.Attribute(entity, info.PrimaryKey)
	return v
}

// modelOf returns the metadata for entity, which must be a non-nil pointer to struct.
func modelOf(entity any) (*ModelInfo, error) {
	if entity == nil {
		return nil, ErrNilPointer
	}
	val := reflect.ValueOf(entity)
	if val.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("%w: expected pointer, got %T", ErrInvalidModel, entity)
	}
	if val.IsNil() {
		return nil, ErrNilPointer
	}
	return ParseModelType(val.Type())
}

// fillStruct populates a struct with values from a column map.
func fillStruct(target any, info *ModelInfo, data map[string]any) {
	val := reflect.ValueOf(target).Elem()

	for column, v := range data {
		f, ok := info.Columns[column]
		if !ok || v == nil {
			continue
		}
		fieldVal := val.FieldByIndex(f.Index)
		if !fieldVal.CanSet() {
			continue
		}
		assignValue(fieldVal, v)
	}
}

// assignValue sets v on field, converting between compatible kinds and
// allocating pointer fields as needed.
func assignValue(field reflect.Value, v any) bool {
	src := reflect.ValueOf(v)
	if !src.IsValid() {
		return false
	}

	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if !assignValue(elem.Elem(), v) {
			return false
		}
		field.Set(elem)
		return true
	}

	if field.CanAddr() {
		if scanner, ok := field.Addr().Interface().(sql.Scanner); ok {
			return scanner.Scan(v) == nil
		}
	}

	if field.Type() == timeType {
		t, err := cast.ToTimeE(v)
		if err != nil {
			return false
		}
		field.Set(reflect.ValueOf(t))
		return true
	}

	if b, ok := v.([]byte); ok && field.Kind() == reflect.String {
		field.SetString(string(b))
		return true
	}

	if src.Type().AssignableTo(field.Type()) {
		field.Set(src)
		return true
	}
	// string <-> number conversions through reflect produce runes, not numbers
	if src.Type().ConvertibleTo(field.Type()) && (src.Kind() == reflect.String) == (field.Kind() == reflect.String) {
		field.Set(src.Convert(field.Type()))
		return true
	}
	return assignCast(field, v)
}

func assignCast(field reflect.Value, v any) bool {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(v)
		if err != nil {
			return false
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(v)
		if err != nil {
			return false
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return false
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return false
		}
		field.SetBool(b)
	case reflect.String:
		str, err := cast.ToStringE(v)
		if err != nil {
			return false
		}
		field.SetString(str)
	default:
		return false
	}
	return true
}
