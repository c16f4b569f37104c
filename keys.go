package manytomorph

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
)

// dictionaryKey normalizes a key value into the string used by the in-memory
// dictionaries. Drivers hand back int64 where structs hold int, []byte where
// structs hold string; both sides meet on the same rendering.
func dictionaryKey(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case []byte:
		return string(k)
	case int:
		return strconv.Itoa(k)
	case int64:
		return strconv.FormatInt(k, 10)
	case fmt.Stringer:
		return k.String()
	}

	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return ""
		}
		return dictionaryKey(val.Elem().Interface())
	}
	return fmt.Sprintf("%v", v)
}

// isTransientKey reports whether a key denotes an unsaved entity: nil, a nil
// pointer, or the zero value of its type.
func isTransientKey(v any) bool {
	if v == nil {
		return true
	}
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return true
		}
		val = val.Elem()
	}
	return val.IsZero()
}

// absentMorphKey reports whether a pivot row carries no target key. Unlike
// isTransientKey a zero key is a real row: MySQL and TEXT keyed tables can
// hold 0.
func absentMorphKey(v any) bool {
	if v == nil {
		return true
	}
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer && val.IsNil() {
		return true
	}
	return dictionaryKey(v) == ""
}

// keySet collects distinct keys in first-seen order.
type keySet struct {
	seen map[string]struct{}
	keys []any
}

func newKeySet() *keySet {
	return &keySet{seen: make(map[string]struct{})}
}

func (s *keySet) add(v any) bool {
	k := dictionaryKey(v)
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	s.keys = append(s.keys, v)
	return true
}

func (s *keySet) len() int { return len(s.keys) }

// castKeys prepares keys for a WHERE IN against a target table. String keyed
// targets get string arguments with empties dropped; other keys pass through.
func castKeys(keys []any, stringKeys bool) []any {
	if !stringKeys {
		return keys
	}
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		s := dictionaryKey(k)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateColumnName guards table and column identifiers that are interpolated
// into SQL.
func ValidateColumnName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %w %q", ErrInvalidConfig, ErrInvalidColumnName, name)
	}
	return nil
}
