package manytomorph

import (
	"database/sql"
	"reflect"
)

// scanEntities hydrates every row into a fresh *T of info.Type. Columns
// without a mapped field are read and discarded.
func scanEntities(rows *sql.Rows, info *ModelInfo) ([]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []any
	for rows.Next() {
		ptr := reflect.New(info.Type)
		val := ptr.Elem()

		// scan into holders first so driver types can be converted per field
		holders := make([]any, len(columns))
		for i := range columns {
			holders[i] = new(any)
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}

		for i, col := range columns {
			f, ok := info.Columns[col]
			if !ok {
				continue
			}
			v := *(holders[i].(*any))
			if v == nil {
				continue
			}
			fv := val.FieldByIndex(f.Index)
			if fv.CanSet() {
				assignValue(fv, v)
			}
		}
		out = append(out, ptr.Interface())
	}
	return out, rows.Err()
}

// scanMaps reads every row into a column map, normalizing []byte to string.
func scanMaps(rows *sql.Rows) ([]map[string]any, []string, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []map[string]any
	for rows.Next() {
		holders := make([]any, len(columns))
		for i := range columns {
			holders[i] = new(any)
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := *(holders[i].(*any))
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, columns, rows.Err()
}
