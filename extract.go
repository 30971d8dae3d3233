package auditrail

import (
	"fmt"
	"reflect"
	"time"
)

// valueKind is the variant tag for extracted values. Classification happens
// once at the call boundary; each variant has its own handler below.
type valueKind int

const (
	kindNil valueKind = iota
	kindScalar
	kindMap
	kindList
	kindStruct
	kindRelation
	kindRich
)

type node struct {
	kind  valueKind
	value any
}

// extractChanges converts a pending change mapping into its flat serializable
// form: exactly the altered fields, recursively extracted. Association-valued
// fields that were never loaded become null.
func extractChanges(changes map[string]any, fs FieldSets) map[string]any {
	out := make(map[string]any, len(changes))
	for field, v := range changes {
		if containsField(fs.Assocs, field) {
			out[field] = extractRelation(v)
			continue
		}
		out[field] = extractValue(classify(v))
	}
	return out
}

// snapshot extracts every declared field of a materialized entity. Used for
// delete entries and log-only calls, where there is no pending change set.
func snapshot(entity any, fs FieldSets) (map[string]any, error) {
	vals, err := EntityValues(entity)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(vals))
	for _, f := range fs.Fields {
		if v, ok := vals[f]; ok {
			out[f] = extractValue(classify(v))
		}
	}
	for _, f := range fs.Embeds {
		if v, ok := vals[f]; ok {
			out[f] = extractValue(classify(v))
		}
	}
	for _, f := range fs.Assocs {
		if v, ok := vals[f]; ok {
			out[f] = extractRelation(v)
		}
	}
	return out, nil
}

// classify resolves a value to its variant exactly once.
func classify(v any) node {
	switch t := v.(type) {
	case nil:
		return node{kind: kindNil}
	case relation:
		return node{kind: kindRelation, value: t}
	case time.Time, fmt.Stringer, error:
		return node{kind: kindRich, value: v}
	case []byte:
		return node{kind: kindRich, value: v}
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return node{kind: kindNil}
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return node{kind: kindScalar, value: rv.Interface()}
	case reflect.Map:
		return node{kind: kindMap, value: rv.Interface()}
	case reflect.Slice, reflect.Array:
		return node{kind: kindList, value: rv.Interface()}
	case reflect.Struct:
		return node{kind: kindStruct, value: rv.Interface()}
	default:
		return node{kind: kindRich, value: rv.Interface()}
	}
}

func extractValue(n node) any {
	switch n.kind {
	case kindNil:
		return nil
	case kindScalar:
		return n.value
	case kindMap:
		return extractMap(n.value)
	case kindList:
		return extractList(n.value)
	case kindStruct:
		return extractStruct(n.value)
	case kindRelation:
		return extractRelation(n.value)
	default:
		return stringify(n.value)
	}
}

// extractMap recursively extracts map values; keys are normalized to text.
func extractMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := normalizeID(iter.Key().Interface())
		out[key] = extractValue(classify(iter.Value().Interface()))
	}
	return out
}

// extractList extracts element-wise, preserving order.
func extractList(v any) []any {
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = extractValue(classify(rv.Index(i).Interface()))
	}
	return out
}

// extractStruct renders a struct as a nested document of its declared fields,
// falling back to a textual representation for types with no usable schema.
func extractStruct(v any) any {
	fs, err := DescribeSchema(v)
	if err != nil {
		return stringify(v)
	}
	if len(fs.Fields) == 0 && len(fs.Embeds) == 0 && len(fs.Assocs) == 0 {
		return stringify(v)
	}
	m, err := snapshot(v, fs)
	if err != nil {
		return stringify(v)
	}
	return m
}

// extractRelation maps an unloaded association to null and recurses into a
// loaded one.
func extractRelation(v any) any {
	r, ok := v.(relation)
	if !ok {
		return extractValue(classify(v))
	}
	val, loaded := r.relValue()
	if !loaded {
		return nil
	}
	return extractValue(classify(val))
}

// stringify renders rich typed values in human-readable textual form.
func stringify(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
