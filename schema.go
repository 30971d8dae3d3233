package auditrail

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// FieldSets describes an entity's declared schema: its logical resource name,
// primary key field, and the partition of its fields into scalars, embedded
// sub-objects, and associations.
type FieldSets struct {
	Source  string
	IDField string
	Fields  []string
	Embeds  []string
	Assocs  []string
}

// ResourceNamer provides a custom resource name for an entity type.
type ResourceNamer interface {
	ResourceName() string
}

// fieldSpec is one declared entity field, resolved from struct tags.
type fieldSpec struct {
	column string
	index  int
	embed  bool
	assoc  bool
	pk     bool
}

// DescribeSchema derives FieldSets from an entity struct via reflection.
//
// Field naming follows the `audit` struct tag, falling back to the snake_case
// form of the Go field name. Tag options: `embed` for inline sub-objects,
// `assoc` for linked entities, `pk` for the identifier field; `audit:"-"`
// excludes a field. Rel-typed fields are associations whether tagged or not,
// and unexported fields are always excluded.
func DescribeSchema(entity any) (FieldSets, error) {
	t, err := structType(entity)
	if err != nil {
		return FieldSets{}, err
	}
	specs, err := fieldSpecs(t)
	if err != nil {
		return FieldSets{}, err
	}

	fs := FieldSets{Source: resolveResourceName(entity, t)}
	for _, s := range specs {
		switch {
		case s.embed:
			fs.Embeds = append(fs.Embeds, s.column)
		case s.assoc:
			fs.Assocs = append(fs.Assocs, s.column)
		default:
			fs.Fields = append(fs.Fields, s.column)
		}
		if s.pk || (fs.IDField == "" && s.column == "id") {
			fs.IDField = s.column
		}
	}
	return fs, nil
}

// EntityValues returns the entity's declared fields as a column → raw value
// mapping. Values are not extracted or redacted.
func EntityValues(entity any) (map[string]any, error) {
	v, err := structValue(entity)
	if err != nil {
		return nil, err
	}
	specs, err := fieldSpecs(v.Type())
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(specs))
	for _, s := range specs {
		out[s.column] = v.Field(s.index).Interface()
	}
	return out, nil
}

// ApplyValues returns a copy of the entity with the given column values set.
// Unknown columns and values that cannot be represented in the target field
// are skipped; the copy has the same pointer-ness as the input.
func ApplyValues(entity any, values map[string]any) (any, error) {
	v, err := structValue(entity)
	if err != nil {
		return nil, err
	}
	specs, err := fieldSpecs(v.Type())
	if err != nil {
		return nil, err
	}

	out := reflect.New(v.Type())
	out.Elem().Set(v)
	for _, s := range specs {
		val, ok := values[s.column]
		if !ok {
			continue
		}
		setField(out.Elem().Field(s.index), val)
	}
	if reflect.ValueOf(entity).Kind() == reflect.Pointer {
		return out.Interface(), nil
	}
	return out.Elem().Interface(), nil
}

// setColumn sets a single named column on an addressable struct value.
// Reports whether the column exists.
func setColumn(v reflect.Value, column string, val any) (bool, error) {
	specs, err := fieldSpecs(v.Type())
	if err != nil {
		return false, err
	}
	for _, s := range specs {
		if s.column == column {
			setField(v.Field(s.index), val)
			return true, nil
		}
	}
	return false, nil
}

var relationType = reflect.TypeOf((*relation)(nil)).Elem()

func fieldSpecs(t reflect.Type) ([]fieldSpec, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("auditrail: entity must be a struct, got %s", t.Kind())
	}
	specs := make([]fieldSpec, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("audit")
		if tag == "-" {
			continue
		}
		s := fieldSpec{column: toSnakeCase(f.Name), index: i}
		if tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				s.column = parts[0]
			}
			for _, opt := range parts[1:] {
				switch opt {
				case "embed":
					s.embed = true
				case "assoc":
					s.assoc = true
				case "pk":
					s.pk = true
				}
			}
		}
		if f.Type.Implements(relationType) {
			s.assoc = true
			s.embed = false
		}
		specs = append(specs, s)
	}
	return specs, nil
}

func resolveResourceName(entity any, t reflect.Type) string {
	if namer, ok := entity.(ResourceNamer); ok {
		if name := strings.TrimSpace(namer.ResourceName()); name != "" {
			return name
		}
	}
	if t.Name() == "" {
		return ""
	}
	return inflection.Plural(toSnakeCase(t.Name()))
}

// structType resolves the underlying struct type, following pointers.
func structType(entity any) (reflect.Type, error) {
	if entity == nil {
		return nil, fmt.Errorf("auditrail: nil entity")
	}
	t := reflect.TypeOf(entity)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("auditrail: entity must be a struct, got %s", t.Kind())
	}
	return t, nil
}

func structValue(entity any) (reflect.Value, error) {
	if entity == nil {
		return reflect.Value{}, fmt.Errorf("auditrail: nil entity")
	}
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("auditrail: nil entity pointer %T", entity)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("auditrail: entity must be a struct, got %s", v.Kind())
	}
	return v, nil
}

// setField assigns val to field on a best-effort basis. Driver values come
// back wider than the declared field (int64 for int, []byte for string,
// decoded JSON maps for embeds), so conversion is lenient and unrepresentable
// values are left alone.
func setField(field reflect.Value, val any) {
	if !field.CanSet() {
		return
	}
	if val == nil {
		field.Set(reflect.Zero(field.Type()))
		return
	}
	rv := reflect.ValueOf(val)
	switch {
	case rv.Type().AssignableTo(field.Type()):
		field.Set(rv)
	case rv.Type().ConvertibleTo(field.Type()) && convertibleKinds(rv.Kind(), field.Kind()):
		field.Set(rv.Convert(field.Type()))
	default:
		// JSON round trip covers decoded embed documents.
		b, err := json.Marshal(val)
		if err != nil {
			return
		}
		_ = json.Unmarshal(b, field.Addr().Interface())
	}
}

func convertibleKinds(from, to reflect.Kind) bool {
	if from == to {
		return true
	}
	numeric := func(k reflect.Kind) bool {
		return k >= reflect.Int && k <= reflect.Float64
	}
	if numeric(from) && numeric(to) {
		return true
	}
	if (from == reflect.String || from == reflect.Slice) && (to == reflect.String || to == reflect.Slice) {
		return true
	}
	return false
}

// toSnakeCase converts a Go identifier to its snake_case column form.
func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
