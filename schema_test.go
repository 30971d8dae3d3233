package auditrail

import (
	"reflect"
	"slices"
	"testing"
)

type namedEntity struct {
	ID string `audit:"id,pk"`
}

func (namedEntity) ResourceName() string { return "legacy_items" }

func TestDescribeSchema(t *testing.T) {
	t.Parallel()

	fs, err := DescribeSchema(&testUser{})
	if err != nil {
		t.Fatalf("DescribeSchema() error = %v", err)
	}
	if fs.Source != "test_users" {
		t.Fatalf("Source = %q, want %q", fs.Source, "test_users")
	}
	if fs.IDField != "id" {
		t.Fatalf("IDField = %q, want %q", fs.IDField, "id")
	}
	wantFields := []string{"id", "name", "email", "password", "age"}
	if !slices.Equal(fs.Fields, wantFields) {
		t.Fatalf("Fields = %#v, want %#v", fs.Fields, wantFields)
	}
	if !slices.Equal(fs.Embeds, []string{"profile"}) {
		t.Fatalf("Embeds = %#v", fs.Embeds)
	}
	if !slices.Equal(fs.Assocs, []string{"team"}) {
		t.Fatalf("Assocs = %#v", fs.Assocs)
	}
	if slices.Contains(fs.Fields, "secret") || slices.Contains(fs.Fields, "note") {
		t.Fatalf("excluded fields leaked into %#v", fs.Fields)
	}
}

func TestDescribeSchemaResourceNamer(t *testing.T) {
	t.Parallel()

	fs, err := DescribeSchema(namedEntity{})
	if err != nil {
		t.Fatalf("DescribeSchema() error = %v", err)
	}
	if fs.Source != "legacy_items" {
		t.Fatalf("Source = %q, want %q", fs.Source, "legacy_items")
	}
}

func TestDescribeSchemaRejectsNonStruct(t *testing.T) {
	t.Parallel()

	if _, err := DescribeSchema("nope"); err == nil {
		t.Fatal("DescribeSchema() expected error for non-struct")
	}
	if _, err := DescribeSchema(nil); err == nil {
		t.Fatal("DescribeSchema() expected error for nil")
	}
}

func TestToSnakeCase(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		in   string
		want string
	}{
		{in: "CreatedAt", want: "created_at"},
		{in: "ID", want: "id"},
		{in: "APIKey", want: "api_key"},
		{in: "Name", want: "name"},
	}
	for _, tc := range tcs {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			if got := toSnakeCase(tc.in); got != tc.want {
				t.Fatalf("toSnakeCase(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEntityValues(t *testing.T) {
	t.Parallel()

	u := &testUser{ID: "u1", Name: "A", Age: 3}
	vals, err := EntityValues(u)
	if err != nil {
		t.Fatalf("EntityValues() error = %v", err)
	}
	if vals["id"] != "u1" || vals["name"] != "A" || vals["age"] != 3 {
		t.Fatalf("EntityValues() = %#v", vals)
	}
	if _, ok := vals["secret"]; ok {
		t.Fatal("EntityValues() leaked excluded field")
	}
}

func TestApplyValues(t *testing.T) {
	t.Parallel()

	u := &testUser{ID: "u1", Name: "A"}
	got, err := ApplyValues(u, map[string]any{
		"name": "B",
		"age":  int64(9), // driver-width integer
	})
	if err != nil {
		t.Fatalf("ApplyValues() error = %v", err)
	}
	applied, ok := got.(*testUser)
	if !ok {
		t.Fatalf("ApplyValues() returned %T, want *testUser", got)
	}
	if applied.Name != "B" || applied.Age != 9 {
		t.Fatalf("ApplyValues() = %+v", applied)
	}
	if u.Name != "A" {
		t.Fatal("ApplyValues() mutated the input entity")
	}
}

func TestApplyValuesEmbedDocument(t *testing.T) {
	t.Parallel()

	u := testUser{}
	got, err := ApplyValues(u, map[string]any{
		"profile": map[string]any{"bio": "hi", "links": []any{"a"}},
	})
	if err != nil {
		t.Fatalf("ApplyValues() error = %v", err)
	}
	applied := got.(testUser)
	want := testProfile{Bio: "hi", Links: []string{"a"}}
	if !reflect.DeepEqual(applied.Profile, want) {
		t.Fatalf("Profile = %#v, want %#v", applied.Profile, want)
	}
}
