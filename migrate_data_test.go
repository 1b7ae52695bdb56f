package redisom

import (
	"errors"
	"testing"
)

func TestDataMigratorOrderTopologicalSort(t *testing.T) {
	m := NewDataMigrator(nil, []*DataMigration{
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	})
	ordered, err := m.order()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if len(ordered) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(ordered))
	}
	pos := map[string]int{}
	for i, dm := range ordered {
		pos[dm.ID] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("dependency order violated: %v", pos)
	}
}

func TestDataMigratorOrderDeterministic(t *testing.T) {
	migs := []*DataMigration{
		{ID: "z"},
		{ID: "y"},
		{ID: "x"},
	}
	m := NewDataMigrator(nil, migs)
	ordered1, err := m.order()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	ordered2, err := m.order()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	for i := range ordered1 {
		if ordered1[i].ID != ordered2[i].ID {
			t.Fatalf("order is not deterministic across calls: %v vs %v", ordered1, ordered2)
		}
	}
	// With no dependencies, visiting order is by sorted id.
	want := []string{"x", "y", "z"}
	for i, id := range want {
		if ordered1[i].ID != id {
			t.Fatalf("ordered1[%d] = %q, want %q", i, ordered1[i].ID, id)
		}
	}
}

func TestDataMigratorOrderDetectsCycle(t *testing.T) {
	m := NewDataMigrator(nil, []*DataMigration{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	_, err := m.order()
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("expected a *MigrationError for a cyclic dependency graph, got %v", err)
	}
}

func TestDataMigratorOrderUnregisteredDependency(t *testing.T) {
	m := NewDataMigrator(nil, []*DataMigration{
		{ID: "a", DependsOn: []string{"ghost"}},
	})
	_, err := m.order()
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("expected a *MigrationError for an unregistered dependency, got %v", err)
	}
}

func TestIsNumericLiteral(t *testing.T) {
	cases := map[string]bool{
		"123":                true,
		"123.456":            true,
		"-5":                 true,
		"1.7105e9":           true,
		"2024-03-15T00:00:00Z": false,
		"":                   false,
		"abc":                false,
	}
	for in, want := range cases {
		if got := isNumericLiteral(in); got != want {
			t.Errorf("isNumericLiteral(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDatetimeFields(t *testing.T) {
	rs := RecordSchema{
		Name: "Event",
		Meta: Meta{Layout: Document},
		Fields: []FieldSpec{
			StringField("id", PrimaryKey()),
			StringField("name", Indexed()),
			DateTimeField("starts_at", Indexed()),
			DateField("day", Indexed()),
		},
	}
	s, err := Compile(rs)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	fields := datetimeFields(s)
	if len(fields) != 2 {
		t.Fatalf("expected 2 datetime fields, got %d: %+v", len(fields), fields)
	}
	names := map[string]bool{}
	for _, f := range fields {
		names[f.Name] = true
	}
	if !names["starts_at"] || !names["day"] {
		t.Fatalf("expected starts_at and day among datetime fields, got %+v", fields)
	}
}

func TestSortedSchemaNames(t *testing.T) {
	registry := map[string]*CompiledSchema{
		"Zebra": {},
		"Alpha": {},
		"Mango": {},
	}
	names := sortedSchemaNames(registry)
	want := []string{"Alpha", "Mango", "Zebra"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestParseFTInfoAttributeKinds(t *testing.T) {
	reply := []interface{}{
		"index_name", "app:event:index",
		"attributes", []interface{}{
			[]interface{}{"identifier", "$.starts_at", "attribute", "starts_at", "type", "TAG"},
			[]interface{}{"identifier", "$.name", "attribute", "name", "type", "TAG"},
		},
	}
	kinds := parseFTInfoAttributeKinds(reply)
	if kinds["starts_at"] != "TAG" {
		t.Fatalf("kinds[starts_at] = %q, want TAG", kinds["starts_at"])
	}
	if kinds["name"] != "TAG" {
		t.Fatalf("kinds[name] = %q, want TAG", kinds["name"])
	}
}

func TestParseFTInfoAttributeKindsMissingAttributes(t *testing.T) {
	reply := []interface{}{"index_name", "app:event:index"}
	if kinds := parseFTInfoAttributeKinds(reply); kinds != nil {
		t.Fatalf("expected nil map when no attributes entry present, got %v", kinds)
	}
}

func TestParseFTInfoAttributeKindsMalformedReply(t *testing.T) {
	if kinds := parseFTInfoAttributeKinds("not-an-array"); kinds != nil {
		t.Fatalf("expected nil map for malformed reply, got %v", kinds)
	}
}
