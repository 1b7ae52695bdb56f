package redisom

import (
	"errors"
	"strings"
	"testing"
)

func queryTestSchema(t *testing.T) *CompiledSchema {
	t.Helper()
	rs := RecordSchema{
		Name: "Product",
		Meta: Meta{Layout: Document, GlobalKeyPrefix: "app", ModelKeyPrefix: "product"},
		Fields: []FieldSpec{
			StringField("id", PrimaryKey()),
			StringField("name", Indexed(), Sortable()),
			StringField("city", Indexed()),
			StringField("bio", Indexed(), FullText()),
			IntField("age", Indexed(), Sortable()),
			StringListField("tags", Indexed()),
			GeoField("loc", Indexed()),
			VectorField("vec", Indexed(), WithVector(VectorOptions{
				Algorithm: VectorFlat, DType: VectorFloat32, Dimension: 2, Metric: MetricL2,
			})),
		},
	}
	s, err := Compile(rs)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return s
}

func TestEscapeTag(t *testing.T) {
	got := escapeTag("a-b c")
	want := `a\-b\ c`
	if got != want {
		t.Fatalf("escapeTag = %q, want %q", got, want)
	}
	if escapeTag("plain") != "plain" {
		t.Fatalf("escapeTag should leave unescaped text alone")
	}
}

func TestValidateSortErrors(t *testing.T) {
	s := queryTestSchema(t)

	if err := ValidateSort(s, SortSpec{Field: "missing"}); !errors.Is(err, ErrE6) {
		t.Fatalf("expected ErrE6 for unknown sort field, got %v", err)
	}
	if err := ValidateSort(s, SortSpec{Field: "city"}); !errors.Is(err, ErrE2) {
		t.Fatalf("expected ErrE2 for non-sortable field, got %v", err)
	}
	if err := ValidateSort(s, SortSpec{Field: "name"}); err != nil {
		t.Fatalf("expected no error for sortable field, got %v", err)
	}
}

func TestCompileQueryEquality(t *testing.T) {
	s := queryTestSchema(t)
	args, err := CompileQuery(Eq("name", "ada"), s, CompileOptions{})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	if args[0] != IndexName(s.Meta) {
		t.Fatalf("args[0] = %v, want index name", args[0])
	}
	query, ok := args[1].(string)
	if !ok || !strings.Contains(query, "@name:{ada}") {
		t.Fatalf("query = %v, want clause containing @name:{ada}", args[1])
	}
}

func TestCompileQueryRangeRequiresNumeric(t *testing.T) {
	s := queryTestSchema(t)
	if _, err := CompileQuery(Gt("name", 1), s, CompileOptions{}); !errors.Is(err, ErrE10) {
		t.Fatalf("expected ErrE10 for range on non-numeric field, got %v", err)
	}
}

func TestCompileQueryMatchRequiresText(t *testing.T) {
	s := queryTestSchema(t)
	if _, err := CompileQuery(Match("name", "hello"), s, CompileOptions{}); !errors.Is(err, ErrE3) {
		t.Fatalf("expected ErrE3 for Match on non-TEXT field, got %v", err)
	}
	args, err := CompileQuery(Match("bio", "hello"), s, CompileOptions{})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	if !strings.Contains(args[1].(string), "@bio:(hello)") {
		t.Fatalf("query = %v, want @bio:(hello)", args[1])
	}
}

func TestCompileQueryInRequiresListField(t *testing.T) {
	s := queryTestSchema(t)
	if _, err := CompileQuery(In("name", "a"), s, CompileOptions{}); !errors.Is(err, ErrE1) {
		t.Fatalf("expected ErrE1 for In() on non-list field, got %v", err)
	}
	args, err := CompileQuery(In("tags", "a", "b"), s, CompileOptions{})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	if !strings.Contains(args[1].(string), "@tags:{a|b}") {
		t.Fatalf("query = %v, want @tags:{a|b}", args[1])
	}
}

func TestCompileQueryGeoWithin(t *testing.T) {
	s := queryTestSchema(t)
	args, err := CompileQuery(GeoWithin("loc", 40.7, -74.0, 1000, "m"), s, CompileOptions{})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	if !strings.Contains(args[1].(string), "@loc:[-74 40.7 1000 m]") {
		t.Fatalf("query = %v, want geo radius clause", args[1])
	}
}

func TestCompileQueryKNNWithFilter(t *testing.T) {
	s := queryTestSchema(t)
	e := And(Eq("name", "ada"), KNN("vec", 5, []float32{1, 2}))
	args, err := CompileQuery(e, s, CompileOptions{})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	query := args[1].(string)
	if !strings.Contains(query, "KNN 5 @vec $BLOB") || !strings.Contains(query, "@name:{ada}") {
		t.Fatalf("query = %q, want KNN wrapping the filter", query)
	}
	found := false
	for _, a := range args {
		if a == "DIALECT" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected DIALECT 2 to be appended for KNN queries")
	}
}

func TestCompileQueryRejectsTwoKNNLeaves(t *testing.T) {
	s := queryTestSchema(t)
	e := And(KNN("vec", 5, []float32{1, 2}), KNN("vec", 3, []float32{3, 4}))
	if _, err := CompileQuery(e, s, CompileOptions{}); !errors.Is(err, ErrE8) {
		t.Fatalf("expected ErrE8 for two KNN leaves, got %v", err)
	}
}

func TestCompileQueryRejectsKNNUnderOr(t *testing.T) {
	s := queryTestSchema(t)
	e := Or(KNN("vec", 5, []float32{1, 2}), Eq("name", "ada"))
	if _, err := CompileQuery(e, s, CompileOptions{}); !errors.Is(err, ErrE8) {
		t.Fatalf("expected ErrE8 for KNN nested under OR, got %v", err)
	}
}

func TestCompileQueryRejectsKNNUnderNot(t *testing.T) {
	s := queryTestSchema(t)
	e := Not(KNN("vec", 5, []float32{1, 2}))
	if _, err := CompileQuery(e, s, CompileOptions{}); !errors.Is(err, ErrE8) {
		t.Fatalf("expected ErrE8 for KNN nested under NOT, got %v", err)
	}
}

func TestCompileQueryLimitDefaulting(t *testing.T) {
	s := queryTestSchema(t)

	args, err := CompileQuery(Eq("name", "a"), s, CompileOptions{})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	if !containsLimitArgs(args, 0, 1000) {
		t.Fatalf("args = %v, want default LIMIT 0 1000", args)
	}

	args, err = CompileQuery(Eq("name", "a"), s, CompileOptions{DefaultLimit: 50})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	if !containsLimitArgs(args, 0, 50) {
		t.Fatalf("args = %v, want LIMIT 0 50", args)
	}

	args, err = CompileQuery(Eq("name", "a"), s, CompileOptions{Offset: 10, Count: 20})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	if !containsLimitArgs(args, 10, 20) {
		t.Fatalf("args = %v, want LIMIT 10 20", args)
	}

	args, err = CompileQuery(Eq("name", "a"), s, CompileOptions{Offset: 10, Count: 20, CountOnly: true})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	if !containsLimitArgs(args, 0, 0) {
		t.Fatalf("args = %v, want LIMIT 0 0 when CountOnly is set", args)
	}
}

func containsLimitArgs(args []interface{}, offset, count int) bool {
	for i := 0; i+2 < len(args); i++ {
		if args[i] == "LIMIT" && args[i+1] == offset && args[i+2] == count {
			return true
		}
	}
	return false
}

func TestCompileQuerySortAndReturn(t *testing.T) {
	s := queryTestSchema(t)
	args, err := CompileQuery(Eq("name", "a"), s, CompileOptions{
		Sort:   &SortSpec{Field: "age", Desc: true},
		Return: []string{"name", "age"},
	})
	if err != nil {
		t.Fatalf("CompileQuery: %v", err)
	}
	var hasSortBy, hasDesc, hasReturn bool
	for i, a := range args {
		if a == "SORTBY" && i+1 < len(args) && args[i+1] == "age" {
			hasSortBy = true
		}
		if a == "DESC" {
			hasDesc = true
		}
		if a == "RETURN" {
			hasReturn = true
		}
	}
	if !hasSortBy || !hasDesc || !hasReturn {
		t.Fatalf("args = %v, missing SORTBY/DESC/RETURN", args)
	}
}

func TestCompileQuerySortValidation(t *testing.T) {
	s := queryTestSchema(t)
	_, err := CompileQuery(Eq("name", "a"), s, CompileOptions{Sort: &SortSpec{Field: "city"}})
	if !errors.Is(err, ErrE2) {
		t.Fatalf("expected ErrE2 for non-sortable sort field, got %v", err)
	}
}

func TestCompileQueryUnknownFieldRejected(t *testing.T) {
	s := queryTestSchema(t)
	_, err := CompileQuery(Eq("nope", "x"), s, CompileOptions{})
	if !errors.Is(err, ErrE6) {
		t.Fatalf("expected ErrE6 for unknown field, got %v", err)
	}
}
