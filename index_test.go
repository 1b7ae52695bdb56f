package redisom

import (
	"fmt"
	"strings"
	"testing"
)

func TestBuildCreateArgsHashLayout(t *testing.T) {
	s, err := Compile(flatSchema(false))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	args := BuildCreateArgs(s)
	if args[0] != "FT.CREATE" || args[1] != IndexName(s.Meta) {
		t.Fatalf("args head = %v", args[:2])
	}
	if args[2] != "ON" || args[3] != "HASH" {
		t.Fatalf("expected ON HASH, got %v", args[2:4])
	}
	if args[4] != "PREFIX" || args[5] != 1 || args[6] != KeyPrefix(s.Meta) {
		t.Fatalf("expected PREFIX 1 %q, got %v", KeyPrefix(s.Meta), args[4:7])
	}

	var joined []string
	for _, a := range args {
		joined = append(joined, toStr(a))
	}
	full := strings.Join(joined, " ")
	if !strings.Contains(full, "name TAG") {
		t.Fatalf("expected TAG clause for name field, got %q", full)
	}
	if !strings.Contains(full, "age NUMERIC SORTABLE") {
		t.Fatalf("expected sortable NUMERIC clause for age field, got %q", full)
	}
}

func TestBuildCreateArgsDocumentLayoutUsesJSONPathAndAlias(t *testing.T) {
	rs := RecordSchema{
		Name: "Thing",
		Meta: Meta{Layout: Document},
		Fields: []FieldSpec{
			StringField("id", PrimaryKey()),
			EmbeddedField("address", []FieldSpec{StringField("city", Indexed())}),
		},
	}
	s, err := Compile(rs)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	args := BuildCreateArgs(s)
	var joined []string
	for _, a := range args {
		joined = append(joined, toStr(a))
	}
	full := strings.Join(joined, " ")
	if !strings.Contains(full, "$.address.city AS address_city TAG") {
		t.Fatalf("expected JSON path + alias clause, got %q", full)
	}
}

func TestBuildCreateArgsVectorField(t *testing.T) {
	rs := RecordSchema{
		Name: "Thing",
		Meta: Meta{Layout: Document},
		Fields: []FieldSpec{
			StringField("id", PrimaryKey()),
			VectorField("vec", Indexed(), WithVector(VectorOptions{
				Algorithm: VectorHNSW, DType: VectorFloat32, Dimension: 4, Metric: MetricCosine, M: 16,
			})),
		},
	}
	s, err := Compile(rs)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	args := BuildCreateArgs(s)
	var joined []string
	for _, a := range args {
		joined = append(joined, toStr(a))
	}
	full := strings.Join(joined, " ")
	if !strings.Contains(full, "VECTOR HNSW") || !strings.Contains(full, "TYPE FLOAT32") || !strings.Contains(full, "M 16") {
		t.Fatalf("expected HNSW vector clause, got %q", full)
	}
}

func toStr(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
